package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/facegate/internal/supervisor"
)

func newWorkerTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Worker", Width: 20},
			{Title: "Status", Width: 10},
			{Title: "PID", Width: 8},
			{Title: "Exit", Width: 6},
			{Title: "Restarts", Width: 9},
			{Title: "Uptime", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(6),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// workerRows renders a snapshot as table rows, in snapshot order.
func workerRows(workers []supervisor.WorkerInfo, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(workers))
	for _, w := range workers {
		pid, exit, uptime := "-", "-", "-"
		if w.PID > 0 {
			pid = fmt.Sprint(w.PID)
		}
		if w.ExitCode != nil {
			exit = fmt.Sprint(*w.ExitCode)
		}
		if w.Status == supervisor.StatusRunning && !w.StartedAt.IsZero() {
			uptime = formatDuration(now.Sub(w.StartedAt))
		}
		rows = append(rows, table.Row{w.Name, string(w.Status), pid, exit, fmt.Sprint(w.Restarts), uptime})
	}
	return rows
}

func renderWorkers(t table.Model, count int, theme Theme, width int) string {
	body := t.View()
	if count == 0 {
		body = theme.Dim.Render("  No supervised workers")
	}
	content := lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("WORKERS"), body)
	return theme.Border.Width(width - 4).Render(content)
}
