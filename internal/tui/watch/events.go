package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/facegate/internal/events"
)

const visibleEvents = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= visibleEvents {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.WorkerRunning:
		typeStyle = theme.StatusOK
	case events.WorkerExited:
		typeStyle = theme.StatusFailed
	case events.WorkerStarting:
		typeStyle = theme.StatusPending
	case events.SessionOpened, events.SessionClosed:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-16s", e.Type)), describeEvent(e))
}

func describeEvent(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if w, ok := data["worker"].(string); ok {
		parts = append(parts, w)
	}
	if pid, ok := data["pid"].(float64); ok {
		parts = append(parts, fmt.Sprintf("pid=%d", int(pid)))
	}
	if code, ok := data["exit_code"].(float64); ok {
		parts = append(parts, fmt.Sprintf("exit=%d", int(code)))
	}
	if id, ok := data["session_id"].(string); ok {
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", id))
	}
	if remote, ok := data["remote"].(string); ok {
		parts = append(parts, remote)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
