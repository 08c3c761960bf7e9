package watch

import (
	"strings"
	"time"
)

const activityDots = 5

// Activity lights up on each event and fades one dot every two seconds.
type Activity struct {
	dots      int
	lastEvent time.Time
}

func (a *Activity) OnEvent(now time.Time) {
	a.dots = activityDots
	a.lastEvent = now
}

func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	faded := int(now.Sub(a.lastEvent) / (2 * time.Second))
	a.dots = max(activityDots-faded, 0)
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range activityDots {
		if i < a.dots {
			b.WriteString(theme.DotActive.Render("●"))
		} else {
			b.WriteString(theme.DotInactive.Render("○"))
		}
	}
	return b.String()
}

func (a Activity) LastEvent() time.Time { return a.lastEvent }
