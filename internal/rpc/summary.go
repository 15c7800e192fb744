package rpc

import (
	"fmt"
	"strings"
	"time"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

// Summary renders the human-readable device status line block used by
// the /bc command.
func Summary(dc model.DeviceContext, now float64) string {
	var lines []string

	if b := dc.Device.Battery; b != nil {
		line := fmt.Sprintf("Battery: %.0f%%", b.Level*100)
		if b.State != "" {
			line += " (" + b.State + ")"
		}
		if b.IsLowPowerMode {
			line += " [low power]"
		}
		lines = append(lines, line)
	} else {
		lines = append(lines, "Battery: unknown")
	}

	if loc := dc.Device.Location; loc != nil {
		if loc.Label != "" {
			lines = append(lines, "Location: "+loc.Label)
		} else {
			lines = append(lines, fmt.Sprintf("Location: %.4f, %.4f", loc.Latitude, loc.Longitude))
		}
	} else {
		lines = append(lines, "Location: unknown")
	}

	if zone := dc.Activity.CurrentZone; zone != "" {
		line := "Zone: " + zone
		if dc.Activity.ZoneEnteredAt > 0 && now > dc.Activity.ZoneEnteredAt {
			d := time.Duration(now-dc.Activity.ZoneEnteredAt) * time.Second
			line += fmt.Sprintf(" (for %s)", formatDuration(d))
		}
		lines = append(lines, line)
	} else {
		lines = append(lines, "Zone: none")
	}

	if h := dc.Device.Health; h != nil && h.StepsToday != nil {
		lines = append(lines, fmt.Sprintf("Steps today: %.0f", *h.StepsToday))
	}

	lines = append(lines, fmt.Sprintf("Today: %d events, %d pushes", dc.Meta.EventsToday, dc.Meta.PushesToday))
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
