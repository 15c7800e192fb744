package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

// BuildMessage renders the enriched agent message: an emoji-prefixed
// per-source body, a one-line context summary, and the outer prefix.
// Debug events carry a distinct prefix so test traffic is obvious in
// the session.
func BuildMessage(ev model.DeviceEvent, dc model.DeviceContext) string {
	prefix := "\U0001F4F2 Device event:"
	if v, ok := ev.Num("_debugFired"); ok && v == 1.0 {
		prefix = "\U0001F9EA Device event (debug):"
	}
	return prefix + " " + eventBody(ev) + "\n" + contextSummary(dc)
}

func eventBody(ev model.DeviceEvent) string {
	switch {
	case ev.Source == "device.battery":
		level, _ := ev.Num("level")
		icon := "\U0001F50B"
		if level < 0.2 {
			icon = "\U0001FAAB"
		}
		body := fmt.Sprintf("%s Battery at %.0f%%", icon, level*100)
		if state := ev.Meta("state"); state != "" {
			body += " (" + state + ")"
		}
		return body
	case ev.Source == "geofence.triggered":
		zone := ev.Meta("zoneName")
		if zone == "" {
			zone = "Unknown"
		}
		if ev.Meta("transition") == "exit" {
			return "\U0001F4CD Left " + zone
		}
		return "\U0001F4CD Arrived at " + zone
	case strings.HasPrefix(ev.Source, "health"):
		if steps, ok := ev.Num("stepsToday"); ok {
			return fmt.Sprintf("❤️ Health update: %.0f steps today", steps)
		}
		return "❤️ Health update"
	default:
		keys := make([]string, 0, len(ev.Data))
		for k := range ev.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%g", k, ev.Data[k]))
		}
		return fmt.Sprintf("\U0001F4DF %s: %s", ev.Source, strings.Join(parts, " "))
	}
}

func contextSummary(dc model.DeviceContext) string {
	parts := []string{}
	if b := dc.Device.Battery; b != nil {
		parts = append(parts, fmt.Sprintf("battery %.0f%%", b.Level*100))
	}
	if zone := dc.Activity.CurrentZone; zone != "" {
		parts = append(parts, "at "+zone)
	}
	if h := dc.Device.Health; h != nil && h.StepsToday != nil {
		parts = append(parts, fmt.Sprintf("%.0f steps", *h.StepsToday))
	}
	parts = append(parts, fmt.Sprintf("%d events / %d pushes today", dc.Meta.EventsToday, dc.Meta.PushesToday))
	return "Context: " + strings.Join(parts, ", ")
}
