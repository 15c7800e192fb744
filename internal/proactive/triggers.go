package proactive

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

// Trigger is one combined-signal predicate. Evaluate returns nil when
// inputs are absent or the condition does not hold.
type Trigger struct {
	ID       string
	Cooldown float64
	Evaluate func(dc model.DeviceContext, p model.Patterns, now time.Time) *model.Insight
}

const fallbackDrainPerHour = 0.04

// DefaultTriggers returns the fixed, ordered trigger table.
func DefaultTriggers() []Trigger {
	return []Trigger{
		{ID: "low-battery-away", Cooldown: 4 * 3600, Evaluate: lowBatteryAway},
		{ID: "unusual-inactivity", Cooldown: 6 * 3600, Evaluate: unusualInactivity},
		{ID: "sleep-deficit", Cooldown: 24 * 3600, Evaluate: sleepDeficit},
		{ID: "routine-deviation", Cooldown: 4 * 3600, Evaluate: routineDeviation},
		{ID: "health-weekly-digest", Cooldown: 7 * 86400, Evaluate: healthWeeklyDigest},
	}
}

func lowBatteryAway(dc model.DeviceContext, p model.Patterns, _ time.Time) *model.Insight {
	b := dc.Device.Battery
	if b == nil || b.Level >= 0.3 {
		return nil
	}
	if dc.Activity.CurrentZone == "Home" {
		return nil
	}
	drain := fallbackDrainPerHour
	if p.BatteryPatterns.AvgDrainPerHour != nil && *p.BatteryPatterns.AvgDrainPerHour > 0 {
		drain = *p.BatteryPatterns.AvgDrainPerHour
	}
	hours := math.Round(b.Level / drain)
	priority := "normal"
	if b.Level < 0.15 {
		priority = "high"
	}
	return &model.Insight{
		ID:       "low-battery-away",
		Priority: priority,
		Message: fmt.Sprintf("\U0001FAAB Battery at %.0f%% while away from home, roughly %.0fh remaining.",
			b.Level*100, hours),
	}
}

func unusualInactivity(dc model.DeviceContext, p model.Patterns, now time.Time) *model.Insight {
	if now.Hour() < 12 {
		return nil
	}
	h := dc.Device.Health
	if h == nil || h.StepsToday == nil || p.HealthTrends.StepsAvg7d == nil {
		return nil
	}
	expected := *p.HealthTrends.StepsAvg7d * float64(now.Hour()) / 24
	if *h.StepsToday >= 0.5*expected {
		return nil
	}
	return &model.Insight{
		ID:       "unusual-inactivity",
		Priority: "normal",
		Message: fmt.Sprintf("\U0001F45F Only %.0f steps by %02d:00, usually around %.0f by now.",
			*h.StepsToday, now.Hour(), expected),
	}
}

func sleepDeficit(dc model.DeviceContext, p model.Patterns, now time.Time) *model.Insight {
	if now.Hour() < 7 || now.Hour() > 10 {
		return nil
	}
	h := dc.Device.Health
	if h == nil || h.SleepDurationSeconds == nil || p.HealthTrends.SleepAvg7d == nil {
		return nil
	}
	deficit := *p.HealthTrends.SleepAvg7d - *h.SleepDurationSeconds
	if deficit < 3600 {
		return nil
	}
	return &model.Insight{
		ID:       "sleep-deficit",
		Priority: "normal",
		Message: fmt.Sprintf("\U0001F634 Slept %.1fh, about %.1fh less than your 7-day average.",
			*h.SleepDurationSeconds/3600, deficit/3600),
	}
}

func routineDeviation(dc model.DeviceContext, p model.Patterns, now time.Time) *model.Insight {
	dow := int(now.Weekday())
	if dow < 1 || dow > 5 {
		return nil
	}
	if dc.Activity.CurrentZone == "" {
		return nil
	}
	frac := float64(now.Hour()) + float64(now.Minute())/60
	for _, routine := range p.LocationRoutines.Weekday {
		if routine.TypicalLeave == "" || routine.Zone != dc.Activity.CurrentZone {
			continue
		}
		leave, ok := parseClock(routine.TypicalLeave)
		if !ok {
			continue
		}
		if frac > leave+1.5 {
			return &model.Insight{
				ID:       "routine-deviation",
				Priority: "normal",
				Message: fmt.Sprintf("⏰ Still at %s at %02d:%02d, usually leave around %s.",
					routine.Zone, now.Hour(), now.Minute(), routine.TypicalLeave),
			}
		}
	}
	return nil
}

func healthWeeklyDigest(dc model.DeviceContext, p model.Patterns, now time.Time) *model.Insight {
	if now.Weekday() != time.Sunday || now.Hour() < 9 || now.Hour() > 11 {
		return nil
	}
	t := p.HealthTrends
	if t.StepsAvg7d == nil && t.SleepAvg7d == nil && t.RestingHRAvg7d == nil {
		return nil
	}
	var lines []string
	lines = append(lines, "\U0001F4CA Weekly health digest:")
	if t.StepsAvg7d != nil {
		lines = append(lines, fmt.Sprintf("steps %.0f/day (%s)", *t.StepsAvg7d, t.StepsTrend))
	}
	if t.SleepAvg7d != nil {
		lines = append(lines, fmt.Sprintf("sleep %.1fh (%s)", *t.SleepAvg7d/3600, t.SleepTrend))
	}
	if t.RestingHRAvg7d != nil {
		lines = append(lines, fmt.Sprintf("resting HR %.0f bpm (%s)", *t.RestingHRAvg7d, t.RestingHRTrend))
	}
	lines = append(lines, fmt.Sprintf("%.1f events/day, %.0f%% dropped",
		p.EventStats.EventsPerDay, p.EventStats.DropRate*100))
	return &model.Insight{
		ID:       "health-weekly-digest",
		Priority: "low",
		Message:  strings.Join(lines, " "),
	}
}

// parseClock reads "HH:MM" back into a fractional hour.
func parseClock(s string) (float64, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return float64(h) + float64(m)/60, true
}
