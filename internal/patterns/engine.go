package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/contextstore"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/eventlog"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

// Engine is the periodic offline analyzer: it reads the journal window,
// derives routines, health trends, battery patterns and event stats,
// writes patterns.json (preserving trigger cooldowns) and rotates the
// journal.
type Engine struct {
	log        *eventlog.Log
	store      *contextstore.Store
	windowDays int
	loc        *time.Location
	logger     *slog.Logger
	now        func() float64
}

func NewEngine(log *eventlog.Log, store *contextstore.Store, windowDays int, loc *time.Location, logger *slog.Logger) *Engine {
	if windowDays <= 0 {
		windowDays = 14
	}
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		log:        log,
		store:      store,
		windowDays: windowDays,
		loc:        loc,
		logger:     logger,
		now:        func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

func (e *Engine) Run(ctx context.Context) error {
	now := e.now()
	entries, err := e.log.ReadSince(now - float64(e.windowDays)*86400)
	if err != nil {
		return err
	}
	p := e.Compute(entries, now)
	// Replace the document wholesale but carry the prior trigger
	// cooldowns, all under one hold of the patterns lock.
	err = e.store.UpdatePatterns(func(prior *model.Patterns) {
		p.TriggerCooldowns = prior.TriggerCooldowns
		*prior = p
	})
	if err != nil {
		return err
	}
	dropped, err := e.log.Rotate(now)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("journal rotation failed", "err", err)
		}
	} else if dropped > 0 && e.logger != nil {
		e.logger.Info("journal rotated", "dropped", dropped)
	}
	if e.logger != nil {
		e.logger.Info("patterns computed", "entries", len(entries))
	}
	return ctx.Err()
}

func (e *Engine) Compute(entries []model.EventLogEntry, now float64) model.Patterns {
	return model.Patterns{
		LocationRoutines: e.computeRoutines(entries),
		HealthTrends:     e.computeHealthTrends(entries, now),
		BatteryPatterns:  computeBatteryPatterns(entries),
		EventStats:       computeEventStats(entries, now),
		ComputedAt:       now,
	}
}

type zoneTimes struct {
	arrives []float64
	leaves  []float64
}

func (e *Engine) computeRoutines(entries []model.EventLogEntry) model.LocationRoutines {
	weekday := map[string]*zoneTimes{}
	weekend := map[string]*zoneTimes{}
	for _, entry := range entries {
		ev := entry.Event
		if ev.Source != "geofence.triggered" {
			continue
		}
		zone := ev.Meta("zoneName")
		if zone == "" {
			zone = "Unknown"
		}
		t := time.Unix(int64(ev.FiredAt), 0).In(e.loc)
		bucket := weekday
		if dow := int(t.Weekday()); dow == 0 || dow == 6 {
			bucket = weekend
		}
		zt := bucket[zone]
		if zt == nil {
			zt = &zoneTimes{}
			bucket[zone] = zt
		}
		frac := float64(t.Hour()) + float64(t.Minute())/60
		if ev.Meta("transition") == "exit" {
			zt.leaves = append(zt.leaves, frac)
		} else {
			zt.arrives = append(zt.arrives, frac)
		}
	}
	return model.LocationRoutines{
		Weekday: routineList(weekday),
		Weekend: routineList(weekend),
	}
}

func routineList(bucket map[string]*zoneTimes) []model.ZoneRoutine {
	zones := make([]string, 0, len(bucket))
	for z := range bucket {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	out := make([]model.ZoneRoutine, 0, len(zones))
	for _, z := range zones {
		zt := bucket[z]
		out = append(out, model.ZoneRoutine{
			Zone:          z,
			TypicalArrive: medianClock(zt.arrives),
			TypicalLeave:  medianClock(zt.leaves),
		})
	}
	return out
}

// medianClock renders the median fractional hour as "HH:MM", rounded
// to the nearest minute, or "" when no samples exist.
func medianClock(hours []float64) string {
	if len(hours) == 0 {
		return ""
	}
	sorted := append([]float64(nil), hours...)
	sort.Float64s(sorted)
	var m float64
	n := len(sorted)
	if n%2 == 1 {
		m = sorted[n/2]
	} else {
		m = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	total := int(m*60 + 0.5)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func (e *Engine) computeHealthTrends(entries []model.EventLogEntry, now float64) model.HealthTrends {
	var recent, baseline []model.DeviceEvent
	cutoff7 := now - 7*86400
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Event.Source, "health") {
			continue
		}
		baseline = append(baseline, entry.Event)
		if entry.Timestamp >= cutoff7 {
			recent = append(recent, entry.Event)
		}
	}
	t := model.HealthTrends{}
	t.StepsAvg7d = averageOf(recent, "stepsToday")
	t.StepsAvg30d = averageOf(baseline, "stepsToday")
	t.StepsTrend = classifyTrend(t.StepsAvg7d, t.StepsAvg30d, false)
	t.SleepAvg7d = averageOf(recent, "sleepDurationSeconds")
	t.SleepAvg30d = averageOf(baseline, "sleepDurationSeconds")
	t.SleepTrend = classifyTrend(t.SleepAvg7d, t.SleepAvg30d, false)
	t.RestingHRAvg7d = averageOf(recent, "restingHeartRate")
	t.RestingHRAvg30d = averageOf(baseline, "restingHeartRate")
	t.RestingHRTrend = classifyTrend(t.RestingHRAvg7d, t.RestingHRAvg30d, true)
	return t
}

func averageOf(events []model.DeviceEvent, key string) *float64 {
	var sum float64
	var n int
	for _, ev := range events {
		if v, ok := ev.Num(key); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// classifyTrend labels recent/baseline. Above 1.1 is improving and
// below 0.9 declining; for resting heart rate the mapping inverts
// because lower is better.
func classifyTrend(recent, baseline *float64, invert bool) model.Trend {
	if recent == nil || baseline == nil || *baseline == 0 {
		return model.TrendAbsent
	}
	ratio := *recent / *baseline
	switch {
	case ratio > 1.1:
		if invert {
			return model.TrendDeclining
		}
		return model.TrendImproving
	case ratio < 0.9:
		if invert {
			return model.TrendImproving
		}
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

func computeBatteryPatterns(entries []model.EventLogEntry) model.BatteryPatterns {
	p := model.BatteryPatterns{}
	if len(entries) == 0 {
		return p
	}
	lowCount := 0
	for _, entry := range entries {
		if entry.Event.SubscriptionID == "default.battery-low" {
			lowCount++
		}
	}
	daySpan := (entries[len(entries)-1].Timestamp - entries[0].Timestamp) / 86400
	if daySpan < 1 {
		daySpan = 1
	}
	freq := float64(lowCount) / daySpan
	p.LowBatteryFrequency = &freq
	return p
}

func computeEventStats(entries []model.EventLogEntry, now float64) model.EventStats {
	cutoff7 := now - 7*86400
	stats := model.EventStats{TopSources: []model.SourceCount{}}
	counts := map[string]int{}
	var total, pushes, drops int
	for _, entry := range entries {
		if entry.Timestamp < cutoff7 {
			continue
		}
		total++
		switch entry.Decision {
		case model.DecisionPush:
			pushes++
		case model.DecisionDrop:
			drops++
		}
		counts[entry.Event.Source]++
	}
	stats.EventsPerDay = float64(total) / 7
	stats.PushesPerDay = float64(pushes) / 7
	if total > 0 {
		stats.DropRate = float64(drops) / float64(total)
	}
	sources := make([]model.SourceCount, 0, len(counts))
	for s, c := range counts {
		sources = append(sources, model.SourceCount{Source: s, Count: c})
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Count != sources[j].Count {
			return sources[i].Count > sources[j].Count
		}
		return sources[i].Source < sources[j].Source
	})
	if len(sources) > 5 {
		sources = sources[:5]
	}
	stats.TopSources = sources
	return stats
}
