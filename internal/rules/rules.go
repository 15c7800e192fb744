package rules

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

// Per-subscription cooldown table, seconds. Keys match the suffix after
// the subscription namespace.
var cooldowns = map[string]float64{
	"battery-low":      3600,
	"battery-critical": 1800,
	"daily-health":     82800,
	"geofence":         300,
}

const defaultCooldown = 1800

// Engine classifies event x context into push, drop, defer or
// ambiguous. Its only state is the process-lifetime lastFired map,
// rebuilt from the journal on startup.
type Engine struct {
	mu        sync.Mutex
	lastFired map[string]float64
	budget    int
	loc       *time.Location
}

func NewEngine(pushBudget int, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		lastFired: make(map[string]float64),
		budget:    pushBudget,
		loc:       loc,
	}
}

func (e *Engine) Evaluate(ev model.DeviceEvent, ctx model.DeviceContext) model.Verdict {
	if v, ok := ev.Num("_debugFired"); ok && v == 1.0 {
		return model.Verdict{Action: model.DecisionPush, Reason: "debug event, always push"}
	}

	cooldown := cooldownFor(ev.SubscriptionID, ev.Source)
	e.mu.Lock()
	last, fired := e.lastFired[ev.SubscriptionID]
	e.mu.Unlock()
	if fired {
		elapsed := ev.FiredAt - last
		if elapsed < cooldown {
			return model.Verdict{
				Action: model.DecisionDrop,
				Reason: fmt.Sprintf("dedup: %.0fs since last fire, cooldown %.0fs", elapsed, cooldown),
			}
		}
	}

	if ev.SubscriptionID == "default.battery-critical" {
		return model.Verdict{Action: model.DecisionPush, Reason: "critical battery"}
	}
	if ev.Source == "geofence.triggered" {
		return model.Verdict{Action: model.DecisionPush, Reason: "geofence transition"}
	}
	if ev.SubscriptionID == "default.battery-low" {
		if b := ctx.Device.Battery; b != nil {
			if level, ok := ev.Num("level"); ok && math.Abs(level-b.Level) < 0.02 {
				return model.Verdict{Action: model.DecisionDrop, Reason: "battery level unchanged"}
			}
		}
		return model.Verdict{Action: model.DecisionPush, Reason: "battery low"}
	}
	if ev.SubscriptionID == "default.daily-health" {
		hour := time.Unix(int64(ev.FiredAt), 0).In(e.loc).Hour()
		if hour >= 6 && hour <= 10 {
			return model.Verdict{Action: model.DecisionPush, Reason: "morning health summary"}
		}
		return model.Verdict{Action: model.DecisionDefer, Reason: "outside morning window"}
	}

	if ctx.Meta.PushesToday >= e.budget {
		return model.Verdict{Action: model.DecisionDrop, Reason: "push budget exhausted"}
	}
	return model.Verdict{Action: model.DecisionAmbiguous, Reason: "no matching rule"}
}

// RecordFired marks a subscription as fired. Called only when the
// pipeline actually pushes.
func (e *Engine) RecordFired(subscriptionID string, firedAt float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastFired[subscriptionID] = firedAt
}

// RestoreCooldowns rebuilds lastFired from past push records, taking
// the max firedAt per subscription.
func (e *Engine) RestoreCooldowns(entries []model.EventLogEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range entries {
		if entry.Decision != model.DecisionPush {
			continue
		}
		sub := entry.Event.SubscriptionID
		if sub == "" {
			continue
		}
		if entry.Event.FiredAt > e.lastFired[sub] {
			e.lastFired[sub] = entry.Event.FiredAt
		}
	}
}

func cooldownFor(subscriptionID, source string) float64 {
	if source == "geofence.triggered" || strings.Contains(subscriptionID, "geofence") {
		return cooldowns["geofence"]
	}
	key := subscriptionID
	if i := strings.LastIndex(key, "."); i >= 0 {
		key = key[i+1:]
	}
	if c, ok := cooldowns[key]; ok {
		return c
	}
	return defaultCooldown
}
