package rules

import (
	"strings"
	"testing"
	"time"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

func newEngineForTest() *Engine {
	return NewEngine(10, time.UTC)
}

func TestDebugEventAlwaysPushes(t *testing.T) {
	eng := newEngineForTest()
	ev := model.DeviceEvent{
		SubscriptionID: "default.battery-low",
		Source:         "device.battery",
		Data:           map[string]float64{"level": 0.15, "_debugFired": 1.0},
		FiredAt:        1740000000,
	}
	v := eng.Evaluate(ev, model.DeviceContext{})
	if v.Action != model.DecisionPush {
		t.Fatalf("expected push, got %s (%s)", v.Action, v.Reason)
	}
	if !strings.Contains(v.Reason, "debug") {
		t.Fatalf("expected debug reason, got %q", v.Reason)
	}
}

func TestCriticalBatteryAlwaysPushes(t *testing.T) {
	eng := newEngineForTest()
	ev := model.DeviceEvent{
		SubscriptionID: "default.battery-critical",
		Source:         "device.battery",
		Data:           map[string]float64{"level": 0.08},
		FiredAt:        1740000000,
	}
	if v := eng.Evaluate(ev, model.DeviceContext{}); v.Action != model.DecisionPush {
		t.Fatalf("expected push, got %s (%s)", v.Action, v.Reason)
	}
}

func TestGeofencePushes(t *testing.T) {
	eng := newEngineForTest()
	ev := model.DeviceEvent{
		SubscriptionID: "default.geofence-home",
		Source:         "geofence.triggered",
		Metadata:       map[string]string{"zoneName": "Home", "transition": "enter"},
		FiredAt:        1740000000,
	}
	if v := eng.Evaluate(ev, model.DeviceContext{}); v.Action != model.DecisionPush {
		t.Fatalf("expected push, got %s (%s)", v.Action, v.Reason)
	}
}

func TestDedupWithinCooldown(t *testing.T) {
	eng := newEngineForTest()
	eng.RecordFired("default.battery-low", 1740000000)

	ev := model.DeviceEvent{
		SubscriptionID: "default.battery-low",
		Source:         "device.battery",
		Data:           map[string]float64{"level": 0.2},
		FiredAt:        1740001800,
	}
	v := eng.Evaluate(ev, model.DeviceContext{})
	if v.Action != model.DecisionDrop {
		t.Fatalf("expected drop inside cooldown, got %s (%s)", v.Action, v.Reason)
	}
	if !strings.Contains(v.Reason, "dedup") {
		t.Fatalf("expected dedup reason, got %q", v.Reason)
	}

	ev.FiredAt = 1740003700
	if v := eng.Evaluate(ev, model.DeviceContext{}); v.Action != model.DecisionPush {
		t.Fatalf("expected push after cooldown, got %s (%s)", v.Action, v.Reason)
	}
}

func TestDedupBoundaryIsStrict(t *testing.T) {
	eng := newEngineForTest()
	eng.RecordFired("default.battery-low", 1740000000)
	ev := model.DeviceEvent{
		SubscriptionID: "default.battery-low",
		Source:         "device.battery",
		Data:           map[string]float64{"level": 0.2},
		FiredAt:        1740000000 + 3600,
	}
	if v := eng.Evaluate(ev, model.DeviceContext{}); v.Action != model.DecisionPush {
		t.Fatalf("expected push at exact cooldown boundary, got %s (%s)", v.Action, v.Reason)
	}
}

func TestBatteryLowUnchangedLevelDrops(t *testing.T) {
	eng := newEngineForTest()
	ctx := model.DeviceContext{}
	ctx.Device.Battery = &model.BatteryState{Level: 0.15}

	ev := model.DeviceEvent{
		SubscriptionID: "default.battery-low",
		Source:         "device.battery",
		Data:           map[string]float64{"level": 0.155},
		FiredAt:        1740000000,
	}
	if v := eng.Evaluate(ev, ctx); v.Action != model.DecisionDrop {
		t.Fatalf("expected drop for unchanged level, got %s (%s)", v.Action, v.Reason)
	}

	ev.Data["level"] = 0.10
	if v := eng.Evaluate(ev, ctx); v.Action != model.DecisionPush {
		t.Fatalf("expected push for changed level, got %s (%s)", v.Action, v.Reason)
	}
}

func TestDailyHealthMorningWindow(t *testing.T) {
	eng := newEngineForTest()
	ev := model.DeviceEvent{
		SubscriptionID: "default.daily-health",
		Source:         "health.summary",
		Data:           map[string]float64{"stepsToday": 5000},
	}

	ev.FiredAt = float64(time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC).Unix())
	v := eng.Evaluate(ev, model.DeviceContext{})
	if v.Action != model.DecisionDefer {
		t.Fatalf("expected defer at noon, got %s (%s)", v.Action, v.Reason)
	}

	ev.FiredAt = float64(time.Date(2026, 2, 19, 8, 0, 0, 0, time.UTC).Unix())
	if v := eng.Evaluate(ev, model.DeviceContext{}); v.Action != model.DecisionPush {
		t.Fatalf("expected push at 8am, got %s (%s)", v.Action, v.Reason)
	}
}

func TestPushBudgetExhausted(t *testing.T) {
	eng := newEngineForTest()
	ctx := model.DeviceContext{}
	ctx.Meta.PushesToday = 10
	ev := model.DeviceEvent{
		SubscriptionID: "custom.motion",
		Source:         "custom.motion",
		Data:           map[string]float64{"count": 3},
		FiredAt:        1740000000,
	}
	v := eng.Evaluate(ev, ctx)
	if v.Action != model.DecisionDrop {
		t.Fatalf("expected drop over budget, got %s (%s)", v.Action, v.Reason)
	}
	if !strings.Contains(v.Reason, "budget") {
		t.Fatalf("expected budget reason, got %q", v.Reason)
	}

	ctx.Meta.PushesToday = 9
	if v := eng.Evaluate(ev, ctx); v.Action != model.DecisionAmbiguous {
		t.Fatalf("expected ambiguous under budget, got %s (%s)", v.Action, v.Reason)
	}
}

func TestRestoreCooldowns(t *testing.T) {
	eng := newEngineForTest()
	entries := []model.EventLogEntry{
		{
			Event:    model.DeviceEvent{SubscriptionID: "default.battery-low", FiredAt: 1740000000},
			Decision: model.DecisionPush,
		},
		{
			Event:    model.DeviceEvent{SubscriptionID: "default.battery-low", FiredAt: 1740005000},
			Decision: model.DecisionPush,
		},
		{
			Event:    model.DeviceEvent{SubscriptionID: "default.battery-low", FiredAt: 1740009000},
			Decision: model.DecisionDrop,
		},
	}
	eng.RestoreCooldowns(entries)

	ev := model.DeviceEvent{
		SubscriptionID: "default.battery-low",
		Source:         "device.battery",
		Data:           map[string]float64{"level": 0.2},
		FiredAt:        1740006000,
	}
	v := eng.Evaluate(ev, model.DeviceContext{})
	if v.Action != model.DecisionDrop || !strings.Contains(v.Reason, "dedup") {
		t.Fatalf("expected dedup drop from restored cooldown, got %s (%s)", v.Action, v.Reason)
	}
}

func TestCooldownTable(t *testing.T) {
	if c := cooldownFor("default.battery-low", "device.battery"); c != 3600 {
		t.Fatalf("battery-low cooldown = %v", c)
	}
	if c := cooldownFor("default.daily-health", "health.summary"); c != 82800 {
		t.Fatalf("daily-health cooldown = %v", c)
	}
	if c := cooldownFor("default.geofence-home", "geofence.triggered"); c != 300 {
		t.Fatalf("geofence cooldown = %v", c)
	}
	if c := cooldownFor("custom.motion", "custom.motion"); c != 1800 {
		t.Fatalf("default cooldown = %v", c)
	}
}
