package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/contextstore"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/eventlog"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/rules"
)

type stubJudge struct {
	verdict model.Verdict
	called  int
}

func (s *stubJudge) Evaluate(_ context.Context, _ model.DeviceEvent, _ model.DeviceContext) model.Verdict {
	s.called++
	return s.verdict
}

type recordingDeliverer struct {
	messages []string
	err      error
}

func (r *recordingDeliverer) Deliver(_ context.Context, message string) error {
	r.messages = append(r.messages, message)
	return r.err
}

func newPipelineForTest(t *testing.T, judge Judge, deliver Deliverer) (*Pipeline, *contextstore.Store, *eventlog.Log, string) {
	t.Helper()
	dir := t.TempDir()
	journal := eventlog.New(filepath.Join(dir, "events.jsonl"))
	store := contextstore.New(dir, nil)
	store.Load()
	eng := rules.NewEngine(10, time.UTC)
	p := New(journal, store, eng, judge, deliver, nil, 8, nil)
	p.now = func() float64 { return 1740000100 }
	return p, store, journal, dir
}

func TestGeofencePushEndToEnd(t *testing.T) {
	judge := &stubJudge{}
	deliver := &recordingDeliverer{}
	p, store, journal, dir := newPipelineForTest(t, judge, deliver)

	p.ProcessEvent(context.Background(), model.DeviceEvent{
		SubscriptionID: "default.geofence-home",
		Source:         "geofence.triggered",
		Data:           map[string]float64{"latitude": 52.52, "longitude": 13.405},
		Metadata:       map[string]string{"zoneName": "Home", "transition": "enter"},
		FiredAt:        1740000000,
	})

	entries, err := journal.ReadSince(0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("journal entries = %v (%v)", entries, err)
	}
	if entries[0].Decision != model.DecisionPush {
		t.Fatalf("decision = %s", entries[0].Decision)
	}
	dc := store.Get()
	if dc.Meta.PushesToday != 1 {
		t.Fatalf("pushesToday = %d, want 1", dc.Meta.PushesToday)
	}
	if dc.Activity.CurrentZone != "Home" {
		t.Fatalf("currentZone = %q", dc.Activity.CurrentZone)
	}
	if len(deliver.messages) != 1 || !strings.Contains(deliver.messages[0], "Home") {
		t.Fatalf("delivery messages = %v", deliver.messages)
	}
	if judge.called != 0 {
		t.Fatal("judge consulted for an unambiguous event")
	}
	if _, err := os.Stat(filepath.Join(dir, "context.json")); err != nil {
		t.Fatalf("context.json not written: %v", err)
	}
}

func TestAmbiguousEventGoesToJudge(t *testing.T) {
	judge := &stubJudge{verdict: model.Verdict{Action: model.DecisionDrop, Reason: "not interesting"}}
	deliver := &recordingDeliverer{}
	p, _, journal, _ := newPipelineForTest(t, judge, deliver)

	p.ProcessEvent(context.Background(), model.DeviceEvent{
		SubscriptionID: "custom.motion",
		Source:         "custom.motion",
		Data:           map[string]float64{"count": 2},
		FiredAt:        1740000000,
	})

	if judge.called != 1 {
		t.Fatalf("judge called %d times, want 1", judge.called)
	}
	entries, _ := journal.ReadSince(0)
	if len(entries) != 1 || entries[0].Decision != model.DecisionDrop {
		t.Fatalf("entries = %+v", entries)
	}
	if !strings.HasPrefix(entries[0].Reason, "llm: ") {
		t.Fatalf("reason %q missing llm prefix", entries[0].Reason)
	}
	if len(deliver.messages) != 0 {
		t.Fatalf("unexpected delivery %v", deliver.messages)
	}
}

func TestDeliveryFailureKeepsDecision(t *testing.T) {
	judge := &stubJudge{}
	deliver := &recordingDeliverer{err: errors.New("command exited 1")}
	p, store, journal, _ := newPipelineForTest(t, judge, deliver)

	p.ProcessEvent(context.Background(), model.DeviceEvent{
		SubscriptionID: "default.battery-critical",
		Source:         "device.battery",
		Data:           map[string]float64{"level": 0.05},
		FiredAt:        1740000000,
	})

	entries, _ := journal.ReadSince(0)
	if len(entries) != 1 || entries[0].Decision != model.DecisionPush {
		t.Fatalf("entries = %+v", entries)
	}
	if store.Get().Meta.PushesToday != 1 {
		t.Fatal("push counter must survive delivery failure")
	}
	if len(deliver.messages) != 1 {
		t.Fatalf("delivery attempts = %d, want exactly 1 (no retry)", len(deliver.messages))
	}
}

func TestBatteryLowComparesPriorLevel(t *testing.T) {
	judge := &stubJudge{}
	deliver := &recordingDeliverer{}
	p, store, journal, _ := newPipelineForTest(t, judge, deliver)

	batteryLow := func(level, firedAt float64) model.DeviceEvent {
		return model.DeviceEvent{
			SubscriptionID: "default.battery-low",
			Source:         "device.battery",
			Data:           map[string]float64{"level": level},
			FiredAt:        firedAt,
		}
	}

	// First sighting: no prior level, pushes.
	p.ProcessEvent(context.Background(), batteryLow(0.8, 1740000000))
	// Real drop past the cooldown must push, not read its own freshly
	// merged level as "prior".
	p.ProcessEvent(context.Background(), batteryLow(0.5, 1740003700))
	// Repeat of the same level past the cooldown drops as unchanged.
	p.ProcessEvent(context.Background(), batteryLow(0.5, 1740007500))

	entries, err := journal.ReadSince(0)
	if err != nil || len(entries) != 3 {
		t.Fatalf("journal entries = %v (%v)", entries, err)
	}
	if entries[0].Decision != model.DecisionPush {
		t.Fatalf("first event: %s (%s)", entries[0].Decision, entries[0].Reason)
	}
	if entries[1].Decision != model.DecisionPush {
		t.Fatalf("real level change dropped: %s (%s)", entries[1].Decision, entries[1].Reason)
	}
	if entries[2].Decision != model.DecisionDrop || !strings.Contains(entries[2].Reason, "unchanged") {
		t.Fatalf("repeat level: %s (%s)", entries[2].Decision, entries[2].Reason)
	}
	if got := store.Get().Device.Battery.Level; got != 0.5 {
		t.Fatalf("context level = %v, want latest 0.5", got)
	}
	if len(deliver.messages) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(deliver.messages))
	}
}

func TestDeferredEventNotDelivered(t *testing.T) {
	judge := &stubJudge{}
	deliver := &recordingDeliverer{}
	p, store, journal, _ := newPipelineForTest(t, judge, deliver)

	noon := float64(time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC).Unix())
	p.ProcessEvent(context.Background(), model.DeviceEvent{
		SubscriptionID: "default.daily-health",
		Source:         "health.summary",
		Data:           map[string]float64{"stepsToday": 5000},
		FiredAt:        noon,
	})

	entries, _ := journal.ReadSince(0)
	if len(entries) != 1 || entries[0].Decision != model.DecisionDefer {
		t.Fatalf("entries = %+v", entries)
	}
	if len(deliver.messages) != 0 {
		t.Fatal("deferred event must not be delivered")
	}
	if store.Get().Meta.PushesToday != 0 {
		t.Fatal("deferred event must not count as push")
	}
}

func TestBuildMessageDebugPrefixDiffers(t *testing.T) {
	dc := model.DeviceContext{}
	live := BuildMessage(model.DeviceEvent{
		SubscriptionID: "default.battery-low",
		Source:         "device.battery",
		Data:           map[string]float64{"level": 0.15},
	}, dc)
	debug := BuildMessage(model.DeviceEvent{
		SubscriptionID: "default.battery-low",
		Source:         "device.battery",
		Data:           map[string]float64{"level": 0.15, "_debugFired": 1.0},
	}, dc)
	if live == debug {
		t.Fatal("debug and live prefixes must differ")
	}
	if !strings.Contains(debug, "debug") {
		t.Fatalf("debug message %q missing marker", debug)
	}
	if !strings.Contains(live, "15%") {
		t.Fatalf("live message %q missing battery level", live)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	judge := &stubJudge{}
	deliver := &recordingDeliverer{}
	dir := t.TempDir()
	journal := eventlog.New(filepath.Join(dir, "events.jsonl"))
	store := contextstore.New(dir, nil)
	eng := rules.NewEngine(10, time.UTC)
	p := New(journal, store, eng, judge, deliver, nil, 1, nil)

	ev := model.DeviceEvent{SubscriptionID: "a", Source: "s", FiredAt: 1}
	if !p.Submit(ev) {
		t.Fatal("first submit should succeed")
	}
	if p.Submit(ev) {
		t.Fatal("second submit should report a full queue")
	}
}
