package judgment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

type fakeInvoker func(ctx context.Context, modelName, prompt string) (string, error)

func (f fakeInvoker) Invoke(ctx context.Context, modelName, prompt string) (string, error) {
	return f(ctx, modelName, prompt)
}

func testEvent() model.DeviceEvent {
	return model.DeviceEvent{
		SubscriptionID: "custom.motion",
		Source:         "custom.motion",
		Data:           map[string]float64{"count": 3},
		FiredAt:        1740000000,
	}
}

func testContext() model.DeviceContext {
	dc := model.DeviceContext{}
	dc.Device.Location = &model.LocationState{
		Latitude:  52.5200,
		Longitude: 13.4050,
		Label:     "Home",
		UpdatedAt: 1740000000,
	}
	dc.Meta.PushesToday = 3
	return dc
}

func newJudge(inv Invoker) *Judge {
	return New(inv, "openai/gpt-4o-mini", 10, time.Second, nil)
}

func TestJudgmentParsesReply(t *testing.T) {
	j := newJudge(fakeInvoker(func(_ context.Context, _, _ string) (string, error) {
		return `{"push": false, "reason": "routine update"}`, nil
	}))
	v := j.Evaluate(context.Background(), testEvent(), testContext())
	if v.Action != model.DecisionDrop || v.Reason != "routine update" {
		t.Fatalf("got %s (%s)", v.Action, v.Reason)
	}
}

func TestJudgmentStripsCodeFence(t *testing.T) {
	j := newJudge(fakeInvoker(func(_ context.Context, _, _ string) (string, error) {
		return "```json\n{\"push\": true, \"reason\": \"worth a look\"}\n```", nil
	}))
	v := j.Evaluate(context.Background(), testEvent(), testContext())
	if v.Action != model.DecisionPush || v.Reason != "worth a look" {
		t.Fatalf("got %s (%s)", v.Action, v.Reason)
	}
}

func TestJudgmentFailsOpen(t *testing.T) {
	cases := []struct {
		name string
		j    *Judge
	}{
		{"invoker error", newJudge(fakeInvoker(func(_ context.Context, _, _ string) (string, error) {
			return "", errors.New("boom")
		}))},
		{"empty output", newJudge(fakeInvoker(func(_ context.Context, _, _ string) (string, error) {
			return "", nil
		}))},
		{"bad json", newJudge(fakeInvoker(func(_ context.Context, _, _ string) (string, error) {
			return "sure, push it", nil
		}))},
		{"misconfigured model", New(fakeInvoker(func(_ context.Context, _, _ string) (string, error) {
			return `{"push": false, "reason": "x"}`, nil
		}), "gpt-4o-mini", 10, time.Second, nil)},
	}
	for _, tc := range cases {
		v := tc.j.Evaluate(context.Background(), testEvent(), testContext())
		if v.Action != model.DecisionPush {
			t.Fatalf("%s: expected fail-open push, got %s (%s)", tc.name, v.Action, v.Reason)
		}
		if !strings.Contains(v.Reason, "fail open") {
			t.Fatalf("%s: reason %q missing fail open", tc.name, v.Reason)
		}
	}
}

func TestJudgmentTimeout(t *testing.T) {
	j := New(fakeInvoker(func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), "openai/gpt-4o-mini", 10, 20*time.Millisecond, nil)
	v := j.Evaluate(context.Background(), testEvent(), testContext())
	if v.Action != model.DecisionPush || !strings.Contains(v.Reason, "fail open") {
		t.Fatalf("expected fail-open push on timeout, got %s (%s)", v.Action, v.Reason)
	}
}

func TestBuildPromptSanitizesLocation(t *testing.T) {
	prompt := BuildPrompt(testEvent(), testContext(), 10, time.Date(2026, 2, 19, 9, 0, 0, 0, time.UTC))
	if !strings.Contains(prompt, "Home") {
		t.Fatal("prompt missing location label")
	}
	if strings.Contains(prompt, "52.52") || strings.Contains(prompt, "13.405") {
		t.Fatal("prompt leaks raw coordinates")
	}
	if !strings.Contains(prompt, "Pushes today: 3 of 10") {
		t.Fatal("prompt missing budget line")
	}
	if !strings.Contains(prompt, "2026-02-19T09:00:00Z") {
		t.Fatal("prompt missing timestamp")
	}
	if !strings.Contains(prompt, `"subscriptionId":"custom.motion"`) {
		t.Fatal("prompt missing raw event")
	}
}

func TestStripFence(t *testing.T) {
	if got := stripFence("{\"push\":true}"); got != "{\"push\":true}" {
		t.Fatalf("plain = %q", got)
	}
	if got := stripFence("```json\n{\"a\":1}\n```"); got != "{\"a\":1}" {
		t.Fatalf("json fence = %q", got)
	}
	if got := stripFence("```\n{\"a\":1}\n```"); got != "{\"a\":1}" {
		t.Fatalf("bare fence = %q", got)
	}
}
