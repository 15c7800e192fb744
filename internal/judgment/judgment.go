package judgment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

// Invoker is the external LLM transport. The production implementation
// lives in openai.go; tests substitute their own.
type Invoker interface {
	Invoke(ctx context.Context, modelName, prompt string) (string, error)
}

// Judge resolves ambiguous events to push or drop. Every failure mode
// fails open: the triage layer must never be the reason an event is
// suppressed.
type Judge struct {
	invoker Invoker
	model   string
	budget  int
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func New(invoker Invoker, modelSpec string, pushBudget int, timeout time.Duration, logger *slog.Logger) *Judge {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Judge{
		invoker: invoker,
		model:   modelSpec,
		budget:  pushBudget,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

type reply struct {
	Push   bool   `json:"push"`
	Reason string `json:"reason"`
}

func (j *Judge) Evaluate(ctx context.Context, ev model.DeviceEvent, dc model.DeviceContext) model.Verdict {
	modelName, ok := splitModel(j.model)
	if !ok || j.invoker == nil {
		return j.failOpen("model misconfigured", nil)
	}
	prompt := BuildPrompt(ev, dc, j.budget, j.now().UTC())

	cctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	out, err := j.invoker.Invoke(cctx, modelName, prompt)
	if err != nil {
		return j.failOpen("llm invocation failed", err)
	}
	out = stripFence(strings.TrimSpace(out))
	if out == "" {
		return j.failOpen("empty llm output", nil)
	}
	var r reply
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		return j.failOpen("unparsable llm output", err)
	}
	if r.Reason == "" {
		r.Reason = "no reason given"
	}
	if r.Push {
		return model.Verdict{Action: model.DecisionPush, Reason: r.Reason}
	}
	return model.Verdict{Action: model.DecisionDrop, Reason: r.Reason}
}

func (j *Judge) failOpen(cause string, err error) model.Verdict {
	if j.logger != nil {
		j.logger.Warn("judgment failed open", "cause", cause, "err", err)
	}
	return model.Verdict{Action: model.DecisionPush, Reason: cause + ", fail open"}
}

// BuildPrompt renders the deterministic triage prompt. The context it
// embeds is sanitized: location is reduced to label and updatedAt so
// raw coordinates never reach the model.
func BuildPrompt(ev model.DeviceEvent, dc model.DeviceContext, budget int, now time.Time) string {
	ctxJSON, _ := json.MarshalIndent(sanitizeContext(dc), "", "  ")
	evJSON, _ := json.Marshal(ev)

	var b strings.Builder
	b.WriteString("You triage device telemetry for an AI assistant. Decide whether this event is worth interrupting the user's agent session.\n\n")
	fmt.Fprintf(&b, "Current time: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "Pushes today: %d of %d\n\n", dc.Meta.PushesToday, budget)
	b.WriteString("Device context:\n")
	b.Write(ctxJSON)
	b.WriteString("\n\nEvent:\n")
	b.Write(evJSON)
	b.WriteString("\n\nReply with only a JSON object: {\"push\": true|false, \"reason\": \"short explanation\"}\n")
	return b.String()
}

func sanitizeContext(dc model.DeviceContext) map[string]any {
	device := map[string]any{}
	if dc.Device.Battery != nil {
		device["battery"] = dc.Device.Battery
	}
	if dc.Device.Location != nil {
		device["location"] = map[string]any{
			"label":     dc.Device.Location.Label,
			"updatedAt": dc.Device.Location.UpdatedAt,
		}
	}
	if dc.Device.Health != nil {
		device["health"] = dc.Device.Health
	}
	return map[string]any{
		"device":   device,
		"activity": dc.Activity,
		"meta":     dc.Meta,
	}
}

// stripFence removes an optional triple-backtick wrapper, either bare
// or tagged "json". A fence with any other language tag keeps the tag
// line in the result.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first == "json" || first == "" {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func splitModel(spec string) (string, bool) {
	parts := strings.SplitN(spec, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
