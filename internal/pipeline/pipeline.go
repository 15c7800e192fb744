package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/contextstore"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/eventlog"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/rules"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/storage"
)

type Judge interface {
	Evaluate(ctx context.Context, ev model.DeviceEvent, dc model.DeviceContext) model.Verdict
}

type Deliverer interface {
	Deliver(ctx context.Context, message string) error
}

// Pipeline is the serialization lane: intake enqueues, one consumer
// applies each event to context, rule-evaluates, journals, delivers
// and persists as an indivisible unit with respect to other events.
type Pipeline struct {
	log     *eventlog.Log
	store   *contextstore.Store
	rules   *rules.Engine
	judge   Judge
	deliver Deliverer
	archive storage.Store
	logger  *slog.Logger
	queue   chan model.DeviceEvent
	ready   chan struct{}
	inited  atomic.Bool
	now     func() float64
}

func New(log *eventlog.Log, store *contextstore.Store, rulesEngine *rules.Engine, judge Judge, deliver Deliverer, archive storage.Store, queueSize int, logger *slog.Logger) *Pipeline {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Pipeline{
		log:     log,
		store:   store,
		rules:   rulesEngine,
		judge:   judge,
		deliver: deliver,
		archive: archive,
		logger:  logger,
		queue:   make(chan model.DeviceEvent, queueSize),
		ready:   make(chan struct{}),
		now:     func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

// Start runs init then the consumer loop. Events submitted before init
// completes wait in the queue.
func (p *Pipeline) Start(ctx context.Context) {
	go func() {
		p.init()
		close(p.ready)
		for {
			select {
			case ev := <-p.queue:
				p.ProcessEvent(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// init loads the context snapshot and rebuilds rule cooldowns from the
// last 24h of the journal.
func (p *Pipeline) init() {
	p.store.Load()
	entries, err := p.log.ReadSince(p.now() - 86400)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("cooldown restore skipped", "err", err)
		}
	}
	p.rules.RestoreCooldowns(entries)
	p.inited.Store(true)
	if p.logger != nil {
		p.logger.Info("pipeline initialized", "restored_entries", len(entries))
	}
}

func (p *Pipeline) Ready() <-chan struct{} {
	return p.ready
}

func (p *Pipeline) Initialized() bool {
	return p.inited.Load()
}

// Submit enqueues without blocking. A full queue drops the event; the
// system is best-effort by design.
func (p *Pipeline) Submit(ev model.DeviceEvent) bool {
	select {
	case p.queue <- ev:
		return true
	default:
		if p.logger != nil {
			p.logger.Warn("event queue full, dropping event",
				"subscription_id", ev.SubscriptionID,
				"source", ev.Source,
			)
		}
		return false
	}
}

// ProcessEvent runs the full triage sequence for one event. Side
// effects are strictly ordered: context mutation, then journal, then
// delivery; the journal records the intended decision even when
// delivery fails.
func (p *Pipeline) ProcessEvent(ctx context.Context, ev model.DeviceEvent) {
	prior := p.store.Get()
	p.store.UpdateFromEvent(ev)

	// Rule evaluation sees the updated snapshot, except battery: the
	// level-unchanged rule compares against the level as it stood
	// before this event's own merge.
	evalCtx := p.store.Get()
	evalCtx.Device.Battery = prior.Device.Battery
	verdict := p.rules.Evaluate(ev, evalCtx)
	if verdict.Action == model.DecisionAmbiguous {
		jv := p.judge.Evaluate(ctx, ev, p.store.Get())
		verdict = model.Verdict{Action: jv.Action, Reason: "llm: " + jv.Reason}
	}

	entry := model.EventLogEntry{
		Event:     ev,
		Decision:  verdict.Action,
		Reason:    verdict.Reason,
		Timestamp: p.now(),
	}
	if err := p.log.Append(entry); err != nil {
		if p.logger != nil {
			p.logger.Error("journal append failed", "err", err)
		}
	}
	if p.archive != nil {
		if err := p.archive.SaveLogEntry(ctx, entry); err != nil {
			if p.logger != nil {
				p.logger.Warn("archive write failed", "err", err)
			}
		}
	}

	if verdict.Action == model.DecisionPush {
		p.rules.RecordFired(ev.SubscriptionID, ev.FiredAt)
		p.store.RecordPush(p.now())
		msg := BuildMessage(ev, p.store.Get())
		if p.deliver != nil {
			if err := p.deliver.Deliver(ctx, msg); err != nil {
				if p.logger != nil {
					p.logger.Error("push delivery failed",
						"subscription_id", ev.SubscriptionID,
						"err", err,
					)
				}
			}
		}
	}

	if err := p.store.Save(); err != nil {
		if p.logger != nil {
			p.logger.Error("context save failed", "err", err)
		}
	}

	if p.logger != nil {
		p.logger.Debug("event processed",
			"subscription_id", ev.SubscriptionID,
			"decision", string(verdict.Action),
			"reason", verdict.Reason,
		)
	}
}
