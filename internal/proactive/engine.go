package proactive

import (
	"context"
	"log/slog"
	"time"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/contextstore"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/storage"
)

type Deliverer interface {
	Deliver(ctx context.Context, message string) error
}

// Engine scans the trigger table against the live context and latest
// patterns. A fired trigger's cooldown is persisted before delivery is
// attempted, so a failing delivery cannot cause runaway retries.
type Engine struct {
	store    *contextstore.Store
	deliver  Deliverer
	insights *Store
	archive  storage.Store
	triggers []Trigger
	loc      *time.Location
	logger   *slog.Logger
	now      func() float64
}

func NewEngine(store *contextstore.Store, deliver Deliverer, insights *Store, archive storage.Store, loc *time.Location, logger *slog.Logger) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		store:    store,
		deliver:  deliver,
		insights: insights,
		archive:  archive,
		triggers: DefaultTriggers(),
		loc:      loc,
		logger:   logger,
		now:      func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

// Scan runs one pass over the trigger table in declared order.
func (e *Engine) Scan(ctx context.Context) {
	dc := e.store.Get()
	p := e.store.ReadPatterns()
	nowEpoch := e.now()
	nowLocal := time.Unix(int64(nowEpoch), 0).In(e.loc)

	for _, trigger := range e.triggers {
		if last, ok := p.TriggerCooldowns[trigger.ID]; ok && nowEpoch-last < trigger.Cooldown {
			continue
		}
		ins := trigger.Evaluate(dc, p, nowLocal)
		if ins == nil {
			continue
		}
		ins.FiredAt = nowEpoch

		// Cooldown lands on disk before any delivery attempt.
		if err := e.store.UpdatePatterns(func(pp *model.Patterns) {
			if pp.TriggerCooldowns == nil {
				pp.TriggerCooldowns = map[string]float64{}
			}
			pp.TriggerCooldowns[trigger.ID] = nowEpoch
		}); err != nil {
			if e.logger != nil {
				e.logger.Error("cooldown persist failed, skipping trigger", "trigger", trigger.ID, "err", err)
			}
			continue
		}

		if e.insights != nil {
			e.insights.Add(*ins)
		}
		if e.archive != nil {
			if err := e.archive.SaveInsight(ctx, *ins); err != nil {
				if e.logger != nil {
					e.logger.Warn("insight archive failed", "trigger", trigger.ID, "err", err)
				}
			}
		}
		if e.logger != nil {
			e.logger.Info("proactive insight fired", "trigger", trigger.ID, "priority", ins.Priority)
		}
		if e.deliver != nil {
			if err := e.deliver.Deliver(ctx, ins.Message); err != nil {
				if e.logger != nil {
					e.logger.Error("insight delivery failed", "trigger", trigger.ID, "err", err)
				}
			}
		}
	}
}
