package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/config"
)

// StartKafka consumes wire-format device events from a topic and feeds
// them into the same triage lane as RPC intake. Deployments with the
// companion app publishing through a broker enable this instead of
// direct RPC.
func StartKafka(ctx context.Context, cfg *config.Manager, sink Sink, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			now := float64(time.Now().UnixNano()) / 1e9
			ev, err := DecodeEvent(m.Value, now)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka event rejected", "err", err)
				}
				continue
			}
			sink.Submit(ev)
		}
	}()
}
