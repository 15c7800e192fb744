package ingest

import (
	"context"
	"time"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

// Sink accepts decoded events for triage. The pipeline implements it.
type Sink interface {
	Submit(ev model.DeviceEvent) bool
}

// BackoffSleep waits d (or a 200ms default) unless the context ends
// first.
func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
