package ingest

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

var (
	ErrMissingSubscription = errors.New("subscriptionId is required")
	ErrMissingSource       = errors.New("source is required")
)

// DecodeEvent parses and validates a wire-format DeviceEvent. A zero
// firedAt is stamped with now.
func DecodeEvent(data []byte, now float64) (model.DeviceEvent, error) {
	var ev model.DeviceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.DeviceEvent{}, err
	}
	return ValidateEvent(ev, now)
}

func ValidateEvent(ev model.DeviceEvent, now float64) (model.DeviceEvent, error) {
	if strings.TrimSpace(ev.SubscriptionID) == "" {
		return model.DeviceEvent{}, ErrMissingSubscription
	}
	if strings.TrimSpace(ev.Source) == "" {
		return model.DeviceEvent{}, ErrMissingSource
	}
	if ev.Data == nil {
		ev.Data = map[string]float64{}
	}
	if ev.FiredAt <= 0 {
		ev.FiredAt = now
	}
	return ev, nil
}
