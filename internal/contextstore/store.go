package contextstore

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

// Store holds the in-memory DeviceContext backed by context.json, plus
// file I/O for the sibling patterns.json. The patterns document has its
// own mutex so the pattern engine and proactive engine never interleave
// writes.
type Store struct {
	mu           sync.Mutex
	patternsMu   sync.Mutex
	contextPath  string
	patternsPath string
	ctx          model.DeviceContext
	logger       *slog.Logger
}

func New(dir string, logger *slog.Logger) *Store {
	return &Store{
		contextPath:  filepath.Join(dir, "context.json"),
		patternsPath: filepath.Join(dir, "patterns.json"),
		logger:       logger,
	}
}

// Load initializes the snapshot from disk. A missing or corrupt file
// yields the empty context; Load never fails.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = model.DeviceContext{}
	data, err := os.ReadFile(s.contextPath)
	if err != nil {
		return
	}
	var loaded model.DeviceContext
	if err := json.Unmarshal(data, &loaded); err != nil {
		if s.logger != nil {
			s.logger.Warn("context file unreadable, starting empty", "path", s.contextPath, "err", err)
		}
		return
	}
	s.ctx = loaded
}

// Get returns a value copy of the snapshot. Callers never observe a
// partial update.
func (s *Store) Get() model.DeviceContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx.Clone()
}

func (s *Store) UpdateFromEvent(ev model.DeviceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := &s.ctx.Meta
	if meta.LastEventAt > 0 && model.UTCDay(ev.FiredAt) != model.UTCDay(meta.LastEventAt) {
		meta.EventsToday = 0
		meta.PushesToday = 0
	}
	meta.LastEventAt = ev.FiredAt
	meta.EventsToday++

	switch {
	case ev.Source == "device.battery":
		s.mergeBattery(ev)
	case ev.Source == "geofence.triggered":
		s.applyGeofence(ev)
	case strings.HasPrefix(ev.Source, "health"):
		s.mergeHealth(ev)
	}
}

func (s *Store) mergeBattery(ev model.DeviceEvent) {
	b := s.ctx.Device.Battery
	if b == nil {
		b = &model.BatteryState{}
		s.ctx.Device.Battery = b
	}
	if level, ok := ev.Num("level"); ok {
		b.Level = level
	}
	if state := ev.Meta("state"); state != "" {
		b.State = state
	}
	if lpm, ok := ev.Num("lowPowerMode"); ok {
		b.IsLowPowerMode = lpm == 1
	}
	b.UpdatedAt = ev.FiredAt
}

func (s *Store) applyGeofence(ev model.DeviceEvent) {
	zone := ev.Meta("zoneName")
	if zone == "" {
		zone = "Unknown"
	}
	act := &s.ctx.Activity
	switch ev.Meta("transition") {
	case "exit":
		from := act.CurrentZone
		if from == "" {
			from = zone
		}
		act.LastTransition = &model.Transition{From: from, At: ev.FiredAt}
		act.CurrentZone = ""
		act.ZoneEnteredAt = 0
		act.IsStationary = false
		act.StationarySince = 0
		s.refreshLocation(ev, "")
	default: // enter
		act.LastTransition = &model.Transition{From: act.CurrentZone, To: zone, At: ev.FiredAt}
		act.CurrentZone = zone
		act.ZoneEnteredAt = ev.FiredAt
		act.IsStationary = true
		act.StationarySince = ev.FiredAt
		s.refreshLocation(ev, zone)
	}
}

// refreshLocation overwrites coordinates present on the event and keeps
// prior values for absent ones.
func (s *Store) refreshLocation(ev model.DeviceEvent, label string) {
	loc := s.ctx.Device.Location
	if loc == nil {
		loc = &model.LocationState{}
		s.ctx.Device.Location = loc
	}
	if lat, ok := ev.Num("latitude"); ok {
		loc.Latitude = lat
	}
	if lon, ok := ev.Num("longitude"); ok {
		loc.Longitude = lon
	}
	if acc, ok := ev.Num("horizontalAccuracy"); ok {
		loc.HorizontalAccuracy = acc
	}
	if label != "" {
		loc.Label = label
	}
	loc.UpdatedAt = ev.FiredAt
}

func (s *Store) mergeHealth(ev model.DeviceEvent) {
	h := s.ctx.Device.Health
	if h == nil {
		h = &model.HealthState{}
		s.ctx.Device.Health = h
	}
	setIfPresent := func(key string, dst **float64) {
		if v, ok := ev.Num(key); ok {
			c := v
			*dst = &c
		}
	}
	setIfPresent("stepsToday", &h.StepsToday)
	setIfPresent("distanceMeters", &h.DistanceMeters)
	setIfPresent("heartRateAvg", &h.HeartRateAvg)
	setIfPresent("restingHeartRate", &h.RestingHeartRate)
	setIfPresent("hrv", &h.HRV)
	setIfPresent("activeEnergyKcal", &h.ActiveEnergyKcal)
	setIfPresent("sleepDurationSeconds", &h.SleepDurationSeconds)
	h.UpdatedAt = ev.FiredAt
}

func (s *Store) RecordPush(now float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx.Meta.LastAgentPushAt = now
	s.ctx.Meta.PushesToday++
}

// Save writes the pretty-printed snapshot plus a trailing newline.
func (s *Store) Save() error {
	s.mu.Lock()
	snapshot := s.ctx.Clone()
	s.mu.Unlock()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.contextPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.contextPath, append(data, '\n'), 0o644)
}

// ReadPatterns returns the persisted patterns document, or the zero
// value when the file is missing or corrupt.
func (s *Store) ReadPatterns() model.Patterns {
	s.patternsMu.Lock()
	defer s.patternsMu.Unlock()
	return s.readPatternsLocked()
}

func (s *Store) readPatternsLocked() model.Patterns {
	var p model.Patterns
	data, err := os.ReadFile(s.patternsPath)
	if err != nil {
		return p
	}
	if err := json.Unmarshal(data, &p); err != nil {
		if s.logger != nil {
			s.logger.Warn("patterns file unreadable", "path", s.patternsPath, "err", err)
		}
		return model.Patterns{}
	}
	return p
}

func (s *Store) WritePatterns(p model.Patterns) error {
	s.patternsMu.Lock()
	defer s.patternsMu.Unlock()
	return s.writePatternsLocked(p)
}

func (s *Store) writePatternsLocked(p model.Patterns) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.patternsPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.patternsPath, append(data, '\n'), 0o644)
}

// UpdatePatterns applies a read-modify-write under the patterns mutex.
// The proactive engine uses it to persist trigger cooldowns.
func (s *Store) UpdatePatterns(fn func(*model.Patterns)) error {
	s.patternsMu.Lock()
	defer s.patternsMu.Unlock()
	p := s.readPatternsLocked()
	fn(&p)
	return s.writePatternsLocked(p)
}
