package model

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
	TrendAbsent    Trend = "absent"
)

type ZoneRoutine struct {
	Zone          string `json:"zone"`
	TypicalArrive string `json:"typicalArrive,omitempty"`
	TypicalLeave  string `json:"typicalLeave,omitempty"`
}

type LocationRoutines struct {
	Weekday []ZoneRoutine `json:"weekday"`
	Weekend []ZoneRoutine `json:"weekend"`
}

type HealthTrends struct {
	StepsAvg7d      *float64 `json:"stepsAvg7d,omitempty"`
	StepsAvg30d     *float64 `json:"stepsAvg30d,omitempty"`
	StepsTrend      Trend    `json:"stepsTrend"`
	SleepAvg7d      *float64 `json:"sleepAvg7d,omitempty"`
	SleepAvg30d     *float64 `json:"sleepAvg30d,omitempty"`
	SleepTrend      Trend    `json:"sleepTrend"`
	RestingHRAvg7d  *float64 `json:"restingHrAvg7d,omitempty"`
	RestingHRAvg30d *float64 `json:"restingHrAvg30d,omitempty"`
	RestingHRTrend  Trend    `json:"restingHrTrend"`
}

type BatteryPatterns struct {
	AvgDrainPerHour     *float64 `json:"avgDrainPerHour,omitempty"`
	TypicalChargeTime   string   `json:"typicalChargeTime,omitempty"`
	LowBatteryFrequency *float64 `json:"lowBatteryFrequency,omitempty"`
}

type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

type EventStats struct {
	EventsPerDay float64       `json:"eventsPerDay"`
	PushesPerDay float64       `json:"pushesPerDay"`
	DropRate     float64       `json:"dropRate"`
	TopSources   []SourceCount `json:"topSources"`
}

// Patterns is the analytical document derived from the event log,
// persisted separately from the live context. TriggerCooldowns is the
// only field the proactive engine writes back.
type Patterns struct {
	LocationRoutines LocationRoutines   `json:"locationRoutines"`
	HealthTrends     HealthTrends       `json:"healthTrends"`
	BatteryPatterns  BatteryPatterns    `json:"batteryPatterns"`
	EventStats       EventStats         `json:"eventStats"`
	TriggerCooldowns map[string]float64 `json:"triggerCooldowns,omitempty"`
	ComputedAt       float64            `json:"computedAt"`
}

type Insight struct {
	ID       string  `json:"id"`
	Message  string  `json:"message"`
	Priority string  `json:"priority"`
	FiredAt  float64 `json:"firedAt"`
}
