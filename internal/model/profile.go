package model

import "time"

// WateringProfile is the set of timing/volume parameters governing one
// device's watering behaviour. A device may have several profiles; the one
// flagged default wins, otherwise the most recently updated.
type WateringProfile struct {
	ID                int64     `json:"id,omitempty"`
	DeviceID          string    `json:"device_id"`
	Name              string    `json:"name,omitempty"`
	WickingWaitTime   int       `json:"wicking_wait_time"`  // seconds between cycles
	WateringDuration  int       `json:"watering_duration"`  // seconds the valve stays open
	MaxDailyCycles    int       `json:"max_daily_cycles"`   // cycles per calendar day
	MaxWateringPerDay float64   `json:"max_watering_per_day,omitempty"` // minutes of valve-open time per day; 0 = uncapped
	IsDefault         bool      `json:"is_default"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

// Wait returns the wicking wait time as a duration.
func (p WateringProfile) Wait() time.Duration { return time.Duration(p.WickingWaitTime) * time.Second }

// Duration returns the per-cycle valve-open time as a duration.
func (p WateringProfile) Duration() time.Duration {
	return time.Duration(p.WateringDuration) * time.Second
}

// DefaultProfile mirrors the firmware-era constants: 60 min wicking wait,
// 5 min cycles, four cycles a day, no volume cap.
func DefaultProfile(deviceID string) WateringProfile {
	return WateringProfile{
		DeviceID:         deviceID,
		Name:             "built-in",
		WickingWaitTime:  3600,
		WateringDuration: 300,
		MaxDailyCycles:   4,
	}
}
