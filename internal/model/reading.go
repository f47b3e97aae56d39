package model

import "time"

// MoistureReading is one sample reported by a soil-moisture probe.
type MoistureReading struct {
	ID        int64     `json:"id,omitempty"`
	DeviceID  string    `json:"device_id"`
	Moisture  float64   `json:"moisture"` // percent, 0..100 from a calibrated probe
	RawADC    *int      `json:"raw_adc_value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
