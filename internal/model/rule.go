package model

// AutomationRule holds a device's soil-moisture thresholds.
type AutomationRule struct {
	DeviceID      string  `json:"device_id"`
	Enabled       bool    `json:"enabled"`
	LowThreshold  float64 `json:"low_threshold"`  // percent; at or below → watering wanted
	HighThreshold float64 `json:"high_threshold"` // percent; at or above → force valve closed
}

// DefaultRule is used when a device has no stored rule or the store is unreachable.
func DefaultRule(deviceID string) AutomationRule {
	return AutomationRule{
		DeviceID:      deviceID,
		Enabled:       true,
		LowThreshold:  30,
		HighThreshold: 70,
	}
}
