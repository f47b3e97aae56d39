package model

import "time"

// PlantMeasurement is a manually recorded growth observation for the plant
// a device waters.
type PlantMeasurement struct {
	ID            int64     `json:"id,omitempty"`
	DeviceID      string    `json:"device_id"`
	PlantName     string    `json:"plant_name"`
	Height        *float64  `json:"height,omitempty"`
	LeafCount     *int      `json:"leaf_count,omitempty"`
	StemThickness *float64  `json:"stem_thickness,omitempty"`
	CanopyWidth   *float64  `json:"canopy_width,omitempty"`
	LeafColor     *int      `json:"leaf_color,omitempty"`
	LeafFirmness  *int      `json:"leaf_firmness,omitempty"`
	HealthScore   *int      `json:"health_score,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	Fertilized    bool      `json:"fertilized"`
	Pruned        bool      `json:"pruned"`
	PHReading     *float64  `json:"ph_reading,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
