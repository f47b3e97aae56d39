// Package sim is a development stand-in for a real sensor/valve device: it
// publishes synthetic moisture readings over MQTT and reacts to valve-state
// events the way firmware would.
package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/growlog/irrigationd/internal/model"
)

// Moisture drift rates, percentage points per minute.
const (
	gainPerMin  = 0.6  // valve open: water wicking into the pot
	decayPerMin = 0.05 // valve closed: evaporation and uptake
)

// Generator holds one device's simulated soil state. Moisture rises while
// the valve is open and decays while it is closed, with a little measurement
// jitter on top.
type Generator struct {
	mu       sync.Mutex
	last     time.Time
	moisture float64 // percent, 0..100
	open     bool
	rng      *rand.Rand
}

func NewGenerator(seedMoisture float64) *Generator {
	return &Generator{
		moisture: clampPct(seedMoisture),
		last:     time.Now(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetValve switches the drift direction. The moisture integrates up to the
// switch instant first so a long-open valve is fully accounted for.
func (g *Generator) SetValve(open bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advanceLocked(time.Now())
	g.open = open
}

// Next advances the soil state to now and returns a reading for the device.
func (g *Generator) Next(deviceID string) model.MoistureReading {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.advanceLocked(now)

	measured := clampPct(g.moisture + g.rng.Float64()*0.8 - 0.4)
	raw := int(math.Round(65535 * (1 - measured/100)))
	return model.MoistureReading{
		DeviceID:  deviceID,
		Moisture:  math.Round(measured*10) / 10,
		RawADC:    &raw,
		Timestamp: now,
	}
}

func (g *Generator) advanceLocked(now time.Time) {
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	if g.open {
		g.moisture = clampPct(g.moisture + gainPerMin*dtMin)
	} else {
		g.moisture = clampPct(g.moisture - decayPerMin*dtMin)
	}
	g.last = now
}

func clampPct(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}
