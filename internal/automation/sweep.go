package automation

import (
	"context"
	"log"
	"time"

	"github.com/growlog/irrigationd/internal/model"
)

// ReadingSource yields the newest reading per recently-active device.
type ReadingSource interface {
	LatestReadings(ctx context.Context, window time.Duration) ([]model.MoistureReading, error)
}

// Sweeper periodically re-evaluates automation for every device heard from
// within the window, so a device that went quiet right after a blocked
// low-moisture reading still gets watered once its gates clear.
type Sweeper struct {
	readings ReadingSource
	engine   *Engine
	interval time.Duration
	window   time.Duration
}

func NewSweeper(readings ReadingSource, engine *Engine, interval, window time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = time.Hour
	}
	return &Sweeper{readings: readings, engine: engine, interval: interval, window: window}
}

// Run blocks until ctx is cancelled. Sweeps are best-effort and have no
// deadline of their own.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	list, err := s.readings.LatestReadings(ctx, s.window)
	if err != nil {
		log.Printf("sweep: latest readings: %v", err)
		return
	}
	for _, r := range list {
		s.engine.HandleReading(ctx, r.DeviceID, r.Moisture, time.Now())
	}
	if len(list) > 0 {
		log.Printf("sweep: evaluated %d device(s)", len(list))
	}
}
