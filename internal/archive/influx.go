// Package archive mirrors moisture readings into InfluxDB for long-term
// analytics. The SQLite store stays authoritative; the archive is
// best-effort behind a circuit breaker so a slow or down Influx never backs
// up ingestion.
package archive

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sony/gobreaker"

	"github.com/growlog/irrigationd/internal/metrics"
	"github.com/growlog/irrigationd/internal/model"
)

type Config struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

type Archiver struct {
	write       api.WriteAPIBlocking
	breaker     *gobreaker.CircuitBreaker
	measurement string

	mu      sync.RWMutex
	lastErr time.Time
}

func New(cfg Config) (*Archiver, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "soil_moisture"
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "influx-archive",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	return &Archiver{
		write:       client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		breaker:     cb,
		measurement: sanitizeMeasurement(measurement),
		lastErr:     time.Now().Add(-24 * time.Hour),
	}, nil
}

// WriteReading mirrors one reading. Errors are logged and counted, never
// surfaced to the ingestion caller.
func (a *Archiver) WriteReading(ctx context.Context, r model.MoistureReading) {
	_, err := a.breaker.Execute(func() (any, error) {
		fields := map[string]any{"moisture": r.Moisture}
		if r.RawADC != nil {
			fields["raw_adc_value"] = *r.RawADC
		}
		point := influxdb2.NewPoint(a.measurement,
			map[string]string{"device_id": r.DeviceID},
			fields, r.Timestamp)
		return nil, a.write.WritePoint(ctx, point)
	})
	if err != nil {
		a.mu.Lock()
		a.lastErr = time.Now()
		a.mu.Unlock()
		metrics.ArchiveErrors.Inc()
		log.Printf("archive: write %s: %v", r.DeviceID, err)
	}
}

// LastErrorAge reports how long writes have been clean, for health output.
func (a *Archiver) LastErrorAge() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return time.Since(a.lastErr)
}

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
