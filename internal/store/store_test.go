package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/growlog/irrigationd/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReadingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	raw := 41234

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		r := model.MoistureReading{
			DeviceID:  "D1",
			Moisture:  float64(30 + i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if i == 0 {
			r.RawADC = &raw
		}
		if _, err := s.InsertReading(ctx, r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	// A different device should not show up.
	s.InsertReading(ctx, model.MoistureReading{DeviceID: "D2", Moisture: 99, Timestamp: base})

	got, err := s.ReadingsSince(ctx, "D1", base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("readings since: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("count: got %d, want 3", len(got))
	}
	if got[0].Moisture != 30 || got[2].Moisture != 32 {
		t.Errorf("ordering: got %v .. %v, want oldest first", got[0].Moisture, got[2].Moisture)
	}
	if got[0].RawADC == nil || *got[0].RawADC != raw {
		t.Errorf("raw adc: got %v, want %d", got[0].RawADC, raw)
	}
}

func TestLatestReadingsPerDevice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.InsertReading(ctx, model.MoistureReading{DeviceID: "D1", Moisture: 20, Timestamp: now.Add(-30 * time.Minute)})
	s.InsertReading(ctx, model.MoistureReading{DeviceID: "D1", Moisture: 25, Timestamp: now.Add(-5 * time.Minute)})
	s.InsertReading(ctx, model.MoistureReading{DeviceID: "D2", Moisture: 60, Timestamp: now.Add(-10 * time.Minute)})
	// Outside the window entirely.
	s.InsertReading(ctx, model.MoistureReading{DeviceID: "D3", Moisture: 10, Timestamp: now.Add(-3 * time.Hour)})

	got, err := s.LatestReadings(ctx, time.Hour)
	if err != nil {
		t.Fatalf("latest readings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("devices: got %d, want 2", len(got))
	}
	if got[0].DeviceID != "D1" || got[0].Moisture != 25 {
		t.Errorf("D1 latest: got %+v", got[0])
	}
	if got[1].DeviceID != "D2" || got[1].Moisture != 60 {
		t.Errorf("D2 latest: got %+v", got[1])
	}
}

func TestValveHistoryNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.InsertValveAction(ctx, model.ValveAction{DeviceID: "D1", State: model.ValveOpen, Source: "automation", Ticket: "c-1", Timestamp: now.Add(-10 * time.Minute)})
	s.InsertValveAction(ctx, model.ValveAction{DeviceID: "D1", State: model.ValveClosed, Source: "automation", Ticket: "c-1", Timestamp: now.Add(-5 * time.Minute)})

	got, err := s.ValveHistory(ctx, "D1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("valve history: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("count: got %d, want 2", len(got))
	}
	if got[0].State != model.ValveClosed {
		t.Errorf("newest first: got %v", got[0].State)
	}
	if got[1].Source != "automation" {
		t.Errorf("source: got %q", got[1].Source)
	}
	if got[0].Ticket != "c-1" || got[1].Ticket != "c-1" {
		t.Errorf("tickets: got %q/%q, want c-1 for both halves", got[0].Ticket, got[1].Ticket)
	}
}

func TestRuleUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRule(ctx, "D1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing rule: got %v, want ErrNotFound", err)
	}

	rule := model.AutomationRule{DeviceID: "D1", Enabled: true, LowThreshold: 25, HighThreshold: 65}
	if err := s.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rule.Enabled = false
	rule.LowThreshold = 20
	if err := s.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetRule(ctx, "D1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Enabled || got.LowThreshold != 20 || got.HighThreshold != 65 {
		t.Errorf("rule: got %+v", got)
	}
}

func TestActiveProfileSelection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.ActiveProfile(ctx, "D1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no profiles: got %v, want ErrNotFound", err)
	}

	// Most recently updated wins while nothing is flagged default.
	first := model.WateringProfile{DeviceID: "D1", Name: "gentle", WickingWaitTime: 7200, WateringDuration: 120, MaxDailyCycles: 2}
	if _, err := s.SaveProfile(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second := model.WateringProfile{DeviceID: "D1", Name: "summer", WickingWaitTime: 1800, WateringDuration: 300, MaxDailyCycles: 6}
	if _, err := s.SaveProfile(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := s.ActiveProfile(ctx, "D1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got.Name != "summer" {
		t.Errorf("newest should win: got %q", got.Name)
	}

	// A default flag beats recency, and flagging clears other defaults.
	third := model.WateringProfile{DeviceID: "D1", Name: "default", WickingWaitTime: 3600, WateringDuration: 300, MaxDailyCycles: 4, IsDefault: true}
	if _, err := s.SaveProfile(ctx, third); err != nil {
		t.Fatalf("save third: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	fourth := model.WateringProfile{DeviceID: "D1", Name: "latest", WickingWaitTime: 600, WateringDuration: 60, MaxDailyCycles: 8}
	if _, err := s.SaveProfile(ctx, fourth); err != nil {
		t.Fatalf("save fourth: %v", err)
	}

	got, err = s.ActiveProfile(ctx, "D1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got.Name != "default" {
		t.Errorf("default flag should win: got %q", got.Name)
	}

	list, err := s.ListProfiles(ctx, "D1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defaults := 0
	for _, p := range list {
		if p.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Errorf("default profiles: got %d, want at most 1", defaults)
	}
}

func TestMeasurementsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	height := 42.5
	leaves := 12

	m := model.PlantMeasurement{
		DeviceID:   "D1",
		PlantName:  "Basil",
		Height:     &height,
		LeafCount:  &leaves,
		Notes:      "new growth on top",
		Fertilized: true,
		Timestamp:  time.Now(),
	}
	if _, err := s.InsertMeasurement(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.MeasurementsSince(ctx, "D1", time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("count: got %d, want 1", len(got))
	}
	if got[0].PlantName != "Basil" || !got[0].Fertilized || got[0].Pruned {
		t.Errorf("measurement: got %+v", got[0])
	}
	if got[0].Height == nil || *got[0].Height != height {
		t.Errorf("height: got %v", got[0].Height)
	}
	if got[0].StemThickness != nil {
		t.Errorf("unset field should stay nil, got %v", *got[0].StemThickness)
	}
}

func TestPurgeRespectsCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.InsertReading(ctx, model.MoistureReading{DeviceID: "D1", Moisture: 30, Timestamp: now.AddDate(0, 0, -40)})
	s.InsertReading(ctx, model.MoistureReading{DeviceID: "D1", Moisture: 31, Timestamp: now})
	s.InsertValveAction(ctx, model.ValveAction{DeviceID: "D1", State: model.ValveOpen, Source: "manual", Timestamp: now.AddDate(0, 0, -40)})
	s.InsertValveAction(ctx, model.ValveAction{DeviceID: "D1", State: model.ValveClosed, Source: "manual", Timestamp: now})

	readings, actions, err := s.Purge(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if readings != 1 || actions != 1 {
		t.Errorf("purged: got %d/%d, want 1/1", readings, actions)
	}

	left, _ := s.ReadingsSince(ctx, "D1", now.AddDate(0, 0, -60))
	if len(left) != 1 {
		t.Errorf("remaining readings: got %d, want 1", len(left))
	}
}
