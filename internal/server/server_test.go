package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/growlog/irrigationd/internal/automation"
	"github.com/growlog/irrigationd/internal/command"
	"github.com/growlog/irrigationd/internal/model"
	"github.com/growlog/irrigationd/internal/profile"
	"github.com/growlog/irrigationd/internal/store"
	"github.com/growlog/irrigationd/internal/valve"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	queue := command.NewQueue()
	profiles := profile.NewCache(st, time.Minute)
	dispatcher := valve.NewDispatcher(st, queue, nil)

	sched := automation.NewTimerScheduler()
	t.Cleanup(sched.Close)
	engine := automation.NewEngine(automation.NewTracker(time.UTC), sched, dispatcher, st, profiles)

	srv := New(st, engine, dispatcher, queue, profiles, nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestSensorDataValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/sensor-data", map[string]any{"device_id": "D1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing moisture: got %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/sensor-data", map[string]any{"moisture": 40})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing device_id: got %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/sensor-data", map[string]any{"device_id": "D1", "moisture": 45.5, "raw_adc_value": 40000})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid reading: got %d, want 200", resp.StatusCode)
	}
	var ack map[string]string
	json.NewDecoder(resp.Body).Decode(&ack)
	if ack["status"] != "success" {
		t.Errorf("ack: got %v", ack)
	}
}

func TestLowMoistureReadingQueuesOpenCommand(t *testing.T) {
	ts := newTestServer(t)

	// Default rule low threshold is 30.
	resp := postJSON(t, ts.URL+"/api/sensor-data", map[string]any{"device_id": "D1", "moisture": 12.0})
	resp.Body.Close()

	var poll map[string]any
	if code := getJSON(t, ts.URL+"/api/commands/D1", &poll); code != http.StatusOK {
		t.Fatalf("poll: got %d", code)
	}
	if poll["command"] != "valve:1" {
		t.Fatalf("command: got %v, want valve:1", poll["command"])
	}

	// Poll consumed the slot.
	getJSON(t, ts.URL+"/api/commands/D1", &poll)
	if poll["command"] != nil {
		t.Errorf("second poll: got %v, want null", poll["command"])
	}

	// The open is audited.
	var history []model.ValveAction
	getJSON(t, ts.URL+"/api/analytics/valve?device_id=D1", &history)
	if len(history) != 1 || history[0].State != model.ValveOpen || history[0].Source != "automation" {
		t.Errorf("valve history: got %+v", history)
	}
}

func TestManualControlSetsOverride(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/valve/control", map[string]any{"device_id": "D1", "state": 1})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valve control: got %d", resp.StatusCode)
	}

	var snap automation.DeviceSnapshot
	if code := getJSON(t, ts.URL+"/api/automation/state/D1", &snap); code != http.StatusOK {
		t.Fatalf("automation state: got %d", code)
	}
	if !snap.ManualOverride {
		t.Error("manual override should be set after manual control")
	}

	// Drain the manual command, then confirm automation stays quiet.
	var poll map[string]any
	getJSON(t, ts.URL+"/api/commands/D1", &poll)
	if poll["command"] != "valve:1" {
		t.Fatalf("manual command: got %v", poll["command"])
	}

	resp = postJSON(t, ts.URL+"/api/sensor-data", map[string]any{"device_id": "D1", "moisture": 5.0})
	resp.Body.Close()
	getJSON(t, ts.URL+"/api/commands/D1", &poll)
	if poll["command"] != nil {
		t.Errorf("automation acted under override: got %v", poll["command"])
	}

	// Explicitly clearing the override re-enables automation.
	resp = postJSON(t, ts.URL+"/api/automation/override", map[string]any{"device_id": "D1", "on": false})
	resp.Body.Close()
	resp = postJSON(t, ts.URL+"/api/sensor-data", map[string]any{"device_id": "D1", "moisture": 5.0})
	resp.Body.Close()
	getJSON(t, ts.URL+"/api/commands/D1", &poll)
	if poll["command"] != "valve:1" {
		t.Errorf("after clearing override: got %v, want valve:1", poll["command"])
	}
}

func TestInvalidValveControl(t *testing.T) {
	ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/valve/control", map[string]any{"device_id": "D1", "state": 3})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("state=3: got %d, want 400", resp.StatusCode)
	}
}

func TestAutomationRuleRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	// Unknown device reports the built-in defaults.
	var rule model.AutomationRule
	getJSON(t, ts.URL+"/api/automation?device_id=D1", &rule)
	if !rule.Enabled || rule.LowThreshold != 30 || rule.HighThreshold != 70 {
		t.Errorf("default rule: got %+v", rule)
	}

	resp := postJSON(t, ts.URL+"/api/automation", map[string]any{
		"device_id": "D1", "enabled": true, "low_threshold": 22.5, "high_threshold": 60.0,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set rule: got %d", resp.StatusCode)
	}

	getJSON(t, ts.URL+"/api/automation?device_id=D1", &rule)
	if rule.LowThreshold != 22.5 || rule.HighThreshold != 60 {
		t.Errorf("stored rule: got %+v", rule)
	}
}

func TestProfileSaveInvalidatesCache(t *testing.T) {
	ts := newTestServer(t)

	// Built-in defaults before any profile exists.
	var p model.WateringProfile
	getJSON(t, ts.URL+"/api/profiles?device_id=D1", &p)
	if p.WickingWaitTime != 3600 || p.MaxDailyCycles != 4 {
		t.Errorf("built-in profile: got %+v", p)
	}

	resp := postJSON(t, ts.URL+"/api/profiles", map[string]any{
		"device_id": "D1", "name": "summer", "wicking_wait_time": 1800,
		"watering_duration": 240, "max_daily_cycles": 6, "is_default": true,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save profile: got %d", resp.StatusCode)
	}

	getJSON(t, ts.URL+"/api/profiles?device_id=D1", &p)
	if p.Name != "summer" || p.WickingWaitTime != 1800 {
		t.Errorf("cache should serve the new profile immediately: got %+v", p)
	}

	var list []model.WateringProfile
	getJSON(t, ts.URL+"/api/profiles/all?device_id=D1", &list)
	if len(list) != 1 {
		t.Errorf("profiles: got %d, want 1", len(list))
	}
}

func TestMoistureHistory(t *testing.T) {
	ts := newTestServer(t)

	for _, m := range []float64{45, 50, 55} {
		resp := postJSON(t, ts.URL+"/api/sensor-data", map[string]any{"device_id": "D1", "moisture": m})
		resp.Body.Close()
	}

	var list []model.MoistureReading
	getJSON(t, ts.URL+"/api/analytics/moisture?device_id=D1&days=1", &list)
	if len(list) != 3 {
		t.Fatalf("readings: got %d, want 3", len(list))
	}

	if code := getJSON(t, ts.URL+"/api/analytics/moisture", nil); code != http.StatusBadRequest {
		t.Errorf("missing device_id: got %d, want 400", code)
	}
}

func TestMeasurementsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/measurements", map[string]any{
		"device_id": "D1", "plant_name": "Basil", "height": 12.5, "leaf_count": 8, "fertilized": true,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add measurement: got %d", resp.StatusCode)
	}

	var list []model.PlantMeasurement
	getJSON(t, ts.URL+"/api/measurements/D1", &list)
	if len(list) != 1 {
		t.Fatalf("measurements: got %d, want 1", len(list))
	}
	if list[0].PlantName != "Basil" || list[0].Height == nil || *list[0].Height != 12.5 {
		t.Errorf("measurement: got %+v", list[0])
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	var h map[string]any
	if code := getJSON(t, ts.URL+"/healthz", &h); code != http.StatusOK {
		t.Fatalf("healthz: got %d", code)
	}
	if h["status"] != "ok" {
		t.Errorf("status: got %v", h["status"])
	}
}
