package automation

import (
	"sync"
	"time"
)

// deviceState is the authoritative per-device watering record. All fields are
// guarded by mu; the engine and the cycle-completion callback are the only
// writers.
type deviceState struct {
	mu sync.Mutex

	lastWatering   time.Time // start of the most recent cycle
	cyclesToday    int       // cycles completed since the last reset
	lastReset      time.Time // any instant on the day of the last counter reset
	manualOverride bool      // human command in force; automation stands down
}

// Tracker owns the device-state map. Entries are created lazily on the first
// evaluation or manual command for a device and live for the process lifetime.
type Tracker struct {
	loc *time.Location

	mu      sync.RWMutex
	devices map[string]*deviceState
}

func NewTracker(loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.Local
	}
	return &Tracker{loc: loc, devices: make(map[string]*deviceState)}
}

// getOrCreate returns the device's state record, creating it with a
// back-dated last-watering time so an immediate first cycle is permitted.
func (t *Tracker) getOrCreate(deviceID string, wait time.Duration, now time.Time) *deviceState {
	t.mu.RLock()
	st, ok := t.devices[deviceID]
	t.mu.RUnlock()
	if ok {
		return st
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok = t.devices[deviceID]; ok {
		return st
	}
	st = &deviceState{
		lastWatering: now.Add(-wait),
		lastReset:    now,
	}
	t.devices[deviceID] = st
	return st
}

// rolloverLocked resets the daily counters when the local calendar date has
// changed since the last reset. Must be called with st.mu held, before any
// threshold evaluation, so resets are never skipped.
func (t *Tracker) rolloverLocked(st *deviceState, now time.Time) bool {
	if sameDay(st.lastReset, now, t.loc) {
		return false
	}
	st.cyclesToday = 0
	st.manualOverride = false
	st.lastReset = now
	return true
}

// SetManualOverride flags (or clears) human control for a device. Counters
// are untouched; the flag also clears on its own at the next day rollover.
func (t *Tracker) SetManualOverride(deviceID string, on bool, now time.Time) {
	st := t.getOrCreate(deviceID, defaultWait, now)
	st.mu.Lock()
	st.manualOverride = on
	st.mu.Unlock()
}

// CompleteCycle records a finished open-then-close cycle: the last-watering
// time becomes the cycle's open time and the daily counter advances. The
// increment happens here, at completion, matching the cycle semantics of a
// full wet-then-close event.
func (t *Tracker) CompleteCycle(deviceID string, openedAt time.Time) {
	st := t.getOrCreate(deviceID, defaultWait, openedAt)
	st.mu.Lock()
	st.lastWatering = openedAt
	st.cyclesToday++
	st.mu.Unlock()
}

// Snapshot returns a copy of a device's state for diagnostics endpoints and
// tests. Reports ok=false when the device has never been evaluated.
func (t *Tracker) Snapshot(deviceID string) (DeviceSnapshot, bool) {
	t.mu.RLock()
	st, ok := t.devices[deviceID]
	t.mu.RUnlock()
	if !ok {
		return DeviceSnapshot{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return DeviceSnapshot{
		LastWatering:   st.lastWatering,
		CyclesToday:    st.cyclesToday,
		LastReset:      st.lastReset,
		ManualOverride: st.manualOverride,
	}, true
}

type DeviceSnapshot struct {
	LastWatering   time.Time `json:"last_watering"`
	CyclesToday    int       `json:"cycles_today"`
	LastReset      time.Time `json:"last_reset"`
	ManualOverride bool      `json:"manual_override"`
}

// defaultWait backs state creation on paths that have no profile at hand
// (manual override, cycle completion for an evicted entry). It matches the
// built-in profile's wicking wait.
const defaultWait = time.Hour

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
