// Package automation holds the watering decision engine: given a moisture
// reading it decides whether to open or close a device's valve, subject to
// wicking wait time, daily cycle caps, volume caps, manual override and
// midnight resets.
package automation

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/growlog/irrigationd/internal/metrics"
	"github.com/growlog/irrigationd/internal/model"
	"github.com/growlog/irrigationd/internal/store"
)

// Action is the engine's verdict for one reading.
type Action int

const (
	ActionNone Action = iota
	ActionOpen
	ActionClose
)

func (a Action) String() string {
	switch a {
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	default:
		return "noop"
	}
}

// Decision carries the action plus, for no-ops on the low branch, the gate
// that blocked watering.
type Decision struct {
	Action Action
	Reason string
}

// Skip reasons surfaced in logs and metrics.
const (
	ReasonDisabled       = "disabled"
	ReasonManualOverride = "manual_override"
	ReasonWaitTime       = "wait_time"
	ReasonCycleCap       = "cycle_cap"
	ReasonVolumeCap      = "volume_cap"
	ReasonDeadBand       = "dead_band"
)

// RuleSource yields a device's automation rule. store.ErrNotFound means the
// device has no stored rule and defaults apply.
type RuleSource interface {
	GetRule(ctx context.Context, deviceID string) (model.AutomationRule, error)
}

// ProfileSource yields a device's active watering profile, normally through
// the TTL cache.
type ProfileSource interface {
	Get(ctx context.Context, deviceID string) (model.WateringProfile, error)
}

// Dispatcher delivers a commanded valve state. ticket correlates the open and
// close of one automated cycle in the audit trail; manual commands pass "".
type Dispatcher interface {
	Dispatch(ctx context.Context, deviceID string, state model.ValveState, source, ticket string) error
}

type Engine struct {
	tracker    *Tracker
	sched      Scheduler
	dispatcher Dispatcher
	rules      RuleSource
	profiles   ProfileSource
}

func NewEngine(tracker *Tracker, sched Scheduler, dispatcher Dispatcher, rules RuleSource, profiles ProfileSource) *Engine {
	return &Engine{
		tracker:    tracker,
		sched:      sched,
		dispatcher: dispatcher,
		rules:      rules,
		profiles:   profiles,
	}
}

// Tracker exposes the state tracker for the manual-override entry point and
// diagnostics.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// HandleReading runs one evaluation for a device. Rule and profile reads
// degrade to built-in defaults so a broken store never blocks ingestion.
// Cross-device evaluations proceed in parallel; per-device they serialize on
// the tracker entry.
func (e *Engine) HandleReading(ctx context.Context, deviceID string, moisture float64, now time.Time) Decision {
	rule := e.loadRule(ctx, deviceID)
	if !rule.Enabled {
		metrics.Decisions.WithLabelValues("noop").Inc()
		metrics.Skips.WithLabelValues(ReasonDisabled).Inc()
		return Decision{Action: ActionNone, Reason: ReasonDisabled}
	}
	profile := e.loadProfile(ctx, deviceID)

	st := e.tracker.getOrCreate(deviceID, profile.Wait(), now)
	st.mu.Lock()
	defer st.mu.Unlock()

	// Daily reset happens before any threshold work so it is never skipped.
	if e.tracker.rolloverLocked(st, now) {
		log.Printf("engine: %s daily reset (date=%s)", deviceID, now.In(e.tracker.loc).Format("2006-01-02"))
	}

	if st.manualOverride {
		metrics.Decisions.WithLabelValues("noop").Inc()
		metrics.Skips.WithLabelValues(ReasonManualOverride).Inc()
		log.Printf("engine: %s skip (manual override active)", deviceID)
		return Decision{Action: ActionNone, Reason: ReasonManualOverride}
	}

	// Low branch first: with a misconfigured rule (low >= high) it wins for
	// any moisture satisfying both. Ties are inclusive on both thresholds.
	switch {
	case moisture <= rule.LowThreshold:
		return e.evaluateLowLocked(ctx, st, deviceID, moisture, profile, now)

	case moisture >= rule.HighThreshold:
		// Stopping water is always allowed, regardless of timers or caps.
		if err := e.dispatcher.Dispatch(ctx, deviceID, model.ValveClosed, "automation", ""); err != nil {
			log.Printf("engine: %s close dispatch: %v", deviceID, err)
		}
		metrics.Decisions.WithLabelValues("close").Inc()
		log.Printf("engine: %s moisture=%.1f%% >= high=%.1f%% -> close", deviceID, moisture, rule.HighThreshold)
		return Decision{Action: ActionClose}

	default:
		metrics.Decisions.WithLabelValues("noop").Inc()
		return Decision{Action: ActionNone, Reason: ReasonDeadBand}
	}
}

func (e *Engine) evaluateLowLocked(ctx context.Context, st *deviceState, deviceID string, moisture float64, profile model.WateringProfile, now time.Time) Decision {
	if reason, ok := canWaterLocked(st, profile, now); !ok {
		metrics.Decisions.WithLabelValues("noop").Inc()
		metrics.Skips.WithLabelValues(reason).Inc()
		log.Printf("engine: %s moisture=%.1f%% wants water, blocked by %s (cycles=%d last=%s)",
			deviceID, moisture, reason, st.cyclesToday, st.lastWatering.Format(time.RFC3339))
		return Decision{Action: ActionNone, Reason: reason}
	}

	ticket := uuid.New().String()
	if err := e.dispatcher.Dispatch(ctx, deviceID, model.ValveOpen, "automation", ticket); err != nil {
		log.Printf("engine: %s open dispatch: %v", deviceID, err)
		metrics.Decisions.WithLabelValues("noop").Inc()
		return Decision{Action: ActionNone, Reason: "dispatch_error"}
	}

	openedAt := now
	e.sched.Arm(deviceID, profile.Duration(), func() {
		e.finishCycle(deviceID, openedAt, ticket)
	})

	metrics.Decisions.WithLabelValues("open").Inc()
	log.Printf("engine: %s moisture=%.1f%% -> open for %s (ticket=%s)", deviceID, moisture, profile.Duration(), ticket)
	return Decision{Action: ActionOpen}
}

// canWaterLocked applies the safety gates: wicking wait time, daily cycle
// cap, and (when configured) the daily volume cap in minutes of valve-open
// time. st.mu must be held.
func canWaterLocked(st *deviceState, profile model.WateringProfile, now time.Time) (reason string, ok bool) {
	if now.Sub(st.lastWatering) < profile.Wait() {
		return ReasonWaitTime, false
	}
	if st.cyclesToday >= profile.MaxDailyCycles {
		return ReasonCycleCap, false
	}
	if profile.MaxWateringPerDay > 0 {
		usedMinutes := float64(st.cyclesToday) * profile.Duration().Minutes()
		if usedMinutes >= profile.MaxWateringPerDay {
			return ReasonVolumeCap, false
		}
	}
	return "", true
}

// finishCycle is the deferred close half of a watering cycle. It runs on the
// scheduler's goroutine with only value parameters, takes the device lock
// only here at fire time, and leaves the cycle un-counted if the close
// cannot be delivered (the wait-time gate then stays keyed to the previous
// cycle until it naturally elapses).
func (e *Engine) finishCycle(deviceID string, openedAt time.Time, ticket string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.dispatcher.Dispatch(ctx, deviceID, model.ValveClosed, "automation", ticket); err != nil {
		log.Printf("engine: %s cycle close failed, leaving cycle open (ticket=%s): %v", deviceID, ticket, err)
		return
	}
	e.tracker.CompleteCycle(deviceID, openedAt)
	metrics.CyclesCompleted.Inc()
	log.Printf("engine: %s cycle complete (ticket=%s opened=%s)", deviceID, ticket, openedAt.Format(time.RFC3339))
}

func (e *Engine) loadRule(ctx context.Context, deviceID string) model.AutomationRule {
	rule, err := e.rules.GetRule(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("engine: rule lookup for %s: %v (using defaults)", deviceID, err)
		}
		return model.DefaultRule(deviceID)
	}
	return rule
}

func (e *Engine) loadProfile(ctx context.Context, deviceID string) model.WateringProfile {
	p, err := e.profiles.Get(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("engine: profile lookup for %s: %v (using defaults)", deviceID, err)
		}
		return model.DefaultProfile(deviceID)
	}
	return p
}
