package automation

import (
	"sync"
	"time"
)

// Scheduler defers the close half of a watering cycle. One pending timer per
// device; callbacks run on a background goroutine and must capture only
// value-typed parameters.
type Scheduler interface {
	Arm(deviceID string, d time.Duration, fn func())
}

// TimerScheduler is the production Scheduler, keyed by device over
// time.AfterFunc. Re-arming a device replaces its pending timer; the close
// command is idempotent at the actuator, so a fire from a replaced timer
// would be harmless, but stopping it avoids leaking goroutines.
type TimerScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[string]*time.Timer)}
}

func (s *TimerScheduler) Arm(deviceID string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[deviceID]; ok {
		t.Stop()
	}
	s.timers[deviceID] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, deviceID)
		s.mu.Unlock()
		fn()
	})
}

// Armed reports whether a device has a pending timer. Diagnostics only.
func (s *TimerScheduler) Armed(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[deviceID]
	return ok
}

// Close stops all pending timers. Cycles interrupted by shutdown stay
// un-completed; the next low-moisture reading finds the wait-time gate still
// keyed to the previous cycle.
func (s *TimerScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
