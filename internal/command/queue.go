// Package command implements the per-device pending command slot that
// firmware drains by polling. Delivery is at-most-once: a poll consumes the
// slot, and an uncollected command is overwritten by a newer one.
package command

import (
	"sync"
	"time"

	"github.com/growlog/irrigationd/internal/model"
)

type Queue struct {
	mu      sync.Mutex
	pending map[string]model.ValveCommand
}

func NewQueue() *Queue {
	return &Queue{pending: make(map[string]model.ValveCommand)}
}

// Put stores the command as the device's single pending entry, replacing any
// command the device has not yet collected. Last write wins.
func (q *Queue) Put(deviceID string, state model.ValveState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[deviceID] = model.ValveCommand{
		DeviceID: deviceID,
		State:    state,
		IssuedAt: time.Now(),
	}
}

// Poll removes and returns the device's pending command, if any.
func (q *Queue) Poll(deviceID string) (model.ValveCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmd, ok := q.pending[deviceID]
	if ok {
		delete(q.pending, deviceID)
	}
	return cmd, ok
}

// Pending reports whether a device has an uncollected command. Diagnostics only.
func (q *Queue) Pending(deviceID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[deviceID]
	return ok
}
