// Package valve dispatches commanded valve states: every command is audited
// in the store, queued for the device's next poll, and optionally announced
// on the event bus.
package valve

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/growlog/irrigationd/internal/command"
	"github.com/growlog/irrigationd/internal/metrics"
	"github.com/growlog/irrigationd/internal/model"
	"github.com/growlog/irrigationd/internal/store"
)

// EventPublisher announces valve-state changes to subscribed devices and
// dashboards. Optional; nil disables announcements.
type EventPublisher interface {
	PublishValveState(deviceID string, state model.ValveState) error
}

type Dispatcher struct {
	store  *store.Store
	queue  *command.Queue
	events EventPublisher
}

func NewDispatcher(st *store.Store, q *command.Queue, events EventPublisher) *Dispatcher {
	return &Dispatcher{store: st, queue: q, events: events}
}

// SetEvents attaches the event publisher after construction. The bridge
// needs the engine and the engine needs the dispatcher, so the publisher is
// wired last.
func (d *Dispatcher) SetEvents(events EventPublisher) { d.events = events }

// Dispatch persists the audit record, queues the command for the device and
// announces it. The audit write is the authoritative step; a failed insert
// fails the dispatch so callers do not treat the valve as commanded. ticket
// correlates an automated cycle's open and close rows; manual commands pass "".
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, state model.ValveState, source, ticket string) error {
	action := model.ValveAction{
		DeviceID:  deviceID,
		State:     state,
		Source:    source,
		Ticket:    ticket,
		Timestamp: time.Now(),
	}
	if _, err := d.store.InsertValveAction(ctx, action); err != nil {
		return fmt.Errorf("valve audit write: %w", err)
	}

	d.queue.Put(deviceID, state)
	metrics.ValveCommands.WithLabelValues(state.String(), source).Inc()

	if d.events != nil {
		if err := d.events.PublishValveState(deviceID, state); err != nil {
			// Announcement is best-effort; the device still gets the command
			// on its next poll.
			log.Printf("valve: publish state event for %s: %v", deviceID, err)
		}
	}
	log.Printf("valve: %s -> %s (%s)", deviceID, state, source)
	return nil
}

// StateEvent is the JSON payload published on valve-state topics.
type StateEvent struct {
	DeviceID  string           `json:"device_id"`
	State     model.ValveState `json:"state"`
	Timestamp time.Time        `json:"timestamp"`
}

// EncodeStateEvent renders the bus payload for a state change.
func EncodeStateEvent(deviceID string, state model.ValveState) ([]byte, error) {
	return json.Marshal(StateEvent{DeviceID: deviceID, State: state, Timestamp: time.Now().UTC()})
}
