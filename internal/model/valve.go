package model

import "time"

// ValveState is the commanded position of a device's water valve.
type ValveState int

const (
	ValveClosed ValveState = 0
	ValveOpen   ValveState = 1
)

func (s ValveState) String() string {
	if s == ValveOpen {
		return "open"
	}
	return "closed"
}

// ValveAction is one audited valve command, automated or manual. Automated
// open/close pairs share a Ticket so a cycle can be reassembled from history.
type ValveAction struct {
	ID        int64      `json:"id,omitempty"`
	DeviceID  string     `json:"device_id"`
	State     ValveState `json:"state"`
	Source    string     `json:"source,omitempty"` // "manual" | "automation"
	Ticket    string     `json:"ticket,omitempty"` // cycle correlation id, automation only
	Timestamp time.Time  `json:"timestamp"`
}

// ValveCommand is the transient message a device collects when it polls.
// One pending slot per device; a newer command overwrites an uncollected one.
type ValveCommand struct {
	DeviceID string     `json:"device_id"`
	State    ValveState `json:"state"`
	IssuedAt time.Time  `json:"issued_at"`
}

// Command renders the wire form the firmware expects ("valve:0" / "valve:1").
func (c ValveCommand) Command() string {
	if c.State == ValveOpen {
		return "valve:1"
	}
	return "valve:0"
}
