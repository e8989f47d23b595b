package domain

import (
	"time"
)

// Status is what the engine reports to display collaborators.
type Status struct {
	Running    bool      `json:"running"`
	State      string    `json:"state"`
	Target     string    `json:"target"`
	IntervalMS int       `json:"update_interval_ms"`
	Logging    bool      `json:"logging"`
	Sent       uint64    `json:"sent"`
	Failed     uint64    `json:"failed"`
	LastError  string    `json:"last_error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Changed returns true if cur differs from prev in anything a human would
// notice. Packet counters and the update time are ignored so a notification
// is only refreshed on lifecycle or configuration changes.
func Changed(prev, cur *Status) bool {
	if prev == nil && cur == nil {
		return false
	}
	if prev == nil || cur == nil {
		return true
	}

	p, c := *prev, *cur // copy
	p.Sent, c.Sent = 0, 0
	p.Failed, c.Failed = 0, 0
	p.UpdatedAt, c.UpdatedAt = time.Time{}, time.Time{}

	return p != c
}
