package transmission

import (
	"context"
	"errors"

	"github.com/jkaberg/sensor-stream/internal/config"
)

var (
	// ErrNotIdle is returned by Start when the transmitter is already running.
	ErrNotIdle = errors.New("transmitter is not idle")
	// ErrStartBlocked wraps socket errors that no retry can fix, such as an
	// unparseable address or a denied permission.
	ErrStartBlocked = errors.New("transmitter start blocked")
)

// State is the lifecycle state of a Transmitter.
type State int32

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Stats counts what the send loop has done since the transmitter was built.
type Stats struct {
	Sent          uint64
	Failed        uint64
	Reopened      uint64
	LeaseFailures uint64
	LastError     string
}

// Transmitter streams the latest snapshot to a fixed target under a fixed
// StreamConfig.
type Transmitter interface {
	Start(ctx context.Context) error
	Stop()
	State() State
	Stats() Stats
	Config() config.StreamConfig
}
