// Package keepalive manages the "do not suspend this process" lease held while
// telemetry is being streamed.
package keepalive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jkaberg/sensor-stream/internal/timeutil"
)

// ErrLeaseReleased is returned when renewing a lease that was released.
var ErrLeaseReleased = errors.New("keep-alive lease already released")

// Primitive is the host facility that actually keeps the process awake.
type Primitive interface {
	Acquire(ctx context.Context, d time.Duration) error
	Release(ctx context.Context) error
}

// Lease is an opaque handle for one acquired keep-alive.
type Lease struct {
	ID       string
	Acquired time.Time

	mu       sync.Mutex
	expires  time.Time
	released bool
}

// Expires returns the current expiry.
func (l *Lease) Expires() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expires
}

// Released reports whether Release has been called for this lease.
func (l *Lease) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// Manager hands out leases backed by a Primitive.
type Manager struct {
	prim   Primitive
	clock  timeutil.Clock
	logger *logrus.Logger

	mu     sync.Mutex
	active int
}

// NewManager returns a Manager over prim.
func NewManager(prim Primitive, clock timeutil.Clock, logger *logrus.Logger) *Manager {
	return &Manager{prim: prim, clock: clock, logger: logger}
}

// Acquire takes the keep-alive for d.
func (m *Manager) Acquire(ctx context.Context, d time.Duration) (*Lease, error) {
	if err := m.prim.Acquire(ctx, d); err != nil {
		return nil, fmt.Errorf("acquire keep-alive: %w", err)
	}
	now := m.clock.Now()
	l := &Lease{ID: uuid.NewString(), Acquired: now, expires: now.Add(d)}

	m.mu.Lock()
	m.active++
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"lease":   l.ID,
		"expires": l.expires.Format(time.RFC3339),
	}).Debug("Keep-alive acquired")
	return l, nil
}

// Renew re-acquires the keep-alive and moves the lease expiry to now+d.
func (m *Manager) Renew(ctx context.Context, l *Lease, d time.Duration) error {
	if l == nil {
		return errors.New("renew keep-alive: nil lease")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return ErrLeaseReleased
	}
	if err := m.prim.Acquire(ctx, d); err != nil {
		return fmt.Errorf("renew keep-alive: %w", err)
	}
	l.expires = m.clock.Now().Add(d)

	m.logger.WithFields(logrus.Fields{
		"lease":   l.ID,
		"expires": l.expires.Format(time.RFC3339),
	}).Debug("Keep-alive renewed")
	return nil
}

// Release gives the keep-alive back. Releasing a nil or already released
// lease does nothing. The lease counts as released even when the primitive
// reports an error.
func (m *Manager) Release(ctx context.Context, l *Lease) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return nil
	}
	l.released = true
	l.mu.Unlock()

	m.mu.Lock()
	m.active--
	m.mu.Unlock()

	if err := m.prim.Release(ctx); err != nil {
		return fmt.Errorf("release keep-alive: %w", err)
	}
	m.logger.WithField("lease", l.ID).Debug("Keep-alive released")
	return nil
}

// Active returns the number of leases acquired and not yet released.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// NoopPrimitive is used on hosts without a suspend policy.
type NoopPrimitive struct{}

func (NoopPrimitive) Acquire(context.Context, time.Duration) error { return nil }
func (NoopPrimitive) Release(context.Context) error                { return nil }
