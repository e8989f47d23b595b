package transmission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/sensor-stream/internal/codec"
	"github.com/jkaberg/sensor-stream/internal/config"
	"github.com/jkaberg/sensor-stream/internal/domain"
	"github.com/jkaberg/sensor-stream/internal/keepalive"
	"github.com/jkaberg/sensor-stream/internal/netutil"
	"github.com/jkaberg/sensor-stream/internal/timeutil"
)

// SnapshotReader is the read side of the shared snapshot store.
type SnapshotReader interface {
	Load() domain.Snapshot
}

// LeaseManager hands out keep-alive leases.
type LeaseManager interface {
	Acquire(ctx context.Context, d time.Duration) (*keepalive.Lease, error)
	Renew(ctx context.Context, l *keepalive.Lease, d time.Duration) error
	Release(ctx context.Context, l *keepalive.Lease) error
}

// UDPTransmitter sends one datagram per interval to cfg's target. It owns
// its socket and keep-alive lease exclusively while running.
type UDPTransmitter struct {
	cfg    config.StreamConfig
	snaps  SnapshotReader
	leases LeaseManager
	dialer netutil.Dialer
	clock  timeutil.Clock
	logger *logrus.Logger

	leaseDuration time.Duration
	renewInterval time.Duration

	// lifeMu serialises Start and Stop.
	lifeMu sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	// Touched by Start and Stop only while the loop is not running, and by
	// the loop goroutine otherwise.
	conn  netutil.PacketConn
	lease *keepalive.Lease

	statsMu sync.Mutex
	stats   Stats
}

// New returns an idle transmitter bound to cfg. cfg is copied and never
// changes for the life of the transmitter.
func New(cfg config.StreamConfig, snaps SnapshotReader, leases LeaseManager, dialer netutil.Dialer, clock timeutil.Clock, logger *logrus.Logger) *UDPTransmitter {
	return &UDPTransmitter{
		cfg:           cfg,
		snaps:         snaps,
		leases:        leases,
		dialer:        dialer,
		clock:         clock,
		logger:        logger,
		leaseDuration: config.LeaseDuration,
		renewInterval: config.LeaseRenewInterval,
	}
}

// Config returns the configuration this transmitter was built with.
func (t *UDPTransmitter) Config() config.StreamConfig { return t.cfg }

// State returns the current lifecycle state.
func (t *UDPTransmitter) State() State { return State(t.state.Load()) }

// Stats returns a copy of the counters.
func (t *UDPTransmitter) Stats() Stats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.stats
}

// Start opens the socket, takes a keep-alive lease and launches the send
// loop. A blocked open leaves the transmitter idle and returns an error
// wrapping ErrStartBlocked; a transient one is retried by the loop. ctx bounds
// the open and the lease acquisition only: the loop runs until Stop.
func (t *UDPTransmitter) Start(ctx context.Context) error {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	if t.State() != Idle {
		return ErrNotIdle
	}

	addr := t.cfg.Addr()
	log := t.logger.WithField("target", addr)

	conn, err := t.dialer.Dial(ctx, addr)
	if err != nil {
		if netutil.Classify(err) == netutil.Blocked {
			return fmt.Errorf("%w: open %s: %v", ErrStartBlocked, addr, err)
		}
		log.WithError(err).Warn("UDP socket unavailable, retrying on next tick")
		t.recordFailure(err)
	}
	t.conn = conn

	lease, err := t.leases.Acquire(ctx, t.leaseDuration)
	if err != nil {
		log.WithError(err).Warn("Failed to acquire keep-alive lease, streaming without it")
		t.recordLeaseFailure(err)
	}
	t.lease = lease

	// Only Stop ends the loop; it owns the socket and lease cleanup.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	send := t.clock.NewTicker(t.cfg.Interval())
	renew := t.clock.NewTicker(t.renewInterval)
	done := make(chan struct{})

	t.cancel = cancel
	t.done = done
	t.state.Store(int32(Running))

	go t.loop(loopCtx, send, renew, done)

	log.WithFields(logrus.Fields{
		"interval_ms": t.cfg.IntervalMS,
		"logging":     t.cfg.Logging,
	}).Info("Telemetry transmitter started")
	return nil
}

// Stop cancels the loop, waits for it to exit, then closes the socket and
// releases the lease. Calling Stop on an idle transmitter does nothing.
func (t *UDPTransmitter) Stop() {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	if t.State() != Running {
		return
	}
	t.state.Store(int32(Stopping))

	t.cancel()
	<-t.done

	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			t.logger.WithError(err).Debug("Error closing UDP socket")
		}
		t.conn = nil
	}
	if err := t.leases.Release(context.Background(), t.lease); err != nil {
		t.logger.WithError(err).Warn("Failed to release keep-alive lease")
	}
	t.lease = nil

	t.state.Store(int32(Idle))
	stats := t.Stats()
	t.logger.WithFields(logrus.Fields{
		"target": t.cfg.Addr(),
		"sent":   stats.Sent,
		"failed": stats.Failed,
	}).Info("Telemetry transmitter stopped")
}

func (t *UDPTransmitter) loop(ctx context.Context, send, renew timeutil.Ticker, done chan struct{}) {
	defer close(done)
	defer send.Stop()
	defer renew.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-send.C():
			t.tick(ctx)
		case <-renew.C():
			t.renewLease(ctx)
		}
	}
}

func (t *UDPTransmitter) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if t.conn == nil {
		conn, err := t.dialer.Dial(ctx, t.cfg.Addr())
		if err != nil {
			t.recordFailure(err)
			t.logger.WithError(err).WithField("class", netutil.Classify(err)).Warn("Failed to open UDP socket")
			return
		}
		t.conn = conn
		t.statsMu.Lock()
		t.stats.Reopened++
		t.statsMu.Unlock()
		t.logger.WithField("target", t.cfg.Addr()).Info("UDP socket reopened")
	}

	snap := t.snaps.Load()
	payload, err := codec.Encode(snap, t.cfg, t.clock.Now())
	if err != nil {
		t.recordFailure(err)
		t.logger.WithError(err).Warn("Failed to encode telemetry packet")
		return
	}

	if ctx.Err() != nil {
		return
	}
	if _, err := t.conn.Write(payload); err != nil {
		t.recordFailure(err)
		class := netutil.Classify(err)
		t.logger.WithError(err).WithField("class", class).Warn("Failed to send telemetry packet")
		if class == netutil.Unusable {
			_ = t.conn.Close()
			t.conn = nil
		}
		return
	}

	t.statsMu.Lock()
	t.stats.Sent++
	t.statsMu.Unlock()

	entry := t.logger.WithFields(logrus.Fields{
		"target": t.cfg.Addr(),
		"seq":    snap.Seq,
		"size":   len(payload),
	})
	if t.cfg.Logging {
		entry.WithField("payload", string(payload)).Info("Sent telemetry packet")
	} else {
		entry.Debug("Sent telemetry packet")
	}
}

func (t *UDPTransmitter) renewLease(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if t.lease == nil {
		lease, err := t.leases.Acquire(ctx, t.leaseDuration)
		if err != nil {
			t.recordLeaseFailure(err)
			t.logger.WithError(err).Warn("Failed to acquire keep-alive lease")
			return
		}
		t.lease = lease
		return
	}

	if err := t.leases.Renew(ctx, t.lease, t.leaseDuration); err != nil {
		t.recordLeaseFailure(err)
		t.logger.WithError(err).Warn("Failed to renew keep-alive lease")
		if errors.Is(err, keepalive.ErrLeaseReleased) {
			t.lease = nil
		}
	}
}

func (t *UDPTransmitter) recordFailure(err error) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.Failed++
	t.stats.LastError = err.Error()
}

func (t *UDPTransmitter) recordLeaseFailure(err error) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats.LeaseFailures++
	t.stats.LastError = err.Error()
}
