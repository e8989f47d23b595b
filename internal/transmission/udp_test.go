package transmission

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaberg/sensor-stream/internal/codec"
	"github.com/jkaberg/sensor-stream/internal/config"
	"github.com/jkaberg/sensor-stream/internal/domain"
	"github.com/jkaberg/sensor-stream/internal/keepalive"
	"github.com/jkaberg/sensor-stream/internal/netutil"
	"github.com/jkaberg/sensor-stream/internal/sensors"
	"github.com/jkaberg/sensor-stream/internal/timeutil"
)

const waitFor = 2 * time.Second
const pollEvery = time.Millisecond

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l
}

type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	closed   bool
	writeErr func(n int) error
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.writeErr != nil {
		if err := c.writeErr(len(c.writes) + 1); err != nil {
			c.writes = append(c.writes, nil)
			return 0, err
		}
	}
	c.writes = append(c.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func (c *fakeConn) delivered() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, w := range c.writes {
		if w != nil {
			out = append(out, w)
		}
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out results in order; the last one repeats.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(context.Context, string) (netutil.PacketConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.dials
	if i >= len(d.results) {
		i = len(d.results) - 1
	}
	d.dials++
	r := d.results[i]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type countingPrimitive struct {
	mu       sync.Mutex
	acquires int
	releases int
	fail     bool
}

func (p *countingPrimitive) Acquire(context.Context, time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	if p.fail {
		return errors.New("wake lock unavailable")
	}
	return nil
}

func (p *countingPrimitive) Release(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases++
	return nil
}

func (p *countingPrimitive) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires, p.releases
}

type harness struct {
	clock  *timeutil.MockClock
	store  *domain.SnapshotStore
	prim   *countingPrimitive
	leases *keepalive.Manager
	dialer *fakeDialer
	tx     *UDPTransmitter
}

func newHarness(t *testing.T, cfg config.StreamConfig, results ...dialResult) *harness {
	t.Helper()
	logger := quietLogger()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	prim := &countingPrimitive{}
	h := &harness{
		clock:  clock,
		store:  domain.NewSnapshotStore(),
		prim:   prim,
		leases: keepalive.NewManager(prim, clock, logger),
		dialer: &fakeDialer{results: results},
	}
	h.tx = New(cfg, h.store, h.leases, h.dialer, clock, logger)
	t.Cleanup(h.tx.Stop)
	return h
}

func (h *harness) stepUntil(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	h.clock.Advance(d)
	require.Eventually(t, cond, waitFor, pollEvery)
}

func testConfig() config.StreamConfig {
	cfg := config.DefaultStreamConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 9999
	cfg.IntervalMS = 100
	return cfg
}

func TestUDPTransmitter_SendsOncePerInterval(t *testing.T) {
	conn := &fakeConn{}
	h := newHarness(t, testConfig(), dialResult{conn: conn})
	require.NoError(t, h.store.SetVector(sensors.Accelerometer, sensors.Vector3{Z: 9.81}, h.clock.Now()))

	require.NoError(t, h.tx.Start(context.Background()))
	assert.Equal(t, Running, h.tx.State())

	for i := 1; i <= 10; i++ {
		want := i
		h.stepUntil(t, 100*time.Millisecond, func() bool { return len(conn.delivered()) == want })
	}

	packets := conn.delivered()
	require.Len(t, packets, 10)
	var last int64
	for _, b := range packets {
		p, err := codec.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, 100, p.UpdateIntervalMS)
		assert.InDelta(t, 9.81, p.Accelerometer.Z, 1e-6)
		assert.Greater(t, p.Timestamp, last)
		last = p.Timestamp
	}
	assert.Equal(t, uint64(10), h.tx.Stats().Sent)
}

func TestUDPTransmitter_FailedTickDoesNotStopLoop(t *testing.T) {
	refused := &net.OpError{Op: "write", Net: "udp", Err: os.NewSyscallError("write", syscall.ECONNREFUSED)}
	conn := &fakeConn{writeErr: func(n int) error {
		if n == 3 {
			return refused
		}
		return nil
	}}
	h := newHarness(t, testConfig(), dialResult{conn: conn})
	require.NoError(t, h.tx.Start(context.Background()))

	for i := 1; i <= 5; i++ {
		want := i
		h.stepUntil(t, 100*time.Millisecond, func() bool {
			s := h.tx.Stats()
			return int(s.Sent+s.Failed) == want
		})
	}

	s := h.tx.Stats()
	assert.Equal(t, uint64(4), s.Sent)
	assert.Equal(t, uint64(1), s.Failed)
	assert.Contains(t, s.LastError, "connection refused")
	assert.Equal(t, 1, h.dialer.count(), "transient errors keep the socket")
}

func TestUDPTransmitter_StopReleasesEverything(t *testing.T) {
	conn := &fakeConn{}
	h := newHarness(t, testConfig(), dialResult{conn: conn})
	require.NoError(t, h.tx.Start(context.Background()))
	assert.Equal(t, 1, h.leases.Active())
	assert.Equal(t, 2, h.clock.Tickers())

	h.stepUntil(t, 100*time.Millisecond, func() bool { return len(conn.delivered()) == 1 })

	h.tx.Stop()
	assert.Equal(t, Idle, h.tx.State())
	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, h.leases.Active())
	assert.Equal(t, 0, h.clock.Tickers())
	_, releases := h.prim.counts()
	assert.Equal(t, 1, releases)

	// No send after stop.
	h.clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, conn.delivered(), 1)

	// Idempotent
	h.tx.Stop()
	_, releases = h.prim.counts()
	assert.Equal(t, 1, releases)
}

func TestUDPTransmitter_StartContextDoesNotEndLoop(t *testing.T) {
	conn := &fakeConn{}
	h := newHarness(t, testConfig(), dialResult{conn: conn})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.tx.Start(ctx))
	cancel()

	for i := 1; i <= 5; i++ {
		want := i
		h.stepUntil(t, 100*time.Millisecond, func() bool { return len(conn.delivered()) == want })
	}
	assert.Equal(t, Running, h.tx.State())
	assert.Equal(t, uint64(5), h.tx.Stats().Sent)

	h.tx.Stop()
	assert.Equal(t, Idle, h.tx.State())
	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, h.leases.Active())
}

func TestUDPTransmitter_StartTwiceIsRejected(t *testing.T) {
	h := newHarness(t, testConfig(), dialResult{conn: &fakeConn{}})
	require.NoError(t, h.tx.Start(context.Background()))
	assert.ErrorIs(t, h.tx.Start(context.Background()), ErrNotIdle)
}

func TestUDPTransmitter_RestartAfterStop(t *testing.T) {
	c1, c2 := &fakeConn{}, &fakeConn{}
	h := newHarness(t, testConfig(), dialResult{conn: c1}, dialResult{conn: c2})

	require.NoError(t, h.tx.Start(context.Background()))
	h.tx.Stop()
	require.NoError(t, h.tx.Start(context.Background()))

	h.stepUntil(t, 100*time.Millisecond, func() bool { return len(c2.delivered()) == 1 })
	assert.Empty(t, c1.delivered())
}

func TestUDPTransmitter_BlockedStartFails(t *testing.T) {
	blocked := &net.OpError{Op: "dial", Net: "udp4", Err: os.NewSyscallError("socket", syscall.EACCES)}
	h := newHarness(t, testConfig(), dialResult{err: blocked})

	err := h.tx.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStartBlocked)
	assert.Equal(t, Idle, h.tx.State())
	assert.Equal(t, 0, h.leases.Active())
	assert.Equal(t, 0, h.clock.Tickers())
}

func TestUDPTransmitter_TransientStartRetriesOnTick(t *testing.T) {
	unreachable := &net.OpError{Op: "dial", Net: "udp4", Err: os.NewSyscallError("connect", syscall.ENETUNREACH)}
	conn := &fakeConn{}
	h := newHarness(t, testConfig(), dialResult{err: unreachable}, dialResult{conn: conn})

	require.NoError(t, h.tx.Start(context.Background()))
	assert.Equal(t, Running, h.tx.State())
	assert.Equal(t, uint64(1), h.tx.Stats().Failed)

	h.stepUntil(t, 100*time.Millisecond, func() bool { return len(conn.delivered()) == 1 })
	assert.Equal(t, 2, h.dialer.count())
	assert.Equal(t, uint64(1), h.tx.Stats().Reopened)
}

func TestUDPTransmitter_UnusableSocketIsReopened(t *testing.T) {
	dead := &fakeConn{writeErr: func(int) error { return net.ErrClosed }}
	fresh := &fakeConn{}
	h := newHarness(t, testConfig(), dialResult{conn: dead}, dialResult{conn: fresh})
	require.NoError(t, h.tx.Start(context.Background()))

	h.stepUntil(t, 100*time.Millisecond, func() bool { return h.tx.Stats().Failed == 1 })
	assert.True(t, dead.isClosed())

	h.stepUntil(t, 100*time.Millisecond, func() bool { return len(fresh.delivered()) == 1 })
	s := h.tx.Stats()
	assert.Equal(t, uint64(1), s.Reopened)
	assert.Equal(t, uint64(1), s.Sent)
}

func TestUDPTransmitter_RenewsLeaseIndependently(t *testing.T) {
	cfg := testConfig()
	cfg.IntervalMS = 10000
	h := newHarness(t, cfg, dialResult{conn: &fakeConn{}})
	h.tx.renewInterval = 150 * time.Millisecond

	require.NoError(t, h.tx.Start(context.Background()))
	lease := h.tx.lease
	require.NotNil(t, lease)
	before := lease.Expires()

	h.stepUntil(t, 150*time.Millisecond, func() bool {
		acquires, _ := h.prim.counts()
		return acquires == 2
	})
	assert.True(t, lease.Expires().After(before))
	assert.Zero(t, h.tx.Stats().Sent, "renewal does not depend on sends")
}

func TestUDPTransmitter_LeaseFailureIsNotFatal(t *testing.T) {
	conn := &fakeConn{}
	h := newHarness(t, testConfig(), dialResult{conn: conn})
	h.prim.fail = true

	require.NoError(t, h.tx.Start(context.Background()))
	assert.Equal(t, uint64(1), h.tx.Stats().LeaseFailures)

	h.stepUntil(t, 100*time.Millisecond, func() bool { return len(conn.delivered()) == 1 })
}

func TestUDPTransmitter_LoggingFlagRaisesPacketLogLevel(t *testing.T) {
	for _, logging := range []bool{true, false} {
		logger, hook := test.NewNullLogger()
		logger.SetLevel(logrus.DebugLevel)

		cfg := testConfig()
		cfg.Logging = logging
		conn := &fakeConn{}
		clock := timeutil.NewMockClock(time.Unix(0, 0))
		tx := New(cfg, domain.NewSnapshotStore(), keepalive.NewManager(keepalive.NoopPrimitive{}, clock, logger),
			&fakeDialer{results: []dialResult{{conn: conn}}}, clock, logger)

		require.NoError(t, tx.Start(context.Background()))
		clock.Advance(100 * time.Millisecond)
		require.Eventually(t, func() bool { return len(conn.delivered()) == 1 }, waitFor, pollEvery)
		tx.Stop()

		var level logrus.Level
		found := false
		for _, e := range hook.AllEntries() {
			if e.Message == "Sent telemetry packet" {
				level = e.Level
				found = true
			}
		}
		require.True(t, found)
		if logging {
			assert.Equal(t, logrus.InfoLevel, level)
		} else {
			assert.Equal(t, logrus.DebugLevel, level)
		}
	}
}
