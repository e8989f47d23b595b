package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/sensor-stream/internal/bus"
	"github.com/jkaberg/sensor-stream/internal/config"
	"github.com/jkaberg/sensor-stream/internal/domain"
	"github.com/jkaberg/sensor-stream/internal/orientation"
	"github.com/jkaberg/sensor-stream/internal/sensors"
	"github.com/jkaberg/sensor-stream/internal/timeutil"
	"github.com/jkaberg/sensor-stream/internal/transmission"
)

// ErrShutdown is returned by lifecycle calls made after Shutdown.
var ErrShutdown = errors.New("engine is shut down")

// Factory builds an idle transmitter for cfg.
type Factory func(cfg config.StreamConfig) transmission.Transmitter

// Controller owns the single active transmitter and swaps it on
// reconfiguration. Lifecycle calls are serialised; sensor updates only touch
// the snapshot store and never wait on the lifecycle lock.
type Controller struct {
	store  *config.Store
	snaps  *domain.SnapshotStore
	status *bus.Bus
	newTx  Factory
	clock  timeutil.Clock
	logger *logrus.Logger

	mu       sync.Mutex
	ctx      context.Context
	tx       transmission.Transmitter
	lastErr  string
	shutdown bool
}

// NewController wires a controller. Nothing runs until Start.
func NewController(store *config.Store, snaps *domain.SnapshotStore, status *bus.Bus, newTx Factory, clock timeutil.Clock, logger *logrus.Logger) *Controller {
	return &Controller{
		store:  store,
		snaps:  snaps,
		status: status,
		newTx:  newTx,
		clock:  clock,
		logger: logger,
		ctx:    context.Background(),
	}
}

// Start begins streaming with the stored config. Calling Start while already
// streaming does nothing. On failure the engine stays idle and a later Start
// or ApplyConfig retries.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return ErrShutdown
	}
	c.ctx = ctx
	if c.tx != nil && c.tx.State() == transmission.Running {
		return nil
	}

	err := c.startLocked(c.store.Current())
	c.publishLocked()
	return err
}

// ApplyConfig validates and persists cfg, then replaces the running
// transmitter. An invalid cfg returns an error wrapping
// config.ErrInvalidConfig and leaves everything as it was.
func (c *Controller) ApplyConfig(cfg config.StreamConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return ErrShutdown
	}
	return c.restartLocked(cfg, c.store.Update(cfg))
}

// ApplyPatch merges p onto the live config and applies the result.
func (c *Controller) ApplyPatch(p config.StreamPatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return ErrShutdown
	}
	cfg, err := c.store.Patch(p)
	return c.restartLocked(cfg, err)
}

// restartLocked swaps to cfg once the store accepted it. A config that was
// applied but not saved still takes effect.
func (c *Controller) restartLocked(cfg config.StreamConfig, updateErr error) error {
	if updateErr != nil {
		if !errors.Is(updateErr, config.ErrPersist) {
			return updateErr
		}
		c.logger.WithError(updateErr).Warn("Stream config applied but not saved")
	}

	c.stopLocked()
	err := c.startLocked(cfg)
	c.publishLocked()
	return err
}

// OnSensorUpdate records one raw sample. Rotation vectors are fused into an
// orientation estimate; other types are stored as three-axis vectors.
// Unusable readings are dropped.
func (c *Controller) OnSensorUpdate(t sensors.Type, values []float32) {
	now := c.clock.Now()

	if t == sensors.RotationVector {
		est, err := orientation.FuseValues(values)
		if err != nil {
			c.logger.WithError(err).Debug("Dropping rotation vector reading")
			return
		}
		c.snaps.SetOrientation(est, now)
		return
	}

	v, err := sensors.VectorFromValues(values)
	if err == nil {
		err = c.snaps.SetVector(t, v, now)
	}
	if err != nil {
		c.logger.WithError(err).WithField("type", t).Debug("Dropping sensor reading")
	}
}

// HandleReading adapts OnSensorUpdate to sensors.Handler.
func (c *Controller) HandleReading(r sensors.Reading) {
	c.OnSensorUpdate(r.Type, r.Values)
}

// Shutdown stops streaming for good. Later calls do nothing.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return
	}
	c.shutdown = true
	c.stopLocked()
	c.publishLocked()
	c.logger.Info("Engine shut down")
}

// Status returns the current engine status.
func (c *Controller) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// PublishStatus pushes the current status onto the bus.
func (c *Controller) PublishStatus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked()
}

func (c *Controller) startLocked(cfg config.StreamConfig) error {
	tx := c.newTx(cfg)
	if err := tx.Start(c.ctx); err != nil {
		c.tx = nil
		c.lastErr = err.Error()
		c.logger.WithError(err).WithField("target", cfg.Addr()).Error("Failed to start streaming")
		return fmt.Errorf("start streaming to %s: %w", cfg.Addr(), err)
	}
	c.tx = tx
	c.lastErr = ""
	return nil
}

func (c *Controller) stopLocked() {
	if c.tx == nil {
		return
	}
	c.tx.Stop()
	c.tx = nil
}

func (c *Controller) statusLocked() domain.Status {
	cfg := c.store.Current()
	st := domain.Status{
		State:     transmission.Idle.String(),
		LastError: c.lastErr,
		UpdatedAt: c.clock.Now(),
	}
	if c.tx != nil {
		cfg = c.tx.Config()
		state := c.tx.State()
		stats := c.tx.Stats()
		st.Running = state == transmission.Running
		st.State = state.String()
		st.Sent = stats.Sent
		st.Failed = stats.Failed
	}
	st.Target = cfg.Addr()
	st.IntervalMS = cfg.IntervalMS
	st.Logging = cfg.Logging
	return st
}

func (c *Controller) publishLocked() {
	if c.status != nil {
		c.status.Publish(c.statusLocked())
	}
}
