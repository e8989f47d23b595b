package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jkaberg/sensor-stream/internal/bus"
	"github.com/jkaberg/sensor-stream/internal/config"
	"github.com/jkaberg/sensor-stream/internal/domain"
	"github.com/jkaberg/sensor-stream/internal/mqtt"
	"github.com/jkaberg/sensor-stream/internal/sensors"
	"github.com/jkaberg/sensor-stream/internal/timeutil"
)

// StatusWatcher follows the status bus until ctx is done.
type StatusWatcher interface {
	Watch(ctx context.Context, statuses <-chan domain.Status) error
}

// StatusPublisher mirrors statuses to a remote dashboard.
type StatusPublisher interface {
	PublishStatus(s domain.Status) error
	PublishAvailability(online bool) error
}

// CommandSubscriber delivers remote config commands.
type CommandSubscriber interface {
	Subscribe(topic string, handler mqtt.Handler) error
}

// WiFiMonitor keeps the radio on.
type WiFiMonitor interface {
	MonitorWiFi(ctx context.Context, checkInterval time.Duration) error
}

// Components are the optional collaborators around the Controller. Nil
// fields are skipped.
type Components struct {
	Sources      []sensors.Source
	Notifier     StatusWatcher
	Status       StatusPublisher
	Commands     CommandSubscriber
	CommandTopic string
	WiFi         WiFiMonitor
}

// Run starts streaming and every collaborator, then blocks until ctx is
// cancelled and the engine has shut down. It returns an error only when
// streaming cannot start and nothing could ever reconfigure it.
func Run(ctx context.Context, ctrl *Controller, statusBus *bus.Bus, comps Components, clock timeutil.Clock, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	grp, gctx := errgroup.WithContext(ctx)

	// Subscribe before Start so the first status is not missed.
	if comps.Notifier != nil {
		ch := statusBus.Subscribe()
		grp.Go(func() error {
			defer statusBus.Unsubscribe(ch)
			return comps.Notifier.Watch(gctx, ch)
		})
	}

	if comps.Status != nil {
		ch := statusBus.Subscribe()
		grp.Go(func() error {
			defer statusBus.Unsubscribe(ch)
			return publishStatuses(gctx, comps.Status, ch, logger)
		})
		grp.Go(func() error {
			ticker := clock.NewTicker(config.StatusPublishInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C():
					ctrl.PublishStatus()
				}
			}
		})
	}

	if comps.Commands != nil {
		queue := newCommandQueue(config.CommandQueueSize, logger)
		if err := comps.Commands.Subscribe(comps.CommandTopic, queue.Enqueue); err != nil {
			logger.WithError(err).Warn("Remote config commands unavailable")
			comps.Commands = nil
		} else {
			grp.Go(func() error { return queue.Run(gctx, ctrl.HandleConfigCommand) })
		}
	}

	if err := ctrl.Start(gctx); err != nil && comps.Commands == nil {
		ctrl.Shutdown()
		cancel()
		_ = grp.Wait()
		return err
	}

	// Sensor sources ---------------------------------------------------------
	for _, src := range comps.Sources {
		grp.Go(func() error {
			err := src.Run(gctx, ctrl.HandleReading)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).WithField("source", src.Name()).Error("Sensor source stopped")
			}
			return nil
		})
	}

	if comps.WiFi != nil {
		grp.Go(func() error { return comps.WiFi.MonitorWiFi(gctx, config.WiFiCheckInterval) })
	}

	grp.Go(func() error {
		<-gctx.Done()
		ctrl.Shutdown()
		return gctx.Err()
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Warn("app: background group exited")
	}
	return nil
}

func publishStatuses(ctx context.Context, pub StatusPublisher, statuses <-chan domain.Status, logger *logrus.Logger) error {
	for {
		select {
		case <-ctx.Done():
			if err := pub.PublishAvailability(false); err != nil {
				logger.WithError(err).Debug("Failed to publish offline availability")
			}
			return ctx.Err()
		case s, ok := <-statuses:
			if !ok {
				return nil
			}
			if err := pub.PublishStatus(s); err != nil {
				logger.WithError(err).Debug("Failed to publish status")
			}
		}
	}
}
