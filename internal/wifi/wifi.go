package wifi

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/sensor-stream/internal/timeutil"
)

// Commander runs a command and returns its stdout.
type Commander func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommander(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// WiFiManager keeps the radio on for unattended hosts. Android may switch
// Wi-Fi off in deep sleep, which would silently drop every datagram.
type WiFiManager struct {
	cmd     Commander
	clock   timeutil.Clock
	timeout time.Duration
	settle  time.Duration
	logger  *logrus.Logger
}

// NewWiFiManager creates a new WiFi manager instance
func NewWiFiManager(clock timeutil.Clock, logger *logrus.Logger) *WiFiManager {
	return &WiFiManager{
		cmd:     execCommander,
		clock:   clock,
		timeout: 5 * time.Second,
		settle:  500 * time.Millisecond,
		logger:  logger,
	}
}

// IsWiFiEnabled checks if WiFi is currently enabled
func (w *WiFiManager) IsWiFiEnabled(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	// "1" if enabled, "0" if disabled
	output, err := w.cmd(ctx, "settings", "get", "global", "wifi_on")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(output)) == "1", nil
}

// EnableWiFi enables WiFi using the Android service command
func (w *WiFiManager) EnableWiFi(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	_, err := w.cmd(ctx, "svc", "wifi", "enable")
	return err
}

// CheckAndReenable checks if WiFi is disabled and re-enables it if needed.
// Returns true if WiFi was re-enabled.
func (w *WiFiManager) CheckAndReenable(ctx context.Context) (bool, error) {
	enabled, err := w.IsWiFiEnabled(ctx)
	if err != nil {
		return false, err
	}
	if enabled {
		return false, nil
	}

	w.logger.Info("WiFi is disabled, attempting to re-enable...")
	if err := w.EnableWiFi(ctx); err != nil {
		w.logger.WithError(err).Warn("Failed to enable WiFi")
		return false, err
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(w.settle):
	}

	enabled, err = w.IsWiFiEnabled(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("Failed to verify WiFi status after enabling")
		return true, nil // Assume it worked if we can't verify
	}
	if enabled {
		w.logger.Info("WiFi successfully re-enabled")
		return true, nil
	}
	w.logger.Warn("WiFi enable command succeeded but WiFi is still disabled")
	return false, nil
}

// MonitorWiFi periodically checks and re-enables WiFi until ctx is cancelled.
func (w *WiFiManager) MonitorWiFi(ctx context.Context, checkInterval time.Duration) error {
	ticker := w.clock.NewTicker(checkInterval)
	defer ticker.Stop()

	if _, err := w.CheckAndReenable(ctx); err != nil {
		w.logger.WithError(err).Debug("Initial WiFi check failed (non-fatal)")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if _, err := w.CheckAndReenable(ctx); err != nil {
				w.logger.WithError(err).Debug("WiFi check failed (non-fatal)")
			}
		}
	}
}
