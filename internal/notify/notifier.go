package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/sensor-stream/internal/config"
	"github.com/jkaberg/sensor-stream/internal/domain"
)

// termuxNotificationPath holds the absolute path to the termux-notification
// binary. Using an absolute path avoids the PATH lookup that would otherwise
// trigger the faccessat2 syscall, which is blocked by Android's seccomp
// policy on older versions (e.g. Android 10). PREFIX overrides the canonical
// Termux installation directory.
var (
	termuxNotificationPath       string
	termuxNotificationRemovePath string
)

func init() {
	prefix := os.Getenv("PREFIX")
	if prefix == "" {
		prefix = "/data/data/com.termux/files/usr"
	}
	termuxNotificationPath = prefix + "/bin/termux-notification"
	termuxNotificationRemovePath = prefix + "/bin/termux-notification-remove"
}

const (
	titleActive  = "Sensor Streaming Active"
	titleStopped = "Sensor Streaming Stopped"
)

// Runner executes a command. Swapped out in tests.
type Runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// TermuxNotifier shows the engine status as a persistent Android notification
// via the `termux-notification` CLI that ships with Termux.
//
// The same notification ID is always reused so the notification is updated
// in place. Errors from the command are logged at debug level only: outside
// of Android the notifier silently degrades. A short execution timeout keeps
// the status loop from ever blocking on Termux.
type TermuxNotifier struct {
	id     string
	run    Runner
	logger *logrus.Logger
}

// NewTermuxNotifier instantiates a notifier that re-uses a constant notification ID so
// the same notification is updated instead of new ones being created on every update.
func NewTermuxNotifier(logger *logrus.Logger) *TermuxNotifier {
	return &TermuxNotifier{ // ID 1337 chosen arbitrarily but consistently.
		id:     "1337",
		run:    execRunner,
		logger: logger,
	}
}

// Notify posts (or updates) a notification with the supplied title and message body.
func (n *TermuxNotifier) Notify(title, content string) {
	if title == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.NotifyTimeout)
	defer cancel()

	// https://wiki.termux.com/wiki/Termux-notification
	args := []string{
		"--id", n.id,
		"-t", title,
		"-c", content,
		"--priority", "low",
		"--ongoing",
	}

	if err := n.run(ctx, termuxNotificationPath, args...); err != nil {
		n.logger.WithError(err).Debug("termux-notification execution failed")
	}
}

// Clear removes the notification.
func (n *TermuxNotifier) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), config.NotifyTimeout)
	defer cancel()

	if err := n.run(ctx, termuxNotificationRemovePath, n.id); err != nil {
		n.logger.WithError(err).Debug("termux-notification-remove execution failed")
	}
}

// Render turns an engine Status into notification title and body.
func Render(s domain.Status) (title, content string) {
	if s.Running {
		return titleActive, fmt.Sprintf("Streaming sensor data to %s", s.Target)
	}
	if s.LastError != "" {
		return titleStopped, s.LastError
	}
	return titleStopped, "Not streaming"
}

// Watch keeps the notification in sync with statuses until ctx is done or
// the channel closes. Counter-only changes do not re-post.
func (n *TermuxNotifier) Watch(ctx context.Context, statuses <-chan domain.Status) error {
	var prev *domain.Status
	for {
		select {
		case <-ctx.Done():
			n.Clear()
			return ctx.Err()
		case s, ok := <-statuses:
			if !ok {
				n.Clear()
				return nil
			}
			if !domain.Changed(prev, &s) {
				continue
			}
			cur := s
			prev = &cur
			n.Notify(Render(s))
		}
	}
}
