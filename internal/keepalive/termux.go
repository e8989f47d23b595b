package keepalive

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// Absolute paths avoid the PATH lookup, which trips Android's seccomp policy
// on older releases. PREFIX overrides the canonical Termux prefix.
var (
	termuxWakeLockPath   string
	termuxWakeUnlockPath string
)

func init() {
	prefix := os.Getenv("PREFIX")
	if prefix == "" {
		prefix = "/data/data/com.termux/files/usr"
	}
	termuxWakeLockPath = prefix + "/bin/termux-wake-lock"
	termuxWakeUnlockPath = prefix + "/bin/termux-wake-unlock"
}

// Runner executes a command and returns its error. Swapped out in tests.
type Runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// TermuxWakeLock holds a partial wake lock through the Termux:API helpers.
// termux-wake-lock has no timeout of its own; the Manager's lease expiry is
// what the renewal cadence is measured against, and re-running the command
// while held is harmless.
type TermuxWakeLock struct {
	run     Runner
	timeout time.Duration
	logger  *logrus.Logger
}

// NewTermuxWakeLock returns a Primitive that shells out to Termux.
func NewTermuxWakeLock(timeout time.Duration, logger *logrus.Logger) *TermuxWakeLock {
	return &TermuxWakeLock{run: execRunner, timeout: timeout, logger: logger}
}

// Acquire runs termux-wake-lock.
func (t *TermuxWakeLock) Acquire(ctx context.Context, _ time.Duration) error {
	return t.exec(ctx, termuxWakeLockPath)
}

// Release runs termux-wake-unlock.
func (t *TermuxWakeLock) Release(ctx context.Context) error {
	return t.exec(ctx, termuxWakeUnlockPath)
}

func (t *TermuxWakeLock) exec(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.run(ctx, path); err != nil {
		t.logger.WithError(err).WithField("cmd", path).Debug("termux wake-lock command failed")
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
