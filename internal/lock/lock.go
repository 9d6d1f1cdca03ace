// Package lock provides a cooperative, cross-process advisory file lock with a
// bounded wait. Waiters give up after the timeout instead of deadlocking.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ErrTimeout is returned when the lock could not be acquired within the wait budget.
var ErrTimeout = errors.New("lock: timed out waiting for lock")

const defaultRetryInterval = time.Second

// FileLock is an exclusive flock(2) on a dedicated lock file.
type FileLock struct {
	path string
	f    *os.File
}

// Options tune Acquire.
type Options struct {
	// Timeout bounds the total wait. Zero means a single non-blocking attempt.
	Timeout time.Duration
	// RetryInterval is the pause between attempts; defaults to one second.
	RetryInterval time.Duration
	// ProgressEvery logs a waiting message at this cadence; zero disables it.
	ProgressEvery time.Duration
	Logger        *zap.Logger
}

// Acquire takes an exclusive lock on path, creating the file when needed.
func Acquire(ctx context.Context, path string, opts Options) (*FileLock, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}

	start := time.Now()
	lastReport := start
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			logger.Debug("Lock acquired.", zap.String("path", path), zap.Duration("waited", time.Since(start)))
			return &FileLock{path: path, f: f}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EAGAIN) {
			f.Close()
			return nil, fmt.Errorf("lock: flock %s: %w", path, err)
		}

		elapsed := time.Since(start)
		if elapsed >= opts.Timeout {
			f.Close()
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, path, elapsed.Round(time.Second))
		}
		if opts.ProgressEvery > 0 && time.Since(lastReport) >= opts.ProgressEvery {
			logger.Info("Waiting for lock...", zap.String("path", path), zap.Duration("elapsed", elapsed.Round(time.Second)))
			lastReport = time.Now()
		}

		wait := interval
		if remaining := opts.Timeout - elapsed; remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// Release unlocks and closes the lock file. The file itself is left in place.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	defer func() { l.f = nil }()
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("lock: unlock %s: %w", l.path, err)
	}
	return l.f.Close()
}
