// Package queue runs the report queue script under a single-instance lock
// and, optionally, on a cron schedule.
package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/config"
	"github.com/xkilldash9x/extraction-cli/internal/lock"
)

const (
	defaultLockTimeout = 10 * time.Minute
	progressEvery      = time.Minute
)

// ErrScriptFailed is returned when the queue script exits non-zero or cannot start.
var ErrScriptFailed = errors.New("queue: script failed")

// RunReport describes one queue run.
type RunReport struct {
	// Skipped is set when another instance held the lock for the whole wait.
	Skipped  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner runs the queue script while holding the queue lock.
type Runner struct {
	cfg    config.QueueConfig
	logger *zap.Logger
}

// NewRunner creates a queue runner.
func NewRunner(cfg config.QueueConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	return &Runner{cfg: cfg, logger: logger.Named("queue")}
}

// Run waits for the queue lock and runs the script. A lock that stays busy
// for the whole timeout is not an error: the run is reported as skipped.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	r.logger.Info("Starting queue run.", zap.String("script", r.cfg.Script))

	l, err := lock.Acquire(ctx, r.cfg.LockPath, lock.Options{
		Timeout:       r.cfg.LockTimeout,
		ProgressEvery: progressEvery,
		Logger:        r.logger,
	})
	if errors.Is(err, lock.ErrTimeout) {
		r.logger.Info("Queue lock is already held and the timeout was reached. Exiting.", zap.Duration("timeout", r.cfg.LockTimeout))
		return &RunReport{Skipped: true}, nil
	}
	if err != nil {
		return nil, err
	}
	r.logger.Info("Queue lock acquired.", zap.String("path", l.Path()))
	defer func() {
		if err := l.Release(); err != nil {
			r.logger.Error("Failed to release queue lock.", zap.Error(err))
			return
		}
		r.logger.Info("Queue lock released.")
	}()

	return r.runScript(ctx)
}

func (r *Runner) runScript(ctx context.Context) (*RunReport, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.cfg.Script)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	rep := &RunReport{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		r.logger.Info("Queue script executed successfully.", zap.Duration("duration", rep.Duration))
		return rep, nil
	case errors.As(err, &exitErr):
		r.logger.Error("Queue script failed.",
			zap.Int("exit_code", rep.ExitCode),
			zap.String("stdout", strings.TrimSpace(rep.Stdout)),
			zap.String("stderr", strings.TrimSpace(rep.Stderr)))
		return rep, fmt.Errorf("%w: exit code %d", ErrScriptFailed, rep.ExitCode)
	default:
		r.logger.Error("Error running queue script.", zap.Error(err))
		return rep, fmt.Errorf("%w: %w", ErrScriptFailed, err)
	}
}
