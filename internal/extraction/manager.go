// Package extraction runs a report end to end: credential rotation, then the
// report steps with a bounded number of retries.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/browser"
	"github.com/xkilldash9x/extraction-cli/internal/config"
	"github.com/xkilldash9x/extraction-cli/internal/notify"
	"github.com/xkilldash9x/extraction-cli/internal/rotation"
	"github.com/xkilldash9x/extraction-cli/internal/steps"
	"github.com/xkilldash9x/extraction-cli/internal/vision"
)

// SuccessMessage is the terminal message of a successful run.
const SuccessMessage = "Success"

var (
	ErrSetupFailed      = errors.New("extraction: login/setup failed")
	ErrRetriesExhausted = errors.New("extraction: retries exhausted")
)

// Authenticator selects and logs in an account for a report.
type Authenticator interface {
	SelectAndAuthenticate(ctx context.Context, report string) (*rotation.Result, error)
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, report, status, message string)
}

// SurfaceFunc builds the step surface for a browser.
type SurfaceFunc func(b browser.Browser, report string) steps.Surface

// Result describes a finished run.
type Result struct {
	RunID    string
	Username string
	Attempts int
	// Message is the one-line terminal message shown to the operator.
	Message string
}

// Manager runs extractions.
type Manager struct {
	cfg      *config.Config
	auth     Authenticator
	surface  SurfaceFunc
	notifier Notifier
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	stepOpts []steps.Option
}

// Option configures a Manager.
type Option func(*Manager)

// WithSleeper replaces the pause between attempts and inside steps.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		m.sleep = fn
		m.stepOpts = append(m.stepOpts, steps.WithSleeper(fn))
	}
}

// WithStepOptions passes options through to the step interpreter.
func WithStepOptions(opts ...steps.Option) Option {
	return func(m *Manager) { m.stepOpts = append(m.stepOpts, opts...) }
}

// NewManager creates an extraction manager. notifier may be nil.
func NewManager(cfg *config.Config, auth Authenticator, surface SurfaceFunc, notifier Notifier, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		auth:     auth,
		surface:  surface,
		notifier: notifier,
		logger:   logger.Named("extraction"),
		sleep:    vision.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run extracts report. date pins the period of previous-month reports and is
// ignored for the others; a zero date derives it from the clock.
//
// Every attempt logs in through credential rotation in a fresh browser; a
// rotation failure ends the run. Step failures are retried up to
// extraction.max_retries times.
func (m *Manager) Run(ctx context.Context, report string, date time.Time) (*Result, error) {
	if !date.IsZero() && !m.cfg.IsPrevMonthReport(report) {
		m.logger.Warn("Date argument is ignored for this report.", zap.String("report", report), zap.Time("date", date))
		date = time.Time{}
	}
	logger := m.logger.With(zap.String("report", report))
	logger.Info("Start extraction.", zap.Time("date", date))

	maxRetries := m.cfg.Extraction.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	interpreter := steps.NewInterpreter(report, date, steps.SettingsFor(m.cfg, report), m.logger, m.stepOpts...)

	res := &Result{}
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		res.Attempts = attempt
		logger.Info("Extraction attempt.", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		session, err := m.auth.SelectAndAuthenticate(ctx, report)
		if err != nil {
			if ctx.Err() != nil {
				return m.fail(ctx, report, res, ctx.Err())
			}
			res.Message = "Login/setup failed: " + err.Error()
			logger.Error(res.Message)
			return m.fail(ctx, report, res, fmt.Errorf("%w: %w", ErrSetupFailed, err))
		}
		res.RunID = session.RunID
		res.Username = session.Account.Username

		err = interpreter.Run(ctx, m.surface(session.Browser, report), session.Report.Steps)
		if cerr := session.Browser.Close(context.Background()); cerr != nil {
			logger.Warn("Failed to close browser.", zap.Error(cerr))
		}
		if err == nil {
			res.Message = SuccessMessage
			logger.Info("Extraction finished successfully.", zap.Int("attempt", attempt), zap.String("username", res.Username))
			return res, nil
		}
		if ctx.Err() != nil {
			res.Message = "Extraction cancelled: " + err.Error()
			return m.fail(ctx, report, res, ctx.Err())
		}

		lastErr = err
		logger.Warn(describe(err), zap.Int("attempt", attempt))
		if attempt < maxRetries {
			if err := m.sleep(ctx, m.cfg.Extraction.RetryDelay); err != nil {
				return m.fail(ctx, report, res, err)
			}
		}
	}

	res.Message = fmt.Sprintf("Extraction failed after %d attempts. Last error: %s", maxRetries, describe(lastErr))
	logger.Error(res.Message)
	return m.fail(ctx, report, res, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr))
}

func (m *Manager) fail(ctx context.Context, report string, res *Result, err error) (*Result, error) {
	if res.Message == "" {
		res.Message = err.Error()
	}
	if m.notifier != nil && ctx.Err() == nil {
		m.notifier.Notify(ctx, report, notify.StatusFail, res.Message)
	}
	return res, err
}

// describe labels a step error the way operators read them in the logs.
func describe(err error) string {
	if errors.Is(err, vision.ErrNotFound) || errors.Is(err, vision.ErrStillVisible) {
		return "UI detection error: " + err.Error()
	}
	return "Runtime error: " + err.Error()
}
