// Package rotation picks the first account that can log in for a report.
// Accounts are tried in priority order, each in a fresh browser, and every
// outcome is written back to the credential store before moving on.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/browser"
	"github.com/xkilldash9x/extraction-cli/internal/credentials"
	"github.com/xkilldash9x/extraction-cli/internal/history"
	"github.com/xkilldash9x/extraction-cli/internal/login"
	"github.com/xkilldash9x/extraction-cli/internal/notify"
	"github.com/xkilldash9x/extraction-cli/internal/reportconfig"
)

var (
	ErrNoValidCredentials = errors.New("rotation: no valid credentials found")
	ErrNoLoginStep        = errors.New("rotation: report config has no login step")
)

// NoValidCredentialsError is returned when every account was tried and none
// authenticated. Last is the error seen on the final failing account, if any.
type NoValidCredentialsError struct {
	Report string
	Tried  int
	Last   error
}

func (e *NoValidCredentialsError) Error() string {
	msg := fmt.Sprintf("no valid credentials for report %s after %d account(s)", e.Report, e.Tried)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *NoValidCredentialsError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrNoValidCredentials}
	}
	return []error{ErrNoValidCredentials, e.Last}
}

// AccountStore is the part of the credential store rotation mutates.
type AccountStore interface {
	Load(ctx context.Context) ([]credentials.Account, error)
	UpdateStatus(ctx context.Context, username string, status credentials.Status) error
	MarkExpired(ctx context.Context, username string) error
}

// ConfigLoader resolves a report config for a user folder.
type ConfigLoader interface {
	Load(report, userFolder string) (*reportconfig.Report, error)
}

// Launcher starts a browser.
type Launcher interface {
	Launch(ctx context.Context) (browser.Browser, error)
}

// Authenticator performs one login attempt.
type Authenticator interface {
	Attempt(ctx context.Context, s login.Surface, account credentials.Account, step reportconfig.Step, report *reportconfig.Report) login.Outcome
}

// Notifier delivers operator notifications. It must not fail.
type Notifier interface {
	Notify(ctx context.Context, report, status, message string)
}

// SurfaceFunc builds the login surface (input, oracle, auditor) for a browser.
type SurfaceFunc func(b browser.Browser, report string) login.Surface

// Deps are the collaborators of a Controller. Journal may be nil.
type Deps struct {
	Store         AccountStore
	Loader        ConfigLoader
	Launcher      Launcher
	Authenticator Authenticator
	Notifier      Notifier
	Journal       history.Recorder
	Surface       SurfaceFunc
}

// Result is the authenticated account and its report config with the login
// steps removed. The caller owns Browser and must close it.
type Result struct {
	RunID      string
	Account    credentials.Account
	Report     *reportconfig.Report
	ConfigPath string
	Outcome    login.Outcome
	Browser    browser.Browser
}

// Controller runs the credential rotation.
type Controller struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

// NewController creates a rotation controller.
func NewController(deps Deps, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Journal == nil {
		deps.Journal = history.Nop{}
	}
	return &Controller{deps: deps, logger: logger.Named("rotation"), now: time.Now}
}

// UserFolder is the per-user config folder for an account.
func UserFolder(a credentials.Account) string {
	if a.ConfigFolder != "" {
		return a.ConfigFolder
	}
	return strings.ToUpper(a.Username)
}

// SelectAndAuthenticate tries the stored accounts in order until one logs in.
// Per-account problems move on to the next account; only a store that cannot
// be loaded, a cancelled context or exhaustion are returned.
func (c *Controller) SelectAndAuthenticate(ctx context.Context, report string) (*Result, error) {
	runID := uuid.NewString()
	logger := c.logger.With(zap.String("run_id", runID), zap.String("report", report))

	accounts, err := c.deps.Store.Load(ctx)
	if err != nil {
		logger.Error("Failed to load credentials.", zap.Error(err))
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	logger.Info("Credentials loaded.", zap.Int("accounts", len(accounts)))

	var (
		current browser.Browser
		lastErr error
	)
	for i, account := range accounts {
		c.closeBrowser(current, logger)
		current = nil
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		alog := logger.With(zap.String("username", account.Username), zap.Int("position", i+1))
		alog.Info("Trying account.")

		b, err := c.deps.Launcher.Launch(ctx)
		if err != nil {
			alog.Warn("Could not start browser for account.", zap.Error(err))
			lastErr = err
			continue
		}
		current = b

		cfg, err := c.deps.Loader.Load(report, UserFolder(account))
		if err != nil {
			alog.Warn("Report config not found for user.", zap.Error(err))
			lastErr = err
			continue
		}
		step, _, ok := cfg.LoginStep()
		if !ok {
			alog.Warn("No login step for user.", zap.String("config", cfg.Path))
			lastErr = fmt.Errorf("%w: %s", ErrNoLoginStep, cfg.Path)
			continue
		}

		outcome := c.deps.Authenticator.Attempt(ctx, c.deps.Surface(b, report), account, step, cfg)
		if err := ctx.Err(); err != nil {
			// An interrupted attempt says nothing about the account.
			alog.Warn("Login attempt interrupted; account left unchanged.", zap.Error(err))
			c.closeBrowser(current, logger)
			return nil, err
		}
		c.journal(ctx, runID, report, account, outcome, alog)

		switch {
		case outcome.Authenticated():
			c.updateStatus(ctx, account, credentials.StatusValid, alog)
			if outcome == login.UnverifiedSuccess {
				alog.Warn("Login could not be verified; continuing as authenticated.")
			}
			alog.Info("Login successful.", zap.Stringer("outcome", outcome))
			return &Result{
				RunID:      runID,
				Account:    account,
				Report:     cfg.WithoutLoginSteps(),
				ConfigPath: cfg.Path,
				Outcome:    outcome,
				Browser:    b,
			}, nil

		case outcome == login.PasswordExpired:
			alog.Warn("Password expired.")
			c.updateStatus(ctx, account, credentials.StatusExpired, alog)
			if err := c.deps.Store.MarkExpired(ctx, account.Username); err != nil {
				alog.Error("Failed to mark account expired.", zap.Error(err))
			}
			c.deps.Notifier.Notify(ctx, report, notify.StatusPasswordExpired, "Password expired for user "+account.Username)
			lastErr = fmt.Errorf("%w: %s", login.ErrPasswordExpired, account.Username)

		default:
			alog.Warn("Login error.")
			c.updateStatus(ctx, account, credentials.StatusFailed, alog)
			c.deps.Notifier.Notify(ctx, report, notify.StatusLoginError, "Login error for user "+account.Username)
			lastErr = fmt.Errorf("%w: %s", login.ErrLoginFailed, account.Username)
		}
	}

	c.closeBrowser(current, logger)
	logger.Error("No valid credentials found.", zap.Int("accounts", len(accounts)), zap.Error(lastErr))
	return nil, &NoValidCredentialsError{Report: report, Tried: len(accounts), Last: lastErr}
}

func (c *Controller) updateStatus(ctx context.Context, account credentials.Account, status credentials.Status, logger *zap.Logger) {
	if err := c.deps.Store.UpdateStatus(ctx, account.Username, status); err != nil {
		logger.Error("Failed to update account status.", zap.String("status", string(status)), zap.Error(err))
	}
}

func (c *Controller) journal(ctx context.Context, runID, report string, account credentials.Account, outcome login.Outcome, logger *zap.Logger) {
	err := c.deps.Journal.Record(ctx, history.Attempt{
		RunID:       runID,
		Username:    account.Username,
		Report:      report,
		Outcome:     outcome.String(),
		AttemptedAt: c.now().UTC(),
	})
	if err != nil {
		logger.Warn("Failed to journal login attempt.", zap.Error(err))
	}
}

func (c *Controller) closeBrowser(b browser.Browser, logger *zap.Logger) {
	if b == nil {
		return
	}
	if err := b.Close(context.Background()); err != nil {
		logger.Warn("Failed to close browser.", zap.String("session_id", b.ID()), zap.Error(err))
	}
}
