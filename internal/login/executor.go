// Package login drives a single login attempt through the browser UI and
// classifies its result from what appears on screen afterwards.
package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/browser"
	"github.com/xkilldash9x/extraction-cli/internal/config"
	"github.com/xkilldash9x/extraction-cli/internal/credentials"
	"github.com/xkilldash9x/extraction-cli/internal/observability"
	"github.com/xkilldash9x/extraction-cli/internal/reportconfig"
	"github.com/xkilldash9x/extraction-cli/internal/vision"
)

var (
	ErrLoginFailed     = errors.New("login: attempt failed")
	ErrPasswordExpired = errors.New("login: password expired")
)

// Outcome classifies a login attempt.
type Outcome int

const (
	Failure Outcome = iota
	Success
	PasswordExpired
	// UnverifiedSuccess means no confirmation signal was configured and the
	// attempt was assumed to have worked after the settle delay.
	UnverifiedSuccess
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case PasswordExpired:
		return "password_expired"
	case UnverifiedSuccess:
		return "unverified_success"
	default:
		return "failure"
	}
}

// Authenticated reports whether the session can be used for the report steps.
func (o Outcome) Authenticated() bool {
	return o == Success || o == UnverifiedSuccess
}

// Oracle is the subset of the visual oracle the executor needs.
type Oracle interface {
	WaitFor(ctx context.Context, imagePath string) (vision.Point, error)
	Visible(ctx context.Context, imagePath string) (vision.Point, bool)
	Exists(ctx context.Context, imagePath string) (vision.Point, bool)
}

// Surface bundles what one attempt acts on.
type Surface struct {
	UI      browser.UI
	Oracle  Oracle
	Auditor *vision.Auditor
}

// Executor performs login attempts.
type Executor struct {
	cfg        config.LoginConfig
	fieldPause time.Duration
	signals    *observability.SignalEmitter
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper replaces the context-aware sleep, mostly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// NewExecutor creates an executor. fieldPause is the pause between form
// interactions; signals may be nil.
func NewExecutor(cfg config.LoginConfig, fieldPause time.Duration, signals *observability.SignalEmitter, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	e := &Executor{
		cfg:        cfg,
		fieldPause: fieldPause,
		signals:    signals,
		logger:     logger.Named("login"),
		sleep:      vision.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Attempt drives the login form for account using the images of the login
// step, then classifies the result. When the report has a password check
// step it runs after an otherwise successful login. Attempt never panics and
// never returns an error: anything that goes wrong is a Failure.
func (e *Executor) Attempt(ctx context.Context, s Surface, account credentials.Account, step reportconfig.Step, report *reportconfig.Report) (outcome Outcome) {
	logger := e.logger.With(zap.String("username", account.Username))
	signal := observability.SignalLoginFailed

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic during login attempt.", zap.Any("panic_value", r))
			outcome, signal = Failure, observability.SignalLoginFailed
		}
		e.emit(outcome, signal, account.Username)
	}()

	if report == nil {
		logger.Error("Login attempted without a report config.")
		return Failure
	}
	logger = logger.With(zap.String("report", report.Name))

	if err := e.submit(ctx, s, account, step); err != nil {
		logger.Warn("Login UI failed.", zap.Error(err))
		return Failure
	}

	outcome = e.confirm(ctx, s, report, logger)
	if outcome == PasswordExpired {
		signal = observability.SignalPasswordExpired
	}
	if !outcome.Authenticated() {
		return outcome
	}

	if check, ok := report.ExpiryCheckStep(); ok {
		if checked, sig, detected := e.checkExpiry(ctx, s, check, logger); detected {
			signal = sig
			return checked
		}
	}
	signal = observability.SignalLoginConfirmed
	return outcome
}

// CheckExpiry runs a password check step on its own: images[0] is the
// expired-password dialog, images[1] the login error dialog. detected is false
// when neither is on screen.
func (e *Executor) CheckExpiry(ctx context.Context, s Surface, account credentials.Account, step reportconfig.Step) (outcome Outcome, detected bool) {
	logger := e.logger.With(zap.String("username", account.Username), zap.String("step", step.Name))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic during login state check.", zap.Any("panic_value", r))
			outcome, detected = Failure, true
			e.emit(outcome, observability.SignalLoginError, account.Username)
		}
	}()

	o, sig, found := e.checkExpiry(ctx, s, step, logger)
	if found {
		e.emit(o, sig, account.Username)
	}
	return o, found
}

func (e *Executor) checkExpiry(ctx context.Context, s Surface, step reportconfig.Step, logger *zap.Logger) (Outcome, observability.SignalKind, bool) {
	if len(step.Images) == 0 {
		logger.Warn("No images configured for login state check.", zap.String("step", step.Name))
		return Failure, "", false
	}
	if img := step.Images[0]; img != "" {
		if _, ok := s.Oracle.Exists(ctx, img); ok {
			logger.Warn("Expired password detected.")
			return PasswordExpired, observability.SignalPasswordExpired, true
		}
	}
	if len(step.Images) > 1 && step.Images[1] != "" {
		if _, ok := s.Oracle.Exists(ctx, step.Images[1]); ok {
			logger.Warn("Login error detected.")
			return Failure, observability.SignalLoginError, true
		}
	}
	logger.Info("No login issues detected.", zap.String("step", step.Name))
	return Failure, "", false
}

// submit fills the login form: connect target, username field, then tab
// through password and database.
func (e *Executor) submit(ctx context.Context, s Surface, account credentials.Account, step reportconfig.Step) error {
	connect, err := step.Image(0)
	if err != nil {
		return err
	}
	userField, err := step.Image(2)
	if err != nil {
		return err
	}

	p, err := s.Oracle.WaitFor(ctx, connect)
	if err != nil {
		return fmt.Errorf("connect target: %w", err)
	}
	s.Auditor.Capture(ctx, step.Name+"_1")
	if err := s.UI.Click(ctx, p.X+75, p.Y); err != nil {
		return err
	}
	if err := s.UI.Press(ctx, browser.KeyDown, browser.KeyEnter); err != nil {
		return err
	}
	if err := e.sleep(ctx, e.fieldPause); err != nil {
		return err
	}

	p, err = s.Oracle.WaitFor(ctx, userField)
	if err != nil {
		return fmt.Errorf("username field: %w", err)
	}
	s.Auditor.Capture(ctx, step.Name+"_3")
	if err := s.UI.Click(ctx, p.X+100, p.Y); err != nil {
		return err
	}
	if err := e.sleep(ctx, e.fieldPause); err != nil {
		return err
	}
	if err := s.UI.Type(ctx, account.Username); err != nil {
		return err
	}
	if err := e.sleep(ctx, e.fieldPause); err != nil {
		return err
	}

	if err := s.UI.Press(ctx, browser.KeyTab); err != nil {
		return err
	}
	if err := s.UI.Type(ctx, account.Password); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+"_4")

	if err := s.UI.Press(ctx, browser.KeyTab); err != nil {
		return err
	}
	if err := s.UI.Type(ctx, account.Database); err != nil {
		return err
	}
	s.Auditor.Capture(ctx, step.Name+"_5")
	return s.UI.Press(ctx, browser.KeyEnter)
}

// confirm watches for the configured signals within the confirmation window.
// Each poll checks the expiry image first, then the explicit success image,
// then the first image of the step after login.
func (e *Executor) confirm(ctx context.Context, s Surface, report *reportconfig.Report, logger *zap.Logger) Outcome {
	if err := e.sleep(ctx, e.cfg.PostSubmitPause); err != nil {
		return Failure
	}

	expired := report.Meta.PasswordExpiredImage
	success := report.Meta.LoginSuccessImage
	next := report.NextStepImage()

	if expired == "" && success == "" && next == "" {
		logger.Warn("No login confirmation signal configured; assuming success after settle delay.",
			zap.Duration("settle_delay", e.cfg.SettleDelay))
		if err := e.sleep(ctx, e.cfg.SettleDelay); err != nil {
			return Failure
		}
		return UnverifiedSuccess
	}

	for elapsed := time.Duration(0); elapsed < e.cfg.ConfirmTimeout; elapsed += e.cfg.PollInterval {
		if expired != "" {
			if _, ok := s.Oracle.Visible(ctx, expired); ok {
				logger.Warn("Password expired dialog detected.")
				return PasswordExpired
			}
		}
		if success != "" {
			if _, ok := s.Oracle.Visible(ctx, success); ok {
				logger.Info("Login success image detected.")
				return Success
			}
		}
		if next != "" {
			if _, ok := s.Oracle.Visible(ctx, next); ok {
				logger.Info("Next step image detected; login confirmed.")
				return Success
			}
		}
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return Failure
		}
	}

	logger.Warn("No login confirmation signal seen within the confirmation window.",
		zap.Duration("confirm_timeout", e.cfg.ConfirmTimeout))
	return Failure
}

func (e *Executor) emit(o Outcome, sig observability.SignalKind, username string) {
	if sig == "" {
		return
	}
	if o.Authenticated() {
		sig = observability.SignalLoginConfirmed
	}
	e.signals.Emit(sig, username)
}
