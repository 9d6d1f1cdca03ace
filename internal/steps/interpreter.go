// Package steps runs the non-login steps of a report config against an
// authenticated browser: navigation, period selection, query waits and the
// final export.
package steps

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/browser"
	"github.com/xkilldash9x/extraction-cli/internal/config"
	"github.com/xkilldash9x/extraction-cli/internal/reportconfig"
	"github.com/xkilldash9x/extraction-cli/internal/vision"
)

// ErrUnsupportedStep is returned for steps the interpreter does not run.
var ErrUnsupportedStep = errors.New("steps: unsupported step")

// Audit label suffixes.
const (
	labelStart = "_beginning"
	labelEnd   = "_final"
)

// Oracle is the visual oracle as used by the steps.
type Oracle interface {
	WaitFor(ctx context.Context, imagePath string) (vision.Point, error)
	LongWaitFor(ctx context.Context, imagePath string) (vision.Point, error)
	Exists(ctx context.Context, imagePath string) (vision.Point, bool)
	WaitToDisappear(ctx context.Context, imagePath string, keepAlive func(context.Context, vision.Point) error) error
}

// Surface is what the steps act on.
type Surface struct {
	UI      browser.UI
	Oracle  Oracle
	Auditor *vision.Auditor
}

// Settings holds what the steps need from the configuration.
type Settings struct {
	MinSleep       time.Duration
	MaxSleep       time.Duration
	DestinationDir string
	// FileNameTemplate is "prefix,suffix" for the exported file.
	FileNameTemplate string
	// PrevMonth dates the exported file in the previous month.
	PrevMonth bool
}

// SettingsFor extracts the settings of report from cfg.
func SettingsFor(cfg *config.Config, report string) Settings {
	return Settings{
		MinSleep:         cfg.Vision.MinSleep,
		MaxSleep:         cfg.Vision.MaxSleep,
		DestinationDir:   cfg.Reports.DestinationDir,
		FileNameTemplate: cfg.Reports.FileNames[strings.ToLower(report)],
		PrevMonth:        cfg.IsPrevMonthReport(report),
	}
}

// Interpreter executes report steps.
type Interpreter struct {
	report   string
	date     time.Time
	settings Settings
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithSleeper replaces the context-aware sleep.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(in *Interpreter) { in.sleep = fn }
}

// WithClock replaces the clock used when no date is given.
func WithClock(now func() time.Time) Option {
	return func(in *Interpreter) { in.now = now }
}

// NewInterpreter creates an interpreter for report. A zero date means
// "derive it from the clock".
func NewInterpreter(report string, date time.Time, settings Settings, logger *zap.Logger, opts ...Option) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	in := &Interpreter{
		report:   report,
		date:     date,
		settings: settings,
		logger:   logger.Named("steps").With(zap.String("report", report)),
		sleep:    vision.Sleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Run executes steps in order and stops at the first failure.
func (in *Interpreter) Run(ctx context.Context, s Surface, steps []reportconfig.Step) error {
	for _, step := range steps {
		in.logger.Info("Executing step.", zap.String("step", step.Name), zap.Strings("images", step.Images))
		if err := in.Execute(ctx, s, step); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs a single step.
func (in *Interpreter) Execute(ctx context.Context, s Surface, step reportconfig.Step) error {
	var err error
	switch step.Kind {
	case reportconfig.KindSelectResponsabilite:
		err = in.selectResponsabilite(ctx, s, step)
	case reportconfig.KindAcceptOptional:
		err = in.acceptOptional(ctx, s, step)
	case reportconfig.KindBrowse:
		err = in.browse(ctx, s, step)
	case reportconfig.KindSelectPeriode:
		err = in.selectPeriode(ctx, s, step)
	case reportconfig.KindWait:
		err = in.wait(ctx, s, step)
	case reportconfig.KindLongWait:
		err = in.longWait(ctx, s, step)
	case reportconfig.KindWaitLargeQuery:
		err = in.waitLargeQuery(ctx, s, step, true)
	case reportconfig.KindWaitLargeQueryDuk008:
		err = in.waitLargeQuery(ctx, s, step, false)
	case reportconfig.KindExtract:
		err = in.extract(ctx, s, step)
	case reportconfig.KindExtractIC01:
		err = in.extractIC01(ctx, s, step)
	case reportconfig.KindDownload:
		err = in.download(ctx, s, step)
	case reportconfig.KindConditions:
		err = in.conditions(ctx, s, step)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedStep, step.Kind)
	}
	if err != nil {
		in.logger.Warn("Step failed.", zap.String("step", step.Name), zap.Stringer("kind", step.Kind), zap.Error(err))
		return fmt.Errorf("step %s (%s): %w", step.Name, step.Kind, err)
	}
	return nil
}

// PeriodDate is the date used for period fields: the requested date, or one
// month back.
func (in *Interpreter) PeriodDate() time.Time {
	if !in.date.IsZero() {
		return in.date
	}
	return reportconfig.PreviousMonth(in.now())
}

// FileDate is the date stamped on the exported file.
func (in *Interpreter) FileDate() time.Time {
	switch {
	case !in.date.IsZero():
		return in.date
	case in.settings.PrevMonth:
		return reportconfig.PreviousMonth(in.now())
	default:
		return in.now()
	}
}

// Destination is the full path typed into the save dialog.
func (in *Interpreter) Destination(step reportconfig.Step) (string, error) {
	name, err := reportconfig.FileName(in.report, in.settings.FileNameTemplate, step, in.FileDate())
	if err != nil {
		return "", err
	}
	in.logger.Info("Export file name.", zap.String("file", name))
	return filepath.Join(in.settings.DestinationDir, name), nil
}

func (in *Interpreter) period(step reportconfig.Step) (string, error) {
	p, err := reportconfig.Period(step, in.PeriodDate())
	if err != nil {
		return "", err
	}
	in.logger.Info("Period.", zap.String("step", step.Name), zap.String("period", p))
	return p, nil
}

func (in *Interpreter) pause(ctx context.Context) error {
	return in.sleep(ctx, in.settings.MinSleep)
}

// images returns the first n images of step, failing if any is missing.
func images(step reportconfig.Step, n int) ([]string, error) {
	out := make([]string, n)
	for i := range out {
		img, err := step.Image(i)
		if err != nil {
			return nil, err
		}
		out[i] = img
	}
	return out, nil
}

// clickWhenVisible waits for img, optionally audits label, and clicks it.
func clickWhenVisible(ctx context.Context, s Surface, img, label string) error {
	p, err := s.Oracle.WaitFor(ctx, img)
	if err != nil {
		return err
	}
	if label != "" {
		s.Auditor.Capture(ctx, label)
	}
	return s.UI.Click(ctx, p.X, p.Y)
}

// clickIfPresent clicks img when it is on screen.
func clickIfPresent(ctx context.Context, s Surface, img string) error {
	if p, ok := s.Oracle.Exists(ctx, img); ok {
		return s.UI.Click(ctx, p.X, p.Y)
	}
	return nil
}

func keepAlive(s Surface) func(context.Context, vision.Point) error {
	return func(ctx context.Context, p vision.Point) error {
		return s.UI.Click(ctx, p.X, p.Y)
	}
}
