package vision

import (
	"context"
	"image/png"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/config"
)

// LastStateName is the file that always holds the most recent audit screenshot.
const LastStateName = "00_last_state"

// Auditor saves screenshots under <dir>/<report>/ for post-mortem review.
// A nil or disabled Auditor does nothing.
type Auditor struct {
	enabled bool
	dir     string
	screen  Screen
	logger  *zap.Logger
}

// NewAuditor creates an auditor writing to <cfg.Dir>/<report>.
func NewAuditor(cfg config.ScreenshotsConfig, report string, screen Screen, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := cfg.Dir
	if report != "" {
		dir = filepath.Join(dir, report)
	}
	return &Auditor{enabled: cfg.Enabled, dir: dir, screen: screen, logger: logger.Named("screenshots")}
}

// Capture saves <label>.png and refreshes 00_last_state.png. Failures are
// logged and otherwise ignored.
func (a *Auditor) Capture(ctx context.Context, label string) {
	if a == nil || !a.enabled {
		return
	}
	shot, err := a.screen.Screenshot(ctx)
	if err != nil {
		a.logger.Warn("Could not capture screenshot.", zap.String("label", label), zap.Error(err))
		return
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		a.logger.Warn("Could not create screenshot directory.", zap.String("dir", a.dir), zap.Error(err))
		return
	}

	for _, name := range []string{label, LastStateName} {
		path := filepath.Join(a.dir, name+".png")
		f, err := os.Create(path)
		if err != nil {
			a.logger.Warn("Could not save screenshot.", zap.String("path", path), zap.Error(err))
			return
		}
		err = png.Encode(f, shot)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			a.logger.Warn("Could not save screenshot.", zap.String("path", path), zap.Error(err))
			return
		}
	}
	a.logger.Debug("Screenshot saved.", zap.String("label", label))
}
