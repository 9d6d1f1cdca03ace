package reportconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/observability"
)

// Loader resolves report configs under a config directory:
// "<dir>/<FOLDER>/<report>.json" first, then the shared "<dir>/<report>.json".
type Loader struct {
	dir     string
	logger  *zap.Logger
	signals *observability.SignalEmitter
}

// NewLoader creates a loader rooted at dir. signals may be nil.
func NewLoader(dir string, logger *zap.Logger, signals *observability.SignalEmitter) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{dir: dir, logger: logger.Named("reportconfig"), signals: signals}
}

// Candidates lists the paths tried for report, in resolution order.
func (l *Loader) Candidates(report, userFolder string) []string {
	file := strings.ToLower(report) + ".json"
	var paths []string
	if userFolder != "" {
		paths = append(paths, filepath.Join(l.dir, strings.ToUpper(userFolder), file))
	}
	return append(paths, filepath.Join(l.dir, file))
}

// Load reads the first config found for report. userFolder may be empty to
// only consider the shared config.
func (l *Loader) Load(report, userFolder string) (*Report, error) {
	for _, path := range l.Candidates(report, userFolder) {
		l.logger.Debug("Looking for report config.", zap.String("path", path))
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reportconfig: read %s: %w", path, err)
		}

		r, err := Parse(report, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		r.Path = path
		l.logger.Info("Using report config file.", zap.String("path", path))
		l.signals.Emit(observability.SignalReportConfig, path)
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s (user folder %q)", ErrConfigNotFound, report, userFolder)
}
