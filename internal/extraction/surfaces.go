package extraction

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/browser"
	"github.com/xkilldash9x/extraction-cli/internal/config"
	"github.com/xkilldash9x/extraction-cli/internal/login"
	"github.com/xkilldash9x/extraction-cli/internal/rotation"
	"github.com/xkilldash9x/extraction-cli/internal/steps"
	"github.com/xkilldash9x/extraction-cli/internal/vision"
)

// Surfaces builds the screen-driven surfaces for a browser: one oracle and
// one auditor per browser, shared by the login and the step surfaces.
type Surfaces struct {
	cfg    *config.Config
	logger *zap.Logger
	opts   []vision.Option
}

// NewSurfaces creates the surface factory.
func NewSurfaces(cfg *config.Config, logger *zap.Logger, opts ...vision.Option) *Surfaces {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Surfaces{cfg: cfg, logger: logger, opts: opts}
}

func (f *Surfaces) build(b browser.Browser, report string) (*vision.Oracle, *vision.Auditor) {
	auditor := vision.NewAuditor(f.cfg.Screenshots, report, b, f.logger)
	opts := append([]vision.Option{vision.WithAuditor(auditor), vision.WithLogger(f.logger)}, f.opts...)
	return vision.NewOracle(b, f.cfg.Vision, opts...), auditor
}

// Login is a rotation.SurfaceFunc.
func (f *Surfaces) Login(b browser.Browser, report string) login.Surface {
	oracle, auditor := f.build(b, report)
	return login.Surface{UI: b, Oracle: oracle, Auditor: auditor}
}

// Steps is a SurfaceFunc.
func (f *Surfaces) Steps(b browser.Browser, report string) steps.Surface {
	oracle, auditor := f.build(b, report)
	return steps.Surface{UI: b, Oracle: oracle, Auditor: auditor}
}

var (
	_ rotation.SurfaceFunc = (*Surfaces)(nil).Login
	_ SurfaceFunc          = (*Surfaces)(nil).Steps
)
