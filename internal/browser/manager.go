// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/config"
)

const defaultStartTimeout = 60 * time.Second

// Manager launches one browser process per session. Every login attempt gets a
// fresh process so no cookies or dialogs leak from one account to the next.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewManager creates a browser manager for the given configuration.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger.Named("browser_manager")}
}

// Open launches the browser, opens the application URL and returns the session.
// The caller owns the session and must Close it.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	m.logger.Info("Launching browser...", zap.String("url", m.cfg.URL), zap.Bool("headless", m.cfg.Headless))

	// The browser outlives the call that opened it; it is torn down by Session.Close.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), m.buildAllocatorOptions()...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	s := newSession(tabCtx, func() {
		cancelTab()
		cancelAlloc()
	}, m.logger)

	// The first Run allocates the browser; it must not carry a deadline or the
	// whole process is killed when the deadline passes.
	if err := chromedp.Run(tabCtx); err != nil {
		_ = s.Close(context.Background())
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	timeout := m.cfg.StartTimeout
	if timeout <= 0 {
		timeout = defaultStartTimeout
	}
	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := m.cfg.URL
	if target == "" {
		target = "about:blank"
	}
	if err := s.runActions(startCtx, chromedp.Navigate(target)); err != nil {
		_ = s.Close(context.Background())
		return nil, fmt.Errorf("browser failed to start or load %s: %w", target, err)
	}

	m.logger.Info("Browser launched successfully.", zap.String("session_id", s.ID()))
	return s, nil
}

// Launch is Open behind the Browser interface.
func (m *Manager) Launch(ctx context.Context) (Browser, error) {
	s, err := m.Open(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// buildAllocatorOptions assembles the launch flags for the configured browser.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	// Later flags override the defaults; a false flag is not passed at all.
	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-gpu", m.cfg.Headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("start-maximized", !m.cfg.Headless),
	)
	if m.cfg.WindowWidth > 0 && m.cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight))
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	if m.cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(m.cfg.ProfileDir))
	}

	// Add custom arguments from config.yaml.
	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")

		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for running inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}
