// Package vision locates reference images on the browser viewport. It is the
// only way the automation observes the application: every click target and
// every login signal is a template matched against a screenshot.
package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/config"
)

var (
	// ErrNotFound means the image was not on screen within the retry budget.
	ErrNotFound = errors.New("vision: image recognition failed")
	// ErrStillVisible means the image never went away.
	ErrStillVisible = errors.New("vision: image still visible")
)

// Screen produces screenshots of the surface being automated.
type Screen interface {
	Screenshot(ctx context.Context) (image.Image, error)
}

// Point is the on-screen center of a match.
type Point struct {
	X, Y int
}

// Oracle answers "where is this image" questions with bounded retries.
type Oracle struct {
	screen  Screen
	cfg     config.VisionConfig
	auditor *Auditor
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	templates map[string]*grayImage
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithAuditor records audit screenshots on notable recognition events.
func WithAuditor(a *Auditor) Option {
	return func(o *Oracle) { o.auditor = a }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Oracle) { o.logger = l.Named("vision") }
}

// WithSleeper replaces the context-aware sleep, mostly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Oracle) { o.sleep = fn }
}

// NewOracle creates an oracle over screen.
func NewOracle(screen Screen, cfg config.VisionConfig, opts ...Option) *Oracle {
	o := &Oracle{
		screen:    screen,
		cfg:       cfg,
		logger:    zap.NewNop(),
		sleep:     Sleep,
		templates: make(map[string]*grayImage),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Locate takes one screenshot and returns the center of the best match for
// imagePath, or ErrNotFound when no placement reaches the confidence threshold.
func (o *Oracle) Locate(ctx context.Context, imagePath string) (Point, error) {
	tpl, err := o.template(imagePath)
	if err != nil {
		return Point{}, err
	}
	shot, err := o.screen.Screenshot(ctx)
	if err != nil {
		return Point{}, fmt.Errorf("vision: screenshot: %w", err)
	}

	best, ok := matchTemplate(toGray(shot), tpl)
	if !ok || best.score < o.cfg.Confidence {
		return Point{}, fmt.Errorf("%w: %s", ErrNotFound, imagePath)
	}
	o.logger.Debug("Visual element identified.", zap.String("image", imagePath), zap.Float64("score", best.score))
	return Point{X: best.x + tpl.w/2, Y: best.y + tpl.h/2}, nil
}

// Visible is a single immediate check that never fails.
func (o *Oracle) Visible(ctx context.Context, imagePath string) (Point, bool) {
	p, err := o.Locate(ctx, imagePath)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			o.logger.Warn("Issue identifying visual element.", zap.String("image", imagePath), zap.Error(err))
		}
		return Point{}, false
	}
	return p, true
}

// Exists waits min_sleep for the UI to settle, then checks once. It never fails.
func (o *Oracle) Exists(ctx context.Context, imagePath string) (Point, bool) {
	if err := o.sleep(ctx, o.cfg.MinSleep); err != nil {
		return Point{}, false
	}
	p, ok := o.Visible(ctx, imagePath)
	if ok {
		o.auditor.Capture(ctx, imageName(imagePath)+"_check_found")
	} else {
		o.logger.Info("Visual element not detected.", zap.String("image", imagePath))
	}
	return p, ok
}

// WaitFor waits min_sleep, then tries up to vision.limit times, max_sleep apart.
func (o *Oracle) WaitFor(ctx context.Context, imagePath string) (Point, error) {
	return o.waitFor(ctx, imagePath, o.cfg.Limit)
}

// LongWaitFor is WaitFor with the vision.max_limit budget, for slow queries.
func (o *Oracle) LongWaitFor(ctx context.Context, imagePath string) (Point, error) {
	return o.waitFor(ctx, imagePath, o.cfg.MaxLimit)
}

func (o *Oracle) waitFor(ctx context.Context, imagePath string, limit int) (Point, error) {
	logger := o.logger.With(zap.String("image", imagePath))
	if err := o.sleep(ctx, o.cfg.MinSleep); err != nil {
		return Point{}, err
	}

	logger.Info("Scanning for visual element.")
	for attempt := 1; attempt <= limit; attempt++ {
		p, err := o.Locate(ctx, imagePath)
		if err == nil {
			logger.Info("Visual element identified.", zap.Int("attempt", attempt))
			return p, nil
		}
		if ctx.Err() != nil {
			return Point{}, ctx.Err()
		}
		if !errors.Is(err, ErrNotFound) {
			var pathErr *os.PathError
			if errors.As(err, &pathErr) {
				// A missing reference image will not appear by waiting.
				return Point{}, err
			}
			logger.Warn("Issue identifying visual element.", zap.Error(err))
			o.auditor.Capture(ctx, imageName(imagePath)+"_searching")
		}

		logger.Debug("Visual element not found yet.", zap.Int("attempt", attempt), zap.Int("limit", limit))
		if attempt < limit {
			if err := o.sleep(ctx, o.cfg.MaxSleep); err != nil {
				return Point{}, err
			}
		}
	}

	logger.Error("Unable to identify visual element.", zap.Int("attempts", limit))
	o.auditor.Capture(ctx, imageName(imagePath)+"_notfound")
	return Point{}, fmt.Errorf("%w: %s after %d attempts", ErrNotFound, imagePath, limit)
}

// WaitToDisappear polls every min_sleep until imagePath has been absent for
// vision.disappear_cycles checks. While the image is visible, keepAlive (when
// not nil) is called with its position to keep the session active. It gives
// up with ErrStillVisible after vision.max_limit visible checks.
func (o *Oracle) WaitToDisappear(ctx context.Context, imagePath string, keepAlive func(context.Context, Point) error) error {
	logger := o.logger.With(zap.String("image", imagePath))
	cycles := o.cfg.DisappearCycles
	if cycles <= 0 {
		cycles = 1
	}

	logger.Info("Monitoring for visual element to disappear.")
	absent, visible := 0, 0
	for {
		if p, ok := o.Visible(ctx, imagePath); ok {
			visible++
			if visible >= o.cfg.MaxLimit {
				o.auditor.Capture(ctx, imageName(imagePath)+"_still_visible")
				return fmt.Errorf("%w: %s after %d checks", ErrStillVisible, imagePath, visible)
			}
			if keepAlive != nil {
				if err := keepAlive(ctx, p); err != nil {
					logger.Warn("Keep-alive click failed.", zap.Error(err))
				}
			}
			o.auditor.Capture(ctx, imageName(imagePath)+"_current_status")
		} else {
			absent++
			logger.Debug("Awaiting visual element disappearance.", zap.Int("cycle", absent), zap.Int("cycles", cycles))
			if absent >= cycles {
				logger.Info("Visual element disappeared.")
				o.auditor.Capture(ctx, imageName(imagePath)+"_disappeared")
				return nil
			}
		}
		if err := o.sleep(ctx, o.cfg.MinSleep); err != nil {
			return err
		}
	}
}

func (o *Oracle) template(path string) (*grayImage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if g, ok := o.templates[path]; ok {
		return g, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vision: reference image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("vision: decode reference image %s: %w", path, err)
	}
	g := toGray(img)
	o.templates[path] = g
	return g, nil
}

func imageName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
