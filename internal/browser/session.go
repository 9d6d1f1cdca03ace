// internal/browser/session.go
package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSessionClosed is returned for actions on a closed session.
var ErrSessionClosed = errors.New("browser: session closed")

// Key names a non-printable key.
type Key string

const (
	KeyEnter Key = kb.Enter
	KeyTab   Key = kb.Tab
	KeyDown  Key = kb.ArrowDown
	KeyUp    Key = kb.ArrowUp
	KeyF4    Key = kb.F4
)

// Modifier is a keyboard modifier for Hotkey.
type Modifier int

const (
	ModAlt Modifier = iota
	ModCtrl
	ModShift
)

func (m Modifier) cdp() input.Modifier {
	switch m {
	case ModCtrl:
		return input.ModifierCtrl
	case ModShift:
		return input.ModifierShift
	default:
		return input.ModifierAlt
	}
}

// UI is the input surface the login executor and step interpreter drive.
// Coordinates are viewport pixels, the same space screenshots are taken in.
type UI interface {
	Click(ctx context.Context, x, y int) error
	DoubleClick(ctx context.Context, x, y int) error
	Press(ctx context.Context, keys ...Key) error
	Type(ctx context.Context, text string) error
	Hotkey(ctx context.Context, mod Modifier, key Key) error
	Screenshot(ctx context.Context) (image.Image, error)
}

// Browser is a UI that owns a browser process.
type Browser interface {
	UI
	ID() string
	Close(ctx context.Context) error
}

// Session is one running browser with a single tab.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu       sync.Mutex
	isClosed bool
}

var _ Browser = (*Session)(nil)

func newSession(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(zap.String("session_id", id)),
	}
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string {
	return s.id
}

// Click performs a left click at (x, y).
func (s *Session) Click(ctx context.Context, x, y int) error {
	s.logger.Debug("Click.", zap.Int("x", x), zap.Int("y", y))
	return s.runActions(ctx, chromedp.MouseClickXY(float64(x), float64(y)))
}

// DoubleClick performs a left double click at (x, y).
func (s *Session) DoubleClick(ctx context.Context, x, y int) error {
	s.logger.Debug("Double click.", zap.Int("x", x), zap.Int("y", y))
	return s.runActions(ctx, chromedp.MouseClickXY(float64(x), float64(y), chromedp.ClickCount(2)))
}

// Press sends each key in order to the focused element.
func (s *Session) Press(ctx context.Context, keys ...Key) error {
	actions := make([]chromedp.Action, 0, len(keys))
	for _, k := range keys {
		actions = append(actions, chromedp.KeyEvent(string(k)))
	}
	return s.runActions(ctx, actions...)
}

// Type sends text one character at a time to the focused element.
func (s *Session) Type(ctx context.Context, text string) error {
	return s.runActions(ctx, chromedp.KeyEvent(text))
}

// Hotkey presses key while holding mod.
func (s *Session) Hotkey(ctx context.Context, mod Modifier, key Key) error {
	return s.runActions(ctx, chromedp.KeyEvent(string(key), chromedp.KeyModifiers(mod.cdp())))
}

// Screenshot captures the current viewport.
func (s *Session) Screenshot(ctx context.Context) (image.Image, error) {
	var buf []byte
	if err := s.runActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

// Close terminates the browser process. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Info("Browser closed.")
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// runActions executes chromedp actions bound to the session's lifetime while
// also honoring the caller's context.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// combineContext returns a child of parent that is also cancelled when other is done.
func combineContext(parent, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
