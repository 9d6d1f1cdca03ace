package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/config"
)

func TestBuildAllocatorOptionsAddsConfiguredFlags(t *testing.T) {
	base := NewManager(config.BrowserConfig{}, zap.NewNop()).buildAllocatorOptions()

	m := NewManager(config.BrowserConfig{
		ExecPath:     "/usr/bin/chromium",
		ProfileDir:   "/tmp/profile",
		WindowWidth:  1280,
		WindowHeight: 720,
		Args:         []string{"--lang=fr-FR", "--kiosk"},
	}, zap.NewNop())
	opts := m.buildAllocatorOptions()

	// exec path, profile, window size and the two custom args.
	assert.Len(t, opts, len(base)+5)
}

func TestCombineContextCancelsOnEitherParent(t *testing.T) {
	t.Run("caller context", func(t *testing.T) {
		caller, cancel := context.WithCancel(context.Background())
		ctx, stop := combineContext(context.Background(), caller)
		defer stop()

		cancel()
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context not cancelled by caller")
		}
	})

	t.Run("session context", func(t *testing.T) {
		session, cancel := context.WithCancel(context.Background())
		ctx, stop := combineContext(session, context.Background())
		defer stop()

		cancel()
		<-ctx.Done()
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})
}

func TestClosedSessionRejectsActions(t *testing.T) {
	cancelled := false
	s := newSession(context.Background(), func() { cancelled = true }, zap.NewNop())
	require.NotEmpty(t, s.ID())

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()), "second close is a no-op")
	assert.True(t, cancelled)

	assert.ErrorIs(t, s.Click(context.Background(), 1, 1), ErrSessionClosed)
	_, err := s.Screenshot(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}
