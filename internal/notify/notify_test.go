package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/extraction-cli/internal/config"
)

type captured struct {
	mu     sync.Mutex
	bodies []Payload
	ctype  string
}

func webhook(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var p Payload
		require.NoError(t, jsoniter.Unmarshal(raw, &p))
		c.mu.Lock()
		c.bodies = append(c.bodies, p)
		c.ctype = r.Header.Get("Content-Type")
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestNewPayload(t *testing.T) {
	p := NewPayload("duk008", StatusPasswordExpired, "srv-01", "Password expired for user alice")
	assert.Equal(t, Payload{
		Report:       "DUK008",
		Status:       "PASSWORD_EXPIRED",
		SourceServer: "srv-01",
		Extra:        "`Password expired for user alice`",
	}, p)

	assert.Empty(t, NewPayload("ic01", StatusFail, "", "").Extra)
}

func TestSendPostsPayload(t *testing.T) {
	srv, got := webhook(t, http.StatusOK)
	c := New(config.NotifyConfig{URL: srv.URL, ServerName: "srv-01", Timeout: time.Second}, zap.NewNop())

	require.NoError(t, c.Send(context.Background(), "duk008", StatusLoginError, "Login error for user bob"))

	require.Len(t, got.bodies, 1)
	assert.Equal(t, "DUK008", got.bodies[0].Report)
	assert.Equal(t, "LOGIN_ERROR", got.bodies[0].Status)
	assert.Equal(t, "srv-01", got.bodies[0].SourceServer)
	assert.Equal(t, "`Login error for user bob`", got.bodies[0].Extra)
	assert.Contains(t, got.ctype, "application/json")
}

func TestSendReportsHTTPErrors(t *testing.T) {
	srv, _ := webhook(t, http.StatusBadGateway)
	c := New(config.NotifyConfig{URL: srv.URL, Timeout: time.Second}, nil)

	err := c.Send(context.Background(), "duk008", StatusFail, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSendWithoutURL(t *testing.T) {
	c := New(config.NotifyConfig{}, nil)
	assert.ErrorIs(t, c.Send(context.Background(), "duk008", StatusFail, ""), ErrNoURL)
}

func TestNotifyNeverFails(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	srv, _ := webhook(t, http.StatusInternalServerError)
	c := New(config.NotifyConfig{URL: srv.URL, Timeout: time.Second}, logger)
	c.Notify(context.Background(), "duk008", StatusLoginError, "boom")
	assert.Equal(t, 1, logs.FilterMessage("Failed to send notification.").Len())

	// Unreachable host.
	dead := New(config.NotifyConfig{URL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond}, logger)
	dead.Notify(context.Background(), "duk008", StatusLoginError, "boom")
	assert.Equal(t, 2, logs.FilterMessage("Failed to send notification.").Len())

	New(config.NotifyConfig{}, logger).Notify(context.Background(), "duk008", StatusFail, "")
	assert.Equal(t, 1, logs.FilterMessage("Notification skipped, no webhook URL configured.").Len())
}

func TestSendHonorsRateLimit(t *testing.T) {
	srv, got := webhook(t, http.StatusOK)
	c := New(config.NotifyConfig{URL: srv.URL, Timeout: time.Second, RatePerMinute: 1}, nil)

	require.NoError(t, c.Send(context.Background(), "duk008", StatusFail, "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Send(ctx, "duk008", StatusFail, "second")
	require.Error(t, err)
	assert.Len(t, got.bodies, 1)
}
