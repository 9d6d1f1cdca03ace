// Package notify posts run outcomes to the operators' webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/extraction-cli/internal/config"
)

// Statuses sent by the rotation and extraction flows.
const (
	StatusPasswordExpired = "PASSWORD_EXPIRED"
	StatusLoginError      = "LOGIN_ERROR"
	StatusFail            = "FAIL"
)

// ErrNoURL is returned by Send when no webhook is configured.
var ErrNoURL = errors.New("notify: no webhook URL configured")

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Report       string `json:"report"`
	Status       string `json:"status"`
	SourceServer string `json:"source_server"`
	Extra        string `json:"extra"`
}

// Client sends notifications.
type Client struct {
	http    *resty.Client
	url     string
	server  string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a notification client.
func New(cfg config.NotifyConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
		burst = cfg.RatePerMinute
	}
	return &Client{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		url:     cfg.URL,
		server:  cfg.ServerName,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("notify"),
	}
}

// NewPayload builds the webhook body. A non-empty message is wrapped in backticks.
func NewPayload(report, status, server, message string) Payload {
	extra := ""
	if message != "" {
		extra = "`" + message + "`"
	}
	return Payload{
		Report:       strings.ToUpper(report),
		Status:       status,
		SourceServer: server,
		Extra:        extra,
	}
}

// Send posts one notification and reports what went wrong, if anything.
func (c *Client) Send(ctx context.Context, report, status, message string) error {
	if c.url == "" {
		return ErrNoURL
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: rate limiter: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(NewPayload(report, status, c.server, message)).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("notify: post failed: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("notify: webhook answered %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

// Notify is Send for callers that must not be interrupted by notification
// problems: failures are logged and dropped.
func (c *Client) Notify(ctx context.Context, report, status, message string) {
	err := c.Send(ctx, report, status, message)
	switch {
	case errors.Is(err, ErrNoURL):
		c.logger.Warn("Notification skipped, no webhook URL configured.", zap.String("report", report), zap.String("status", status))
	case err != nil:
		c.logger.Error("Failed to send notification.", zap.String("report", report), zap.String("status", status), zap.Error(err))
	default:
		c.logger.Info("Notification sent.", zap.String("report", report), zap.String("status", status))
	}
}
