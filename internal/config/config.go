// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is built once at
// process start and handed to the components that need it.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Reports     ReportsConfig     `mapstructure:"reports" yaml:"reports"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Vision      VisionConfig      `mapstructure:"vision" yaml:"vision"`
	Screenshots ScreenshotsConfig `mapstructure:"screenshots" yaml:"screenshots"`
	Login       LoginConfig       `mapstructure:"login" yaml:"login"`
	Extraction  ExtractionConfig  `mapstructure:"extraction" yaml:"extraction"`
	Notify      NotifyConfig      `mapstructure:"notify" yaml:"notify"`
	Queue       QueueConfig       `mapstructure:"queue" yaml:"queue"`
	History     HistoryConfig     `mapstructure:"history" yaml:"history"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// CredentialsConfig points at the account store.
type CredentialsConfig struct {
	Path        string        `mapstructure:"path" yaml:"path"`
	LockTimeout time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
}

// ReportsConfig controls where report step configs live and how output files are named.
type ReportsConfig struct {
	ConfigDir        string            `mapstructure:"config_dir" yaml:"config_dir"`
	PrevMonthReports []string          `mapstructure:"prev_month_reports" yaml:"prev_month_reports"`
	// FileNames maps a report name to "prefix,suffix"; the formatted date goes in between.
	FileNames      map[string]string `mapstructure:"file_names" yaml:"file_names"`
	DestinationDir string            `mapstructure:"destination_dir" yaml:"destination_dir"`
}

// BrowserConfig describes how the target browser is launched.
type BrowserConfig struct {
	ExecPath     string        `mapstructure:"exec_path" yaml:"exec_path"`
	ProfileDir   string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	URL          string        `mapstructure:"url" yaml:"url"`
	Headless     bool          `mapstructure:"headless" yaml:"headless"`
	WindowWidth  int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int           `mapstructure:"window_height" yaml:"window_height"`
	Args         []string      `mapstructure:"args" yaml:"args"`
	StartTimeout time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
}

// VisionConfig tunes the image recognition retry budgets.
type VisionConfig struct {
	Limit      int           `mapstructure:"limit" yaml:"limit"`
	MaxLimit   int           `mapstructure:"max_limit" yaml:"max_limit"`
	MinSleep   time.Duration `mapstructure:"min_sleep" yaml:"min_sleep"`
	MaxSleep   time.Duration `mapstructure:"max_sleep" yaml:"max_sleep"`
	Confidence float64       `mapstructure:"confidence" yaml:"confidence"`
	// DisappearCycles bounds how long WaitToDisappear keeps polling.
	DisappearCycles int `mapstructure:"disappear_cycles" yaml:"disappear_cycles"`
}

// ScreenshotsConfig controls the audit screenshots taken during steps.
type ScreenshotsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// LoginConfig holds the confirmation window used after a login submission.
type LoginConfig struct {
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SettleDelay     time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	PostSubmitPause time.Duration `mapstructure:"post_submit_pause" yaml:"post_submit_pause"`
}

// ExtractionConfig holds the retry policy for the non-login steps.
type ExtractionConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// NotifyConfig configures the notification webhook.
type NotifyConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	ServerName    string        `mapstructure:"server_name" yaml:"server_name"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RatePerMinute int           `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
}

// QueueConfig configures the single-instance queue runner.
type QueueConfig struct {
	LockPath    string        `mapstructure:"lock_path" yaml:"lock_path"`
	LockTimeout time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	Script      string        `mapstructure:"script" yaml:"script"`
	Schedule    string        `mapstructure:"schedule" yaml:"schedule"`
}

// HistoryConfig enables the optional login attempt journal.
type HistoryConfig struct {
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers the default value of every configuration key.
func SetDefaults(v *viper.Viper) {
	// Logger
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "extraction-cli")
	v.SetDefault("logger.log_file", "activity_logs.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	v.SetDefault("credentials.path", "./config/credentials.json")
	v.SetDefault("credentials.lock_timeout", "30s")

	v.SetDefault("reports.config_dir", "./config")
	v.SetDefault("reports.prev_month_reports", []string{})
	v.SetDefault("reports.destination_dir", ".")

	// Browser
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.start_timeout", "60s")

	// Vision
	v.SetDefault("vision.limit", 5)
	v.SetDefault("vision.max_limit", 50)
	v.SetDefault("vision.min_sleep", "5s")
	v.SetDefault("vision.max_sleep", "20s")
	v.SetDefault("vision.confidence", 0.5)
	v.SetDefault("vision.disappear_cycles", 5)

	v.SetDefault("screenshots.enabled", true)
	v.SetDefault("screenshots.dir", "screenshots")

	// Login confirmation window
	v.SetDefault("login.confirm_timeout", "10s")
	v.SetDefault("login.poll_interval", "1s")
	v.SetDefault("login.settle_delay", "2s")
	v.SetDefault("login.post_submit_pause", "1s")

	v.SetDefault("extraction.max_retries", 10)
	v.SetDefault("extraction.retry_delay", "3s")

	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.rate_per_minute", 30)

	v.SetDefault("queue.lock_path", "./reports_queue/manage_queue.lock")
	v.SetDefault("queue.lock_timeout", "10m")
	v.SetDefault("queue.script", "./reports_queue/manage_queue.sh")
}

// NewConfigFromViper builds, expands and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The notification variables historically lived outside the prefixed namespace.
	_ = v.BindEnv("notify.url", "EXTRACTION_NOTIFY_URL", "NOTIFY_URL")
	_ = v.BindEnv("notify.server_name", "EXTRACTION_NOTIFY_SERVER_NAME", "SERVER_NAME")
	_ = v.BindEnv("history.database_url", "EXTRACTION_HISTORY_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves "~" in every filesystem path of the configuration.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.Credentials.Path,
		&c.Reports.ConfigDir,
		&c.Reports.DestinationDir,
		&c.Browser.ExecPath,
		&c.Browser.ProfileDir,
		&c.Screenshots.Dir,
		&c.Queue.LockPath,
		&c.Queue.Script,
		&c.Logger.LogFile,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("could not resolve path '%s': %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// IsPrevMonthReport reports whether the named report covers the previous month.
func (c *Config) IsPrevMonthReport(report string) bool {
	for _, r := range c.Reports.PrevMonthReports {
		if strings.EqualFold(strings.TrimSpace(r), report) {
			return true
		}
	}
	return false
}

// Validate checks the configuration for values the components cannot work with.
func (c *Config) Validate() error {
	if c.Credentials.Path == "" {
		return fmt.Errorf("credentials.path is a required configuration field")
	}
	if c.Vision.Limit <= 0 || c.Vision.MaxLimit <= 0 {
		return fmt.Errorf("vision.limit and vision.max_limit must be positive integers")
	}
	if c.Vision.Confidence <= 0 || c.Vision.Confidence > 1 {
		return fmt.Errorf("vision.confidence must be in (0, 1]")
	}
	if err := c.Login.Validate(); err != nil {
		return fmt.Errorf("login configuration invalid: %w", err)
	}
	if c.Extraction.MaxRetries <= 0 {
		return fmt.Errorf("extraction.max_retries must be a positive integer")
	}
	if c.Queue.LockTimeout < 0 || c.Credentials.LockTimeout < 0 {
		return fmt.Errorf("lock timeouts must not be negative")
	}
	return nil
}

// Validate checks the confirmation window settings.
func (l *LoginConfig) Validate() error {
	if l.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm_timeout must be a positive duration")
	}
	if l.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if l.PollInterval > l.ConfirmTimeout {
		return fmt.Errorf("poll_interval must not exceed confirm_timeout")
	}
	return nil
}
