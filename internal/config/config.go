// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/tripreel-api/internal/poll"
)

// Workflow providers.
const (
	WorkflowNone          = "none"
	WorkflowHTTP          = "http"
	WorkflowStepFunctions = "stepfunctions"
)

// Job stores.
const (
	JobStoreMemory   = "memory"
	JobStorePostgres = "postgres"
)

// Static errors for configuration validation.
var (
	// ErrInvalidWorkflowProvider is returned for an unknown WORKFLOW_PROVIDER.
	ErrInvalidWorkflowProvider = errors.New("config: WORKFLOW_PROVIDER must be none, http or stepfunctions")
	// ErrWorkflowURLRequired is returned when the http provider has no WORKFLOW_URL.
	ErrWorkflowURLRequired = errors.New("config: WORKFLOW_URL is required for the http workflow provider")
	// ErrStateMachineARNRequired is returned when the stepfunctions provider has no ARN.
	ErrStateMachineARNRequired = errors.New("config: WORKFLOW_STATE_MACHINE_ARN is required for the stepfunctions workflow provider")
	// ErrWorkflowNeedsS3 is returned when a workflow provider is set without S3.
	ErrWorkflowNeedsS3 = errors.New("config: a workflow provider requires S3_BUCKET and S3_REGION")
	// ErrInvalidJobStore is returned for an unknown JOB_STORE.
	ErrInvalidJobStore = errors.New("config: JOB_STORE must be memory or postgres")
	// ErrDatabaseURLRequired is returned when JOB_STORE=postgres has no DATABASE_URL.
	ErrDatabaseURLRequired = errors.New("config: DATABASE_URL is required when JOB_STORE=postgres")
	// ErrInvalidValue is returned for out-of-range numeric settings.
	ErrInvalidValue = errors.New("config: invalid value")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port        int `env:"PORT, default=8080" json:"port"`
	MaxUploadMB int `env:"MAX_UPLOAD_MB, default=512" json:"max_upload_mb"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/tripreel" json:"temp_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Slideshow settings
	SlideshowOutputKey string  `env:"SLIDESHOW_OUTPUT_KEY, default=slideshows/{job_id}.mp4" json:"slideshow_output_key"`
	SlideshowFPS       float64 `env:"SLIDESHOW_FPS, default=10" json:"slideshow_fps"`
	ImageSeconds       float64 `env:"IMAGE_SECONDS, default=5" json:"image_seconds"`
	FFmpegPath         string  `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath        string  `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Captioning settings
	GeminiAPIKey          string `env:"GEMINI_API_KEY" json:"-"` // Masked in JSON
	GeminiModel           string `env:"GEMINI_MODEL, default=gemini-1.5-pro" json:"gemini_model"`
	CaptionPollIntervalMS int    `env:"CAPTION_POLL_INTERVAL_MS, default=2000" json:"caption_poll_interval_ms"`
	CaptionPollTimeoutSec int    `env:"CAPTION_POLL_TIMEOUT_SEC, default=600" json:"caption_poll_timeout_sec"`

	// Workflow settings
	WorkflowProvider       string `env:"WORKFLOW_PROVIDER, default=none" json:"workflow_provider"`
	WorkflowURL            string `env:"WORKFLOW_URL" json:"workflow_url,omitempty"`
	WorkflowToken          string `env:"WORKFLOW_TOKEN" json:"-"` // Masked in JSON
	StateMachineARN        string `env:"WORKFLOW_STATE_MACHINE_ARN" json:"workflow_state_machine_arn,omitempty"`
	WorkflowPollIntervalMS int    `env:"WORKFLOW_POLL_INTERVAL_MS, default=5000" json:"workflow_poll_interval_ms"`
	WorkflowPollTimeoutSec int    `env:"WORKFLOW_POLL_TIMEOUT_SEC, default=1800" json:"workflow_poll_timeout_sec"`

	// Job settings
	JobStore          string `env:"JOB_STORE, default=memory" json:"job_store"`
	DatabaseURL       string `env:"DATABASE_URL" json:"-"` // Masked in JSON
	MaxConcurrentJobs int    `env:"MAX_CONCURRENT_JOBS, default=2" json:"max_concurrent_jobs"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// CaptionEnabled returns true if a Gemini API key is configured.
func (c *Config) CaptionEnabled() bool {
	return c.GeminiAPIKey != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.WorkflowProvider {
	case WorkflowNone:
	case WorkflowHTTP:
		if c.WorkflowURL == "" {
			return ErrWorkflowURLRequired
		}
	case WorkflowStepFunctions:
		if c.StateMachineARN == "" {
			return ErrStateMachineARNRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidWorkflowProvider, c.WorkflowProvider)
	}
	if c.WorkflowProvider != WorkflowNone && !c.S3Enabled() {
		return ErrWorkflowNeedsS3
	}

	switch c.JobStore {
	case JobStoreMemory:
	case JobStorePostgres:
		if c.DatabaseURL == "" {
			return ErrDatabaseURLRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidJobStore, c.JobStore)
	}

	checks := []struct {
		name string
		ok   bool
	}{
		{"PORT", c.Port > 0 && c.Port < 65536},
		{"SLIDESHOW_FPS", c.SlideshowFPS > 0},
		{"IMAGE_SECONDS", c.ImageSeconds > 0},
		{"MAX_CONCURRENT_JOBS", c.MaxConcurrentJobs > 0},
		{"MAX_UPLOAD_MB", c.MaxUploadMB > 0},
		{"CAPTION_POLL_INTERVAL_MS", c.CaptionPollIntervalMS > 0},
		{"CAPTION_POLL_TIMEOUT_SEC", c.CaptionPollTimeoutSec > 0},
		{"WORKFLOW_POLL_INTERVAL_MS", c.WorkflowPollIntervalMS > 0},
		{"WORKFLOW_POLL_TIMEOUT_SEC", c.WorkflowPollTimeoutSec > 0},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%w: %s", ErrInvalidValue, chk.name)
		}
	}
	return nil
}

// MaxUploadBytes returns the multipart upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// CaptionPollPolicy returns the policy for waiting on uploaded caption files.
func (c *Config) CaptionPollPolicy() poll.Policy {
	return pollPolicy(c.CaptionPollIntervalMS, c.CaptionPollTimeoutSec)
}

// WorkflowPollPolicy returns the policy for waiting on orchestrator executions.
func (c *Config) WorkflowPollPolicy() poll.Policy {
	return pollPolicy(c.WorkflowPollIntervalMS, c.WorkflowPollTimeoutSec)
}

// pollPolicy backs off from intervalMS up to eight times that, and caps the
// attempts at what a fixed interval would fit into the timeout.
func pollPolicy(intervalMS, timeoutSec int) poll.Policy {
	interval := time.Duration(intervalMS) * time.Millisecond
	timeout := time.Duration(timeoutSec) * time.Second
	return poll.Policy{
		InitialInterval: interval,
		MaxInterval:     8 * interval,
		Multiplier:      2,
		MaxAttempts:     int(timeout/interval) + 1,
		Timeout:         timeout,
	}
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs colourised human-readable logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, S3Bucket: %s, S3Region: %s, SlideshowOutputKey: %s, SlideshowFPS: %g, ImageSeconds: %g, GeminiModel: %s, GeminiAPIKey: %s, WorkflowProvider: %s, JobStore: %s, MaxConcurrentJobs: %d, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		c.SlideshowOutputKey,
		c.SlideshowFPS,
		c.ImageSeconds,
		c.GeminiModel,
		mask(c.GeminiAPIKey),
		c.WorkflowProvider,
		c.JobStore,
		c.MaxConcurrentJobs,
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
