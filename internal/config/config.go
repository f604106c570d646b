// Package config provides the configuration structure for the personalizer
// service.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// EnvConfigPath overrides configurator discovery with a local TOML file.
const EnvConfigPath = "PERSONALIZER_CONFIG"

// Default values applied when a section omits a field.
const (
	defaultContextBefore     = 2
	defaultContextAfter      = 0
	defaultPadMs             = 150
	defaultMinClipSeconds    = 2.0
	defaultOverlayWidth      = 320
	defaultOverlayPosition   = "W-w-40:H-h-40"
	defaultTimeoutSeconds    = 120
	defaultSendRetries       = 2
	defaultSendBackoff       = 2 * time.Second
	defaultPollInterval      = 5 * time.Second
	defaultPollBudgetMinutes = 15
	defaultPreviewTTLMinutes = 30
	defaultMediaSizeLimit    = 100 * 1024 * 1024
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                string `toml:"url"`
	JobSubject         string `toml:"job_subject"`
	OutcomeSubject     string `toml:"outcome_subject"`
	PreviewCacheBucket string `toml:"preview_cache_bucket"`
	PreviewTTLMinutes  int    `toml:"preview_ttl_minutes"`
}

// ServiceConfig holds the endpoint and credentials for one remote service
// family. Every family shares the same shape.
type ServiceConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// MessagingConfig holds the messaging service endpoint and instance binding.
type MessagingConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Instance       string `toml:"instance"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	SendRetries    int    `toml:"send_retries"`
	WebhookURL     string `toml:"webhook_url"`
	MediaSizeLimit int64  `toml:"media_size_limit_bytes"`
}

// PipelineConfig holds the token locator and orchestrator tunables.
// ContextBefore is a pointer so that an explicit zero-word window stays
// distinguishable from an omitted field.
type PipelineConfig struct {
	ContextBefore     *int    `toml:"context_before"`
	ContextAfter      int     `toml:"context_after"`
	PadMs             int     `toml:"pad_ms"`
	MinClipSeconds    float64 `toml:"min_clip_seconds"`
	PollBudgetMinutes int     `toml:"poll_budget_minutes"`
}

// MediaConfig holds the media tool binaries and overlay parameters.
type MediaConfig struct {
	FFmpegPath      string `toml:"ffmpeg_path"`
	FFprobePath     string `toml:"ffprobe_path"`
	OverlayWidth    int    `toml:"overlay_width"`
	OverlayPosition string `toml:"overlay_position"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	WorkDir     string `toml:"work_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Speech    ServiceConfig   `toml:"speech_service"`
	Avatar    ServiceConfig   `toml:"avatar_service"`
	Messaging MessagingConfig `toml:"messaging"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Media     MediaConfig     `toml:"media"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the personalizer service. A local file
// named by PERSONALIZER_CONFIG takes precedence; otherwise the central
// configurator is consulted.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	if path := os.Getenv(EnvConfigPath); path != "" {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, readErr)
		}

		unmarshalErr := toml.Unmarshal(data, &cfg)
		if unmarshalErr != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, unmarshalErr)
		}

		cfg.ApplyDefaults()

		return &cfg, nil
	}

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.Pipeline.ContextBefore == nil {
		before := defaultContextBefore
		c.Pipeline.ContextBefore = &before
	}

	if c.Pipeline.ContextAfter < 0 {
		c.Pipeline.ContextAfter = defaultContextAfter
	}

	if c.Pipeline.PadMs == 0 {
		c.Pipeline.PadMs = defaultPadMs
	}

	if c.Pipeline.MinClipSeconds == 0 {
		c.Pipeline.MinClipSeconds = defaultMinClipSeconds
	}

	if c.Pipeline.PollBudgetMinutes == 0 {
		c.Pipeline.PollBudgetMinutes = defaultPollBudgetMinutes
	}

	if c.Media.OverlayWidth == 0 {
		c.Media.OverlayWidth = defaultOverlayWidth
	}

	if c.Media.OverlayPosition == "" {
		c.Media.OverlayPosition = defaultOverlayPosition
	}

	if c.Speech.TimeoutSeconds == 0 {
		c.Speech.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.Avatar.TimeoutSeconds == 0 {
		c.Avatar.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.Messaging.TimeoutSeconds == 0 {
		c.Messaging.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.Messaging.SendRetries == 0 {
		c.Messaging.SendRetries = defaultSendRetries
	}

	if c.Messaging.MediaSizeLimit == 0 {
		c.Messaging.MediaSizeLimit = defaultMediaSizeLimit
	}

	if c.NATS.PreviewTTLMinutes == 0 {
		c.NATS.PreviewTTLMinutes = defaultPreviewTTLMinutes
	}
}

// ContextBefore returns the locate window size before the keyword. Valid
// only after ApplyDefaults has run.
func (c *Config) ContextBefore() int {
	return *c.Pipeline.ContextBefore
}

// PreviewTTL returns the preview cache entry lifetime.
func (c *Config) PreviewTTL() time.Duration {
	return time.Duration(c.NATS.PreviewTTLMinutes) * time.Minute
}

// PollBudget returns the maximum time a long-poll wait may run.
func (c *Config) PollBudget() time.Duration {
	return time.Duration(c.Pipeline.PollBudgetMinutes) * time.Minute
}

// SendBackoff returns the delay between messaging send retries.
func (c *Config) SendBackoff() time.Duration {
	return defaultSendBackoff
}

// PollInterval returns the fixed interval for render-job polling.
func (c *Config) PollInterval() time.Duration {
	return defaultPollInterval
}
