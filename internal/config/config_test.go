// Package config_test tests the configuration loading for the personalizer.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipgreet/personalizer/internal/config"
)

const sampleTOML = `
[nats]
url = "nats://127.0.0.1:4222"
job_subject = "personalizer.jobs"
outcome_subject = "personalizer.outcomes"
preview_cache_bucket = "PREVIEW_JOBS"
preview_ttl_minutes = 45

[speech_service]
base_url = "https://speech.example.com"
api_key = "speech-key"
timeout_seconds = 90

[avatar_service]
base_url = "https://avatar.example.com"
api_key = "avatar-key"

[messaging]
base_url = "https://messaging.example.com"
api_key = "messaging-key"
instance = "main"
send_retries = 3
webhook_url = "https://hooks.example.com/rendered"

[pipeline]
context_before = 3
context_after = 1
pad_ms = 200
min_clip_seconds = 2.5
poll_budget_minutes = 20

[media]
ffmpeg_path = "/usr/bin/ffmpeg"
ffprobe_path = "/usr/bin/ffprobe"
overlay_width = 480
overlay_position = "10:10"

[paths]
base_logs_dir = "/var/log/personalizer"
work_dir = "/var/tmp/personalizer"
`

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(sampleTOML), &cfg)
	require.NoError(t, err)

	cfg.ApplyDefaults()

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "personalizer.jobs", cfg.NATS.JobSubject)
	assert.Equal(t, "personalizer.outcomes", cfg.NATS.OutcomeSubject)
	assert.Equal(t, "PREVIEW_JOBS", cfg.NATS.PreviewCacheBucket)
	assert.Equal(t, 45*time.Minute, cfg.PreviewTTL())

	assert.Equal(t, "https://speech.example.com", cfg.Speech.BaseURL)
	assert.Equal(t, 90, cfg.Speech.TimeoutSeconds)

	assert.Equal(t, "main", cfg.Messaging.Instance)
	assert.Equal(t, 3, cfg.Messaging.SendRetries)
	assert.Equal(t, "https://hooks.example.com/rendered", cfg.Messaging.WebhookURL)

	assert.Equal(t, 3, cfg.ContextBefore())
	assert.Equal(t, 1, cfg.Pipeline.ContextAfter)
	assert.Equal(t, 200, cfg.Pipeline.PadMs)
	assert.InEpsilon(t, 2.5, cfg.Pipeline.MinClipSeconds, 0.001)
	assert.Equal(t, 20*time.Minute, cfg.PollBudget())

	assert.Equal(t, "/usr/bin/ffmpeg", cfg.Media.FFmpegPath)
	assert.Equal(t, 480, cfg.Media.OverlayWidth)
	assert.Equal(t, "/var/tmp/personalizer", cfg.Paths.WorkDir)
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()

	assert.Equal(t, 2, cfg.ContextBefore())
	assert.Equal(t, 0, cfg.Pipeline.ContextAfter)
	assert.Equal(t, 150, cfg.Pipeline.PadMs)
	assert.InEpsilon(t, 2.0, cfg.Pipeline.MinClipSeconds, 0.001)
	assert.Equal(t, 320, cfg.Media.OverlayWidth)
	assert.Equal(t, "W-w-40:H-h-40", cfg.Media.OverlayPosition)
	assert.Equal(t, 120, cfg.Speech.TimeoutSeconds)
	assert.Equal(t, 2, cfg.Messaging.SendRetries)
	assert.Equal(t, int64(100*1024*1024), cfg.Messaging.MediaSizeLimit)
	assert.Equal(t, 15*time.Minute, cfg.PollBudget())
	assert.Equal(t, 30*time.Minute, cfg.PreviewTTL())
}

func TestApplyDefaults_KeepsExplicitZeroContextBefore(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte("[pipeline]\ncontext_before = 0\n"), &cfg)
	require.NoError(t, err)

	cfg.ApplyDefaults()

	assert.Equal(t, 0, cfg.ContextBefore())
}

func TestLoad_UsesLocalFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personalizer.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o600))

	t.Setenv(config.EnvConfigPath, path)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "personalizer.jobs", cfg.NATS.JobSubject)
	assert.Equal(t, "avatar-key", cfg.Avatar.APIKey)

	// Defaults fill the fields the file omitted.
	assert.Equal(t, 120, cfg.Avatar.TimeoutSeconds)
}
