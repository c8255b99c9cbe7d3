package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "993", cfg.Mail.IMAPPort)
	assert.Equal(t, "INBOX", cfg.Mail.Mailbox)
	assert.True(t, cfg.Mail.TLS)
	assert.Equal(t, 100, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 0.5, cfg.Pipeline.ValidScoreThreshold)
	assert.Equal(t, 0.7, cfg.Pipeline.RetryScoreThreshold)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
mail:
  imap_host: imap.example.com
  username: bot@example.com
pipeline:
  queue_capacity: 25
  admin_address: admin@example.com
llm:
  temperature: 0.3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "imap.example.com", cfg.Mail.IMAPHost)
	assert.Equal(t, "bot@example.com", cfg.Mail.Username)
	assert.Equal(t, 25, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, "admin@example.com", cfg.Pipeline.AdminAddress)
	assert.Equal(t, 0.3, cfg.LLM.Temperature)

	// Untouched keys keep their defaults.
	assert.Equal(t, "993", cfg.Mail.IMAPPort)
	assert.Equal(t, 60, cfg.Pipeline.PollIntervalSec)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := defaultAppConfig()
	cfg.Mail.Username = "bot@example.com"
	cfg.Pipeline.QueueCapacity = 42

	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "bot@example.com", loaded.Mail.Username)
	assert.Equal(t, 42, loaded.Pipeline.QueueCapacity)
}

func TestAdjustTunable(t *testing.T) {
	cfg := LLMConfig{Temperature: 0.7, MaxTokens: 1024}

	require.NoError(t, cfg.Adjust(TunableTemperature, 0.2))
	assert.Equal(t, 0.2, cfg.Temperature)

	require.NoError(t, cfg.Adjust(TunableMaxTokens, 512))
	assert.Equal(t, 512, cfg.MaxTokens)

	// Out-of-range values are rejected, not clamped.
	assert.Error(t, cfg.Adjust(TunableTemperature, -0.1))
	assert.Error(t, cfg.Adjust(TunableTemperature, 2.5))
	assert.Error(t, cfg.Adjust(TunableMaxTokens, 0))
	assert.Equal(t, 0.2, cfg.Temperature)
	assert.Equal(t, 512, cfg.MaxTokens)

	// The tunable set is closed.
	assert.Error(t, cfg.Adjust(TunableParam("top_p"), 0.9))
}
