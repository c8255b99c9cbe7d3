package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// MailConfig holds IMAP/SMTP connection settings for the monitored
// mailbox. The account password is kept in the system keyring, not here.
type MailConfig struct {
	// IMAPHost is the IMAP server hostname.
	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`

	// IMAPPort is the IMAP server port.
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`

	// SMTPHost is the SMTP server hostname.
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`

	// SMTPPort is the SMTP server port.
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`

	// Username is the account login, also used as the service's own
	// sender address.
	Username string `mapstructure:"username" yaml:"username"`

	// TLS selects implicit TLS; when false, STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Mailbox is the IMAP mailbox polled for unseen messages.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`
}

// LLMConfig holds settings for the language model integration.
type LLMConfig struct {
	Model       string  `mapstructure:"model" yaml:"model"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
}

// PipelineConfig holds tuning knobs for the processing pipeline.
type PipelineConfig struct {
	// AdminAddress is the operator address whose messages are treated
	// as control commands instead of conversation.
	AdminAddress string `mapstructure:"admin_address" yaml:"admin_address"`

	// QueueCapacity bounds the in-memory processing queue.
	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity"`

	// PollIntervalSec is how often (in seconds) to fetch unseen mail.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// MaxAttempts bounds generation and dispatch retries.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`

	// BackoffBaseMs is the base delay for exponential retry backoff.
	BackoffBaseMs int `mapstructure:"backoff_base_ms" yaml:"backoff_base_ms"`

	// FetchTimeoutSec bounds a single IMAP fetch operation.
	FetchTimeoutSec int `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`

	// GenerateTimeoutSec bounds a single language model call.
	GenerateTimeoutSec int `mapstructure:"generate_timeout_sec" yaml:"generate_timeout_sec"`

	// SendTimeoutSec bounds a single SMTP dispatch.
	SendTimeoutSec int `mapstructure:"send_timeout_sec" yaml:"send_timeout_sec"`

	// ContextWindow is the maximum number of prior thread messages
	// included as conversational context for generation.
	ContextWindow int `mapstructure:"context_window" yaml:"context_window"`

	// ValidScoreThreshold is the minimum validation score for a reply
	// to be considered valid.
	ValidScoreThreshold float64 `mapstructure:"valid_score_threshold" yaml:"valid_score_threshold"`

	// RetryScoreThreshold is the validation score below which one
	// re-generation with adjusted parameters is attempted.
	RetryScoreThreshold float64 `mapstructure:"retry_score_threshold" yaml:"retry_score_threshold"`
}

// LoggingConfig holds logging preferences.
type LoggingConfig struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mail     MailConfig     `mapstructure:"mail" yaml:"mail"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
}

// TunableParam enumerates the configuration parameters that may be
// adjusted at runtime (by the admin `config` command or by the
// validation-driven re-generation path). The set is closed on purpose:
// runtime adjustment never reaches outside it.
type TunableParam string

const (
	TunableTemperature TunableParam = "temperature"
	TunableMaxTokens   TunableParam = "max_tokens"
)

// Adjust applies a runtime adjustment to one of the closed set of
// tunable parameters. Values outside a parameter's legal range are
// rejected rather than clamped.
func (c *LLMConfig) Adjust(param TunableParam, value float64) error {
	switch param {
	case TunableTemperature:
		if value < 0 || value > 2 {
			return fmt.Errorf("temperature %v out of range [0, 2]", value)
		}
		c.Temperature = value
	case TunableMaxTokens:
		if value < 1 {
			return fmt.Errorf("max_tokens %v must be at least 1", value)
		}
		c.MaxTokens = int(value)
	default:
		return fmt.Errorf("unknown tunable parameter %q", param)
	}
	return nil
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailbot/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailbot", "config.yaml")
}

// defaultStorePath returns the default SQLite database location.
func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mailbot.db")
	}
	return filepath.Join(home, ".config", "mailbot", "mailbot.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Mail: MailConfig{
			IMAPPort: "993",
			SMTPPort: "465",
			TLS:      true,
			Mailbox:  "INBOX",
		},
		LLM: LLMConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		Pipeline: PipelineConfig{
			QueueCapacity:       100,
			PollIntervalSec:     60,
			MaxAttempts:         3,
			BackoffBaseMs:       500,
			FetchTimeoutSec:     30,
			GenerateTimeoutSec:  60,
			SendTimeoutSec:      30,
			ContextWindow:       10,
			ValidScoreThreshold: 0.5,
			RetryScoreThreshold: 0.7,
		},
		Store: StoreConfig{
			Path: defaultStorePath(),
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("mail.imap_port", "993")
	v.SetDefault("mail.smtp_port", "465")
	v.SetDefault("mail.tls", true)
	v.SetDefault("mail.mailbox", "INBOX")
	v.SetDefault("llm.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("pipeline.queue_capacity", 100)
	v.SetDefault("pipeline.poll_interval_sec", 60)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.backoff_base_ms", 500)
	v.SetDefault("pipeline.fetch_timeout_sec", 30)
	v.SetDefault("pipeline.generate_timeout_sec", 60)
	v.SetDefault("pipeline.send_timeout_sec", 30)
	v.SetDefault("pipeline.context_window", 10)
	v.SetDefault("pipeline.valid_score_threshold", 0.5)
	v.SetDefault("pipeline.retry_score_threshold", 0.7)
	v.SetDefault("store.path", defaultStorePath())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("mail", cfg.Mail)
	v.Set("llm", cfg.LLM)
	v.Set("pipeline", cfg.Pipeline)
	v.Set("logging", cfg.Logging)
	v.Set("store", cfg.Store)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
