package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultModel               = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens           = 512
	DefaultSchedule            = "@every 2h"
	DefaultGlobalCheckInterval = "2h"
	DefaultGenerationTimeout   = "10s"
	DefaultMaxPerSweep         = 2
	DefaultForcedMaxPerSweep   = 1
	DefaultWorkers             = 4
	DefaultLogCapacity         = 50
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "console"
)

type Config struct {
	Provider  ProviderConfig  `json:"provider"`
	Model     ModelConfig     `json:"model"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Log       LogConfig       `json:"log"`
	Store     StoreConfig     `json:"store"`
	Voices    VoicesConfig    `json:"voices"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ModelConfig struct {
	Name      string `json:"name"`
	MaxTokens int    `json:"maxTokens"`
}

// SchedulerConfig holds sweep settings. Durations are Go duration strings.
type SchedulerConfig struct {
	Schedule            string `json:"schedule"`
	GlobalCheckInterval string `json:"globalCheckInterval"`
	GenerationTimeout   string `json:"generationTimeout"`
	MaxPerSweep         int    `json:"maxPerSweep"`
	ForcedMaxPerSweep   int    `json:"forcedMaxPerSweep"`
	Workers             int    `json:"workers"`
}

type LogConfig struct {
	Capacity int `json:"capacity"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

// VoicesConfig selects voice profiles. An empty Path uses the built-in
// set; an empty Enabled list registers every profile.
type VoicesConfig struct {
	Path    string   `json:"path,omitempty"`
	Enabled []string `json:"enabled,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  string `json:"chatId"`
	Proxy   string `json:"proxy,omitempty"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "console" or "json"
}

func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name:      DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Scheduler: SchedulerConfig{
			Schedule:            DefaultSchedule,
			GlobalCheckInterval: DefaultGlobalCheckInterval,
			GenerationTimeout:   DefaultGenerationTimeout,
			MaxPerSweep:         DefaultMaxPerSweep,
			ForcedMaxPerSweep:   DefaultForcedMaxPerSweep,
			Workers:             DefaultWorkers,
		},
		Log: LogConfig{Capacity: DefaultLogCapacity},
		Store: StoreConfig{
			DBPath: filepath.Join(ConfigDir(), "resonance.db"),
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".resonance")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("RESONANCE_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("RESONANCE_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("RESONANCE_MODEL"); model != "" {
		cfg.Model.Name = model
	}
	if dbPath := os.Getenv("RESONANCE_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if voices := os.Getenv("RESONANCE_VOICES"); voices != "" {
		cfg.Voices.Enabled = splitList(voices)
	}
	if token := os.Getenv("RESONANCE_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := os.Getenv("RESONANCE_TELEGRAM_CHAT_ID"); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if level := os.Getenv("RESONANCE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if schedule := os.Getenv("RESONANCE_SCHEDULE"); schedule != "" {
		cfg.Scheduler.Schedule = schedule
	}

	defaults := DefaultConfig()
	if cfg.Model.Name == "" {
		cfg.Model.Name = defaults.Model.Name
	}
	if cfg.Model.MaxTokens <= 0 {
		cfg.Model.MaxTokens = defaults.Model.MaxTokens
	}
	if cfg.Scheduler.Schedule == "" {
		cfg.Scheduler.Schedule = defaults.Scheduler.Schedule
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = defaults.Store.DBPath
	}
	if cfg.Log.Capacity <= 0 {
		cfg.Log.Capacity = DefaultLogCapacity
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be repaired with a default.
func (c *Config) Validate() error {
	if _, err := c.Scheduler.Interval(); err != nil {
		return err
	}
	if _, err := c.Scheduler.Timeout(); err != nil {
		return err
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram enabled but token or chatId missing")
	}
	return nil
}

// Interval parses GlobalCheckInterval. Empty means the default.
func (s SchedulerConfig) Interval() (time.Duration, error) {
	return parseDuration("globalCheckInterval", s.GlobalCheckInterval, DefaultGlobalCheckInterval)
}

// Timeout parses GenerationTimeout. Empty means the default.
func (s SchedulerConfig) Timeout() (time.Duration, error) {
	return parseDuration("generationTimeout", s.GenerationTimeout, DefaultGenerationTimeout)
}

func parseDuration(field, value, fallback string) (time.Duration, error) {
	if value == "" {
		value = fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
