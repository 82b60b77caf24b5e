// Package config loads companion configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Companion CompanionConfig `mapstructure:"companion"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Context   ContextConfig   `mapstructure:"context"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP and WebSocket transport.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// CompanionConfig configures the companion's behaviour bounds.
type CompanionConfig struct {
	// Persona replaces the built-in persona card verbatim when set.
	Persona           string        `mapstructure:"persona"`
	ShortTermCapacity int           `mapstructure:"short_term_capacity"`
	KeepRecent        int           `mapstructure:"keep_recent"`
	CapabilityTimeout time.Duration `mapstructure:"capability_timeout"`
}

// AnthropicConfig configures the hosted text generator.
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// MemoryConfig configures both memory tiers.
type MemoryConfig struct {
	ShortTermPath string `mapstructure:"short_term_path"`
	LongTermPath  string `mapstructure:"long_term_path"`
	EmbedCache    int    `mapstructure:"embed_cache"`
}

// ContextConfig bounds the per-turn context bundle.
type ContextConfig struct {
	TopK       int `mapstructure:"top_k"`
	WindowSize int `mapstructure:"window_size"`
	UnitBudget int `mapstructure:"unit_budget"`
	QueryTurns int `mapstructure:"query_turns"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// Default returns the production defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".elio")
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Companion: CompanionConfig{
			ShortTermCapacity: 20,
			KeepRecent:        5,
			CapabilityTimeout: 30 * time.Second,
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
		Memory: MemoryConfig{
			ShortTermPath: filepath.Join(dataDir, "shortterm.db"),
			LongTermPath:  filepath.Join(dataDir, "longterm"),
			EmbedCache:    4096,
		},
		Context: ContextConfig{
			TopK:       5,
			WindowSize: 10,
			UnitBudget: 4096,
			QueryTurns: 3,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads configuration from an optional file path plus ELIO_*
// environment overrides, on top of Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("ELIO")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("elio")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".elio"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicit path must exist; the default search is optional.
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if path != "" || (!notFound && !os.IsNotExist(err)) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// The API key is secret, so the env var wins over any file value.
	if key := os.Getenv("ELIO_ANTHROPIC_API_KEY"); key != "" {
		cfg.Anthropic.APIKey = key
	}
	return cfg, nil
}

// Validate rejects configurations the engine would refuse anyway, with
// friendlier messages.
func (c *Config) Validate() error {
	if c.Companion.KeepRecent >= c.Companion.ShortTermCapacity {
		return fmt.Errorf("config: keep_recent (%d) must be smaller than short_term_capacity (%d)",
			c.Companion.KeepRecent, c.Companion.ShortTermCapacity)
	}
	if c.Companion.CapabilityTimeout <= 0 {
		return fmt.Errorf("config: capability_timeout must be positive")
	}
	return nil
}
