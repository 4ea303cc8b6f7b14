package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Discord    DiscordConfig    `json:"discord"`
	Providers  ProvidersConfig  `json:"providers"`
	Generation GenerationConfig `json:"generation"`
	Delivery   DeliveryConfig   `json:"delivery"`
	Search     SearchConfig     `json:"search"`
	Digest     DigestConfig     `json:"digest"`
	Prompts    map[string]string `json:"prompts,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
	mu         sync.RWMutex
}

type DiscordConfig struct {
	Token   string `json:"token" env:"INKWELL_DISCORD_TOKEN"`
	GuildID string `json:"guild_id" env:"INKWELL_DISCORD_GUILD_ID"`
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai" envPrefix:"INKWELL_PROVIDERS_OPENAI_"`
	Anthropic ProviderConfig `json:"anthropic" envPrefix:"INKWELL_PROVIDERS_ANTHROPIC_"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"API_KEY"`
	APIBase string `json:"api_base" env:"API_BASE"`
	Model   string `json:"model" env:"MODEL"`
}

type GenerationConfig struct {
	DefaultProvider string  `json:"default_provider" env:"INKWELL_GENERATION_DEFAULT_PROVIDER"`
	MaxTokens       int     `json:"max_tokens" env:"INKWELL_GENERATION_MAX_TOKENS"`
	Temperature     float64 `json:"temperature" env:"INKWELL_GENERATION_TEMPERATURE"`
	MaxTitles       int     `json:"max_titles" env:"INKWELL_GENERATION_MAX_TITLES"`
	TimeoutSeconds  int     `json:"timeout_seconds" env:"INKWELL_GENERATION_TIMEOUT_SECONDS"`
}

type DeliveryConfig struct {
	MaxMessageLen   int `json:"max_message_len" env:"INKWELL_DELIVERY_MAX_MESSAGE_LEN"`
	ChunkDelayMS    int `json:"chunk_delay_ms" env:"INKWELL_DELIVERY_CHUNK_DELAY_MS"`
	ArtifactDelayMS int `json:"artifact_delay_ms" env:"INKWELL_DELIVERY_ARTIFACT_DELAY_MS"`
}

type SearchConfig struct {
	Enabled     bool   `json:"enabled" env:"INKWELL_SEARCH_ENABLED"`
	BraveAPIKey string `json:"brave_api_key" env:"INKWELL_SEARCH_BRAVE_API_KEY"`
	MaxResults  int    `json:"max_results" env:"INKWELL_SEARCH_MAX_RESULTS"`
}

type DigestConfig struct {
	Enabled   bool   `json:"enabled" env:"INKWELL_DIGEST_ENABLED"`
	Schedule  string `json:"schedule" env:"INKWELL_DIGEST_SCHEDULE"` // cron expression
	ChannelID string `json:"channel_id" env:"INKWELL_DIGEST_CHANNEL_ID"`
	Message   string `json:"message" env:"INKWELL_DIGEST_MESSAGE"`
}

type LoggingConfig struct {
	Level           string `json:"level" env:"INKWELL_LOGGING_LEVEL"`
	FileEnabled     bool   `json:"file_enabled" env:"INKWELL_LOGGING_FILE_ENABLED"`
	FilePath        string `json:"file_path" env:"INKWELL_LOGGING_FILE_PATH"`
	RotationEnabled bool   `json:"rotation_enabled" env:"INKWELL_LOGGING_ROTATION_ENABLED"`
	MaxAgeDays      int    `json:"max_age_days" env:"INKWELL_LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB       int    `json:"max_size_mb" env:"INKWELL_LOGGING_MAX_SIZE_MB"`
}

func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				Model: "gpt-5-mini",
			},
			Anthropic: ProviderConfig{
				Model: "claude-sonnet-4-5",
			},
		},
		Generation: GenerationConfig{
			DefaultProvider: "openai",
			MaxTokens:       2048,
			Temperature:     0.7,
			MaxTitles:       10,
			TimeoutSeconds:  300,
		},
		Delivery: DeliveryConfig{
			MaxMessageLen:   1900,
			ChunkDelayMS:    500,
			ArtifactDelayMS: 750,
		},
		Search: SearchConfig{
			Enabled:    false,
			MaxResults: 3,
		},
		Digest: DigestConfig{
			Enabled:  false,
			Schedule: "0 17 * * 5", // Friday 17:00
			Message:  "📚 Book club check-in! What is everyone reading this week?",
		},
		Logging: LoggingConfig{
			Level:           "INFO",
			FileEnabled:     false,
			FilePath:        "~/.inkwell/inkwell.log",
			RotationEnabled: true,
			MaxAgeDays:      7,
			MaxSizeMB:       50,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file is fine; env vars may carry everything.
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			applyProviderEnvOverrides(cfg)
			resolveEnvRefs(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	applyProviderEnvOverrides(cfg)
	resolveEnvRefs(cfg)
	return cfg, nil
}

// applyProviderEnvOverrides honors the conventional vendor variables when no
// key was set through the config file or INKWELL_ variables.
func applyProviderEnvOverrides(cfg *Config) {
	bindings := []struct {
		target *ProviderConfig
		apiKey string
	}{
		{&cfg.Providers.OpenAI, "OPENAI_API_KEY"},
		{&cfg.Providers.Anthropic, "ANTHROPIC_API_KEY"},
	}
	for _, b := range bindings {
		if b.target.APIKey != "" {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(b.apiKey)); v != "" {
			b.target.APIKey = v
		}
	}
}

func resolveEnvRefs(cfg *Config) {
	providers := []*ProviderConfig{&cfg.Providers.OpenAI, &cfg.Providers.Anthropic}
	for _, p := range providers {
		p.APIKey = resolveEnvRef(p.APIKey)
		p.APIBase = resolveEnvRef(p.APIBase)
	}
	cfg.Discord.Token = resolveEnvRef(cfg.Discord.Token)
	cfg.Search.BraveAPIKey = resolveEnvRef(cfg.Search.BraveAPIKey)
}

// resolveEnvRef expands "$NAME" and "${NAME}" values so secrets can live
// outside the config file. Unresolvable refs are returned unchanged.
func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		key := strings.TrimSpace(s[2 : len(s)-1])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return v
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		key := strings.TrimSpace(s[1:])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
	}
	return v
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// PromptOverride returns the configured template override for a prompt name.
func (c *Config) PromptOverride(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tmpl, ok := c.Prompts[name]
	return tmpl, ok
}
