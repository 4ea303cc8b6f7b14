package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/inkwellbot/inkwell/pkg/bus"
	"github.com/inkwellbot/inkwell/pkg/channels"
	"github.com/inkwellbot/inkwell/pkg/config"
	"github.com/inkwellbot/inkwell/pkg/generate"
	"github.com/inkwellbot/inkwell/pkg/logger"
	"github.com/inkwellbot/inkwell/pkg/pipeline"
	"github.com/inkwellbot/inkwell/pkg/providers"
	"github.com/inkwellbot/inkwell/pkg/search"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "inkwell:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FileEnabled {
		path := expandHome(cfg.Logging.FilePath)
		if err := logger.EnableFile(path, cfg.Logging.RotationEnabled, cfg.Logging.MaxSizeMB, cfg.Logging.MaxAgeDays); err != nil {
			logger.WarnCF("main", "file logging unavailable", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		} else {
			defer logger.DisableFile()
		}
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	queue := bus.NewQueue(64)
	discord, err := channels.NewDiscord(cfg.Discord.Token, cfg.Discord.GuildID, queue, registry)
	if err != nil {
		return fmt.Errorf("discord setup: %w", err)
	}

	var searcher *search.Client
	if cfg.Search.Enabled {
		searcher = search.New(cfg.Search.BraveAPIKey, cfg.Search.MaxResults)
	}

	proc := pipeline.New(pipeline.Options{
		Queue:          queue,
		Transport:      discord,
		Generator:      generate.NewClient(registry, cfg.PromptOverride),
		Searcher:       searcher,
		MaxTitles:      cfg.Generation.MaxTitles,
		MaxMessageLen:  cfg.Delivery.MaxMessageLen,
		ChunkDelay:     time.Duration(cfg.Delivery.ChunkDelayMS) * time.Millisecond,
		ArtifactDelay:  time.Duration(cfg.Delivery.ArtifactDelayMS) * time.Millisecond,
		GenerateBudget: time.Duration(cfg.Generation.TimeoutSeconds) * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := discord.Start(); err != nil {
		return err
	}
	defer discord.Stop()

	go proc.Run(ctx)

	if cfg.Digest.Enabled {
		digest, err := pipeline.NewDigest(cfg.Digest.Schedule, cfg.Digest.ChannelID, cfg.Digest.Message, discord)
		if err != nil {
			logger.WarnCF("main", "digest disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			go digest.Run(ctx)
		}
	}

	logger.InfoCF("main", "inkwell running", map[string]interface{}{
		"provider":  registry.Current(),
		"providers": strings.Join(registry.Names(), ","),
	})

	<-ctx.Done()
	logger.InfoC("main", "shutting down")
	return nil
}

// buildRegistry constructs a provider per configured API key. At least one
// provider must be usable.
func buildRegistry(cfg *config.Config) (*providers.Registry, error) {
	registry := providers.NewRegistry()

	if c := cfg.Providers.OpenAI; c.APIKey != "" {
		registry.Register(providers.NewOpenAIProvider(
			c.APIKey, c.APIBase, c.Model,
			cfg.Generation.MaxTokens, cfg.Generation.Temperature,
		))
	}
	if c := cfg.Providers.Anthropic; c.APIKey != "" {
		registry.Register(providers.NewAnthropicProvider(
			c.APIKey, c.APIBase, c.Model,
			cfg.Generation.MaxTokens, cfg.Generation.Temperature,
		))
	}

	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no providers configured: set an OpenAI or Anthropic API key")
	}
	if def := cfg.Generation.DefaultProvider; def != "" {
		if err := registry.SetCurrent(def); err != nil {
			logger.WarnCF("main", "default provider unavailable, using first registered", map[string]interface{}{
				"requested": def,
				"using":     registry.Current(),
			})
		}
	}
	return registry, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".inkwell", "config.json")
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
