// Package config loads the process configuration.
// Clean Architecture: Framework/driver layer.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can carry values like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full process configuration, loaded from YAML with env-var
// overrides for secrets.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Validator ValidatorConfig `yaml:"validator"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Storage   StorageConfig   `yaml:"storage"`
	Seed      SeedConfig      `yaml:"seed"`
	Rounds    RoundsConfig    `yaml:"rounds"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// EmbedderConfig selects and configures the embedding service client.
type EmbedderConfig struct {
	Provider string   `yaml:"provider"` // "openai" or "ollama"
	BaseURL  string   `yaml:"base_url"`
	APIKey   string   `yaml:"api_key"`
	Model    string   `yaml:"model"`
	Timeout  Duration `yaml:"timeout"`
}

// ValidatorConfig configures the phrase-validator client.
type ValidatorConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// LedgerConfig configures the account-ledger sink. An empty base URL
// selects the in-memory ledger (dev mode).
type LedgerConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// StorageConfig selects the durable store. Driver is "sqlite" or "memory".
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// SeedConfig configures AI-seed ingestion.
type SeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// RoundsConfig configures round lifecycle housekeeping.
type RoundsConfig struct {
	// FeedCorpus adds a terminated round's productive guesses to the corpus.
	FeedCorpus bool `yaml:"feed_corpus"`
	// TTL keeps terminated rounds queryable before the sweeper drops them.
	TTL Duration `yaml:"ttl"`
	// SweepInterval is how often the sweeper runs.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the dev-mode configuration.
func Default() Config {
	return Config{
		Server:    ServerConfig{Addr: ":8080"},
		Embedder:  EmbedderConfig{Provider: "ollama", Timeout: Duration(10 * time.Second)},
		Validator: ValidatorConfig{BaseURL: "http://localhost:8081", Timeout: Duration(5 * time.Second)},
		Storage:   StorageConfig{Driver: "sqlite", Path: "./data"},
		Seed:      SeedConfig{Enabled: true, Dir: "./seeds"},
		Rounds: RoundsConfig{
			FeedCorpus:    true,
			TTL:           Duration(time.Hour),
			SweepInterval: Duration(5 * time.Minute),
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields
// the defaults. COVERMIND_EMBEDDER_API_KEY overrides the embedder API key
// so it never has to live in the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}

	if key := os.Getenv("COVERMIND_EMBEDDER_API_KEY"); key != "" {
		cfg.Embedder.APIKey = key
	}

	if cfg.Rounds.TTL <= 0 {
		cfg.Rounds.TTL = Duration(time.Hour)
	}
	if cfg.Rounds.SweepInterval <= 0 {
		cfg.Rounds.SweepInterval = Duration(5 * time.Minute)
	}
	return cfg, nil
}
