// Package config loads the daemon configuration from YAML with sane
// defaults, so an empty file (or no file) yields a runnable setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so cooldowns read as "24h" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level daemon configuration.
type Config struct {
	// DataDir holds the record and triple logs.
	DataDir string `yaml:"data_dir"`

	Server    Server    `yaml:"server"`
	Model     Model     `yaml:"model"`
	Embedding Embedding `yaml:"embedding"`
	Lifecycle Lifecycle `yaml:"lifecycle"`
	Curator   Curator   `yaml:"curator"`
	Retrieval Retrieval `yaml:"retrieval"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Model struct {
	// Name is the Anthropic model id; the API key comes from the
	// ANTHROPIC_API_KEY environment variable, never from the file.
	Name      string `yaml:"name"`
	MaxTokens int    `yaml:"max_tokens"`
}

type Embedding struct {
	// Model is the OpenAI embedding model; the key comes from the
	// OPENAI_API_KEY environment variable. Without a key the daemon falls
	// back to a local deterministic embedder.
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

type Lifecycle struct {
	PromoteThreshold float64  `yaml:"promote_threshold"`
	DecayThreshold   float64  `yaml:"decay_threshold"`
	DeleteCooldown   Duration `yaml:"delete_cooldown"`
	BoostValue       float64  `yaml:"boost_value"`
	BoostCooldown    Duration `yaml:"boost_cooldown"`
	BoostDailyCap    float64  `yaml:"boost_daily_cap"`
	DedupSimilarity  float64  `yaml:"dedup_similarity"`
	DedupBoost       float64  `yaml:"dedup_boost"`

	// Category-specific decay knobs, mirrored from the lifecycle defaults.
	FactGrace          Duration `yaml:"fact_grace"`
	FactDecayFactor    float64  `yaml:"fact_decay_factor"`
	EpisodeGrace       Duration `yaml:"episode_grace"`
	EpisodeDecayFactor float64  `yaml:"episode_decay_factor"`
	EpisodeMaxAge      Duration `yaml:"episode_max_age"`
	KeepFloor          float64  `yaml:"keep_floor"`

	// DecaySchedule is a cron expression for the decay pass.
	DecaySchedule string `yaml:"decay_schedule"`
}

type Curator struct {
	QueueSize int `yaml:"queue_size"`
}

type Retrieval struct {
	TopK int `yaml:"top_k"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		DataDir: "./data",
		Server: Server{
			Addr: ":8700",
		},
		Model: Model{
			Name:      "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
		Embedding: Embedding{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			CacheSize:  4096,
		},
		Lifecycle: Lifecycle{
			PromoteThreshold:   2.5,
			DecayThreshold:     0.2,
			DeleteCooldown:     Duration(24 * time.Hour),
			BoostValue:         0.5,
			BoostCooldown:      Duration(2 * time.Hour),
			BoostDailyCap:      1.0,
			DedupSimilarity:    0.85,
			DedupBoost:         0.5,
			FactGrace:          Duration(5 * 24 * time.Hour),
			FactDecayFactor:    0.85,
			EpisodeGrace:       Duration(3 * 24 * time.Hour),
			EpisodeDecayFactor: 0.6,
			EpisodeMaxAge:      Duration(7 * 24 * time.Hour),
			KeepFloor:          0.5,
			DecaySchedule:      "0 3 * * *",
		},
		Curator: Curator{
			QueueSize: 64,
		},
		Retrieval: Retrieval{
			TopK: 5,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error; a
// malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// RecordPath and TriplePath locate the two append-only logs under DataDir.
func (c Config) RecordPath() string { return filepath.Join(c.DataDir, "records.jsonl") }
func (c Config) TriplePath() string { return filepath.Join(c.DataDir, "triples.jsonl") }
