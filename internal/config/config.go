// Package config handles configuration loading for the dependency engine.
// It supports XDG config paths, a project-local override, and environment
// variables with the KURULTAI_ prefix.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Danservfinn/kurultai-sub008/pkg/models"
)

// Config holds all configuration for the engine.
type Config struct {
	Buffer    BufferConfig    `mapstructure:"buffer"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Debug     bool            `mapstructure:"debug"`
}

// BufferConfig holds intent window buffer settings.
type BufferConfig struct {
	// Window is the quiet period before a sender's pending messages are
	// released as one batch.
	Window time.Duration `mapstructure:"window"`
	// Cap bounds the pending list per sender; oldest messages are dropped
	// beyond it.
	Cap int `mapstructure:"cap"`
}

// AnalyzerConfig holds dependency analyzer thresholds.
type AnalyzerConfig struct {
	// HighThreshold is the cosine similarity above which a typed edge is
	// inferred from the kind lookup table.
	HighThreshold float64 `mapstructure:"high_threshold"`
	// MediumThreshold is the similarity above which a parallel_ok affinity
	// edge is recorded.
	MediumThreshold float64 `mapstructure:"medium_threshold"`
	// DuplicateThreshold is the similarity above which the later task is
	// folded into the earlier one instead of linked.
	DuplicateThreshold float64 `mapstructure:"duplicate_threshold"`
}

// ExecutorConfig holds scheduling settings.
type ExecutorConfig struct {
	// PoolConcurrency is the maximum in-progress tasks per worker pool.
	PoolConcurrency int `mapstructure:"pool_concurrency"`
	// Interval is the cadence of scheduling passes when no completion
	// event arrives.
	Interval time.Duration `mapstructure:"interval"`
	// Routing maps deliverable kind to worker pool name. Unlisted kinds
	// fall back to the general pool.
	Routing map[string]string `mapstructure:"routing"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	// Endpoint is the base URL of the embedding server.
	Endpoint string `mapstructure:"endpoint"`
	// Model is the embedding model name.
	Model string `mapstructure:"model"`
	// Timeout bounds a single embed call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds graph store settings.
type StorageConfig struct {
	// Path is the SQLite database file. Empty means in-memory.
	Path string `mapstructure:"path"`
}

// DefaultRouting is the static deliverable kind to worker pool table.
var DefaultRouting = map[string]string{
	string(models.KindResearch):   "research",
	string(models.KindAnalysis):   "research",
	string(models.KindCode):       "development",
	string(models.KindTesting):    "development",
	string(models.KindContent):    "content",
	string(models.KindStrategy):   "strategy",
	string(models.KindOperations): "operations",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("buffer.window", 45*time.Second)
	v.SetDefault("buffer.cap", 100)
	v.SetDefault("analyzer.high_threshold", 0.75)
	v.SetDefault("analyzer.medium_threshold", 0.55)
	v.SetDefault("analyzer.duplicate_threshold", 0.95)
	v.SetDefault("executor.pool_concurrency", 2)
	v.SetDefault("executor.interval", 5*time.Second)
	v.SetDefault("executor.routing", DefaultRouting)
	v.SetDefault("embedding.endpoint", "http://localhost:11434")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("storage.path", defaultDBPath())
	v.SetDefault("debug", false)
}

// Default returns the built-in configuration without touching the
// filesystem or environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Unmarshal of in-memory defaults cannot fail.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration with the following precedence, highest first:
// environment variables (KURULTAI_*), project config (.kurultai.yaml in the
// working directory), user config (~/.config/kurultai/config.yaml), then
// built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if project := findProjectConfig(); project != "" {
		pv := viper.New()
		pv.SetConfigFile(project)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("KURULTAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Buffer.Window <= 0 {
		return fmt.Errorf("buffer.window must be positive, got %v", c.Buffer.Window)
	}
	if c.Buffer.Cap <= 0 {
		return fmt.Errorf("buffer.cap must be positive, got %d", c.Buffer.Cap)
	}
	if c.Analyzer.MediumThreshold > c.Analyzer.HighThreshold {
		return fmt.Errorf("analyzer.medium_threshold %v exceeds high_threshold %v",
			c.Analyzer.MediumThreshold, c.Analyzer.HighThreshold)
	}
	if c.Executor.PoolConcurrency <= 0 {
		return fmt.Errorf("executor.pool_concurrency must be positive, got %d", c.Executor.PoolConcurrency)
	}
	return nil
}

// userConfigDir returns the XDG config directory for kurultai.
func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kurultai")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "kurultai")
}

// defaultDBPath returns the XDG data path for the graph database.
func defaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "kurultai", "graph.db")
}

// findProjectConfig walks up from the working directory looking for
// .kurultai.yaml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".kurultai.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
