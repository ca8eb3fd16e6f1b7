// Package config loads mnemex's environment-level knobs (spec §6
// "Configuration") from a TOML file plus environment variable overrides,
// via spf13/viper, the way cmd/bd loads its own daemon configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every knob spec §6 names.
type Config struct {
	DBPath                  string        `mapstructure:"db_path"`
	ModelCachePath          string        `mapstructure:"model_cache_path"`
	BackupDir               string        `mapstructure:"backup_dir"`
	EmbeddingDim            int           `mapstructure:"embedding_dim"`
	EmbeddingModel          string        `mapstructure:"embedding_model"`
	// EmbeddingAPIKey selects the embedder: empty uses the always-available
	// local hash embedder, set uses the remote OpenAI-compatible embedder
	// (spec §4.6 "pluggable embedder").
	EmbeddingAPIKey         string        `mapstructure:"embedding_api_key"`
	EmbeddingBaseURL        string        `mapstructure:"embedding_base_url"`
	VectorBackend           string        `mapstructure:"vector_backend"` // "embedded" | "sidecar"
	VectorSidecarBinary     string        `mapstructure:"vector_sidecar_binary"`
	VectorSidecarPort       int           `mapstructure:"vector_sidecar_port"`
	WriteLockMaxConcurrent  int           `mapstructure:"write_lock_max_concurrent"`
	EmbeddingWorkerBatch    int           `mapstructure:"embedding_worker_batch"`
	EmbeddingWorkerInterval time.Duration `mapstructure:"embedding_worker_interval"`
	ConsolidationInterval   time.Duration `mapstructure:"consolidation_interval"`
	ConsolidationIdleAfter  time.Duration `mapstructure:"consolidation_idle_after"`
	ToolLogExcluded         []string      `mapstructure:"tool_log_excluded"`
	ProjectID               string        `mapstructure:"project_id"`
	LogLevel                string        `mapstructure:"log_level"`
}

// defaults mirrors spec §4.6/§4.7's stated intervals and batch sizes.
func defaults(v *viper.Viper) {
	v.SetDefault("db_path", "./mnemex-data/memories.db")
	v.SetDefault("model_cache_path", "./mnemex-data/models")
	v.SetDefault("backup_dir", "./mnemex-data/backups")
	v.SetDefault("embedding_dim", 384)
	v.SetDefault("embedding_model", "text-embedding-3-small")
	v.SetDefault("embedding_api_key", "")
	v.SetDefault("embedding_base_url", "")
	v.SetDefault("vector_backend", "embedded")
	v.SetDefault("vector_sidecar_port", 0)
	v.SetDefault("write_lock_max_concurrent", 1)
	v.SetDefault("embedding_worker_batch", 20)
	v.SetDefault("embedding_worker_interval", 30*time.Second)
	v.SetDefault("consolidation_interval", 10*time.Minute)
	v.SetDefault("consolidation_idle_after", 60*time.Second)
	v.SetDefault("tool_log_excluded", []string{"scratch_get", "scratch_list"})
	v.SetDefault("project_id", "")
	v.SetDefault("log_level", "info")
}

// Load reads configPath (a TOML file; missing is not an error) then
// applies MNEMEX_*-prefixed environment overrides, matching cmd/bd's
// env-wins-over-file precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("MNEMEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("toml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.WriteLockMaxConcurrent < 1 {
		cfg.WriteLockMaxConcurrent = 1
	}
	return &cfg, nil
}
