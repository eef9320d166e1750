// Package config loads bridge settings from defaults, an optional config
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/becomeliminal/nim-bridge/engine"
	"github.com/becomeliminal/nim-bridge/memory"
	"github.com/becomeliminal/nim-bridge/orchestrator"
	"github.com/becomeliminal/nim-bridge/workers"
)

// EnvPrefix prefixes every environment override, e.g. BRIDGE_MEMORY_SESSION_TTL.
const EnvPrefix = "BRIDGE"

// Backend names accepted by the memory.*_backend keys.
const (
	BackendMemory    = "memory"
	BackendRistretto = "ristretto"
	BackendChromem   = "chromem"
	BackendSQLite    = "sqlite"
)

// Config is the resolved bridge configuration.
type Config struct {
	Listen       string
	HealthListen string
	LogLevel     slog.Level

	Consensus    Consensus
	Memory       Memory
	Workers      Workers
	Orchestrator Orchestrator
	Claude       Claude
}

type Consensus struct {
	MaxFaulty int
}

type Memory struct {
	WorkingBudget   int
	SessionTTL      time.Duration
	SessionBackend  string
	SemanticBackend string
	// SemanticPath persists the vector collection when set.
	SemanticPath  string
	GraphBackend  string
	GraphPath     string
	EmbeddingDims int
}

type Workers struct {
	Roles   []string
	PerRole int
}

type Orchestrator struct {
	MaxGoals int
}

// Claude configures the optional engine. It is used only when Enabled is
// set and an API key is present.
type Claude struct {
	Enabled   bool
	APIKey    string
	Model     string
	MaxTokens int64
}

// Active reports whether the engine should be wired.
func (c Claude) Active() bool {
	return c.Enabled && c.APIKey != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:8787")
	v.SetDefault("health_listen", "127.0.0.1:8788")
	v.SetDefault("log_level", "info")

	v.SetDefault("consensus.max_faulty", 1)

	v.SetDefault("memory.working_budget", memory.DefaultWorkingBudget)
	v.SetDefault("memory.session_ttl", memory.DefaultSessionTTL)
	v.SetDefault("memory.session_backend", BackendRistretto)
	v.SetDefault("memory.semantic_backend", BackendChromem)
	v.SetDefault("memory.semantic_path", "")
	v.SetDefault("memory.graph_backend", BackendSQLite)
	v.SetDefault("memory.graph_path", "data/graph.db")
	v.SetDefault("memory.embedding_dims", 384)

	v.SetDefault("workers.roles", workers.DefaultRoles)
	v.SetDefault("workers.per_role", 1)

	v.SetDefault("orchestrator.max_goals", orchestrator.DefaultMaxGoals)

	v.SetDefault("claude.enabled", false)
	v.SetDefault("claude.api_key", "")
	v.SetDefault("claude.model", engine.DefaultModel)
	v.SetDefault("claude.max_tokens", engine.DefaultMaxTokens)
}

// Load reads configuration. path may be empty, in which case bridge.yaml
// (or .toml/.json) is looked up in the working directory and ignored when
// missing. An explicit path must exist.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("claude.api_key", EnvPrefix+"_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("bridge")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return Config{}, fmt.Errorf("log_level: %w", err)
	}

	cfg := Config{
		Listen:       v.GetString("listen"),
		HealthListen: v.GetString("health_listen"),
		LogLevel:     level,
		Consensus: Consensus{
			MaxFaulty: v.GetInt("consensus.max_faulty"),
		},
		Memory: Memory{
			WorkingBudget:   v.GetInt("memory.working_budget"),
			SessionTTL:      v.GetDuration("memory.session_ttl"),
			SessionBackend:  strings.ToLower(v.GetString("memory.session_backend")),
			SemanticBackend: strings.ToLower(v.GetString("memory.semantic_backend")),
			SemanticPath:    v.GetString("memory.semantic_path"),
			GraphBackend:    strings.ToLower(v.GetString("memory.graph_backend")),
			GraphPath:       v.GetString("memory.graph_path"),
			EmbeddingDims:   v.GetInt("memory.embedding_dims"),
		},
		Workers: Workers{
			Roles:   v.GetStringSlice("workers.roles"),
			PerRole: v.GetInt("workers.per_role"),
		},
		Orchestrator: Orchestrator{
			MaxGoals: v.GetInt("orchestrator.max_goals"),
		},
		Claude: Claude{
			Enabled:   v.GetBool("claude.enabled"),
			APIKey:    v.GetString("claude.api_key"),
			Model:     v.GetString("claude.model"),
			MaxTokens: v.GetInt64("claude.max_tokens"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges and backend names.
func (c Config) Validate() error {
	if c.Consensus.MaxFaulty < 0 {
		return fmt.Errorf("consensus.max_faulty must be >= 0, got %d", c.Consensus.MaxFaulty)
	}
	if c.Memory.SessionTTL <= 0 {
		return fmt.Errorf("memory.session_ttl must be positive, got %s", c.Memory.SessionTTL)
	}
	if err := oneOf("memory.session_backend", c.Memory.SessionBackend, BackendRistretto, BackendMemory); err != nil {
		return err
	}
	if err := oneOf("memory.semantic_backend", c.Memory.SemanticBackend, BackendChromem, BackendMemory); err != nil {
		return err
	}
	if err := oneOf("memory.graph_backend", c.Memory.GraphBackend, BackendSQLite, BackendMemory); err != nil {
		return err
	}
	if c.Memory.GraphBackend == BackendSQLite && c.Memory.GraphPath == "" {
		return errors.New("memory.graph_path is required for the sqlite backend")
	}
	if c.Memory.EmbeddingDims <= 0 {
		return fmt.Errorf("memory.embedding_dims must be positive, got %d", c.Memory.EmbeddingDims)
	}
	if len(c.Workers.Roles) == 0 {
		return errors.New("workers.roles must not be empty")
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unknown backend %q (want one of %s)", key, value, strings.Join(allowed, ", "))
}
