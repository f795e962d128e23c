// Package config loads gateway configuration from YAML, .env, and the
// process environment, with a viper-backed layered-override precedence:
// env vars win over the YAML file, which wins over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ProviderConfig holds API credentials and model selection for one LLM
// backend.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	APIBase string `mapstructure:"api_base"`
	Model   string `mapstructure:"model"`
}

// ProvidersConfig groups every wired LLM backend plus the role split
// between "fast structured" and "high-fluency" duty.
type ProvidersConfig struct {
	Anthropic      ProviderConfig `mapstructure:"anthropic"`
	OpenAI         ProviderConfig `mapstructure:"openai"`
	FastStructured string         `mapstructure:"fast_structured"` // "anthropic" | "openai"
	HighFluency    string         `mapstructure:"high_fluency"`
}

// StoreConfig configures the Multi-Tier Context Store's cold tier.
type StoreConfig struct {
	Cold struct {
		Driver string `mapstructure:"driver"` // sqlite | postgres
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"cold"`
	WarmTTL  time.Duration `mapstructure:"warm_ttl"`
	HotSize  int           `mapstructure:"hot_size"`
	DataDir  string        `mapstructure:"data_dir"`
}

// ApprovalConfig configures the approval-gated action pipeline.
type ApprovalConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	ExpiryWindow   time.Duration `mapstructure:"expiry_window"`
	SweepCron      string        `mapstructure:"sweep_cron"`
}

// WhatsAppConfig configures the WhatsApp channel bridge.
type WhatsAppConfig struct {
	SharedToken  string `mapstructure:"shared_token"`
	ValidationID string `mapstructure:"validation_id"`
}

// HTTPConfig configures the HTTP API surface.
type HTTPConfig struct {
	Addr        string `mapstructure:"addr"`
	BearerToken string `mapstructure:"bearer_token"`
}

// MemoryConfig configures the semantic memory layer.
type MemoryConfig struct {
	EmbeddingModel  string `mapstructure:"embedding_model"`
	EmbeddingEnabled bool  `mapstructure:"embedding_enabled"`
	DataDir         string `mapstructure:"data_dir"`
}

// ToolsConfig groups the direct-automation tool adapters' credentials.
type ToolsConfig struct {
	Email struct {
		Enabled      bool   `mapstructure:"enabled"`
		Address      string `mapstructure:"address"`
		ScriptPath   string `mapstructure:"script_path"`
	} `mapstructure:"email"`
	Weather struct {
		APIKey   string        `mapstructure:"api_key"`
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"weather"`
	Web struct {
		Brave struct {
			APIKey     string `mapstructure:"api_key"`
			MaxResults int    `mapstructure:"max_results"`
			Enabled    bool   `mapstructure:"enabled"`
		} `mapstructure:"brave"`
	} `mapstructure:"web"`
}

// EngineConfig configures the two-stage classifier and routing table.
type EngineConfig struct {
	RulesPath      string  `mapstructure:"rules_path"`
	Stage1Patterns string  `mapstructure:"stage1_patterns_path"`
	MinConfidence  float64 `mapstructure:"min_confidence"`
	HistoryWindow  int     `mapstructure:"history_window"`
}

// Config is the root of the gateway's configuration tree.
type Config struct {
	WorkspaceDir string           `mapstructure:"workspace_dir"`
	LogLevel     string           `mapstructure:"log_level"`
	Providers    ProvidersConfig  `mapstructure:"providers"`
	Store        StoreConfig      `mapstructure:"store"`
	Approval     ApprovalConfig   `mapstructure:"approval"`
	WhatsApp     WhatsAppConfig   `mapstructure:"whatsapp"`
	HTTP         HTTPConfig       `mapstructure:"http"`
	Memory       MemoryConfig     `mapstructure:"memory"`
	Tools        ToolsConfig      `mapstructure:"tools"`
	Engine       EngineConfig     `mapstructure:"engine"`
}

// WorkspacePath returns the configured workspace directory as given (it is
// not made absolute), defaulting to the current directory's "workspace"
// subfolder.
func (c *Config) WorkspacePath() string {
	if c.WorkspaceDir == "" {
		return filepath.Join(".", "workspace")
	}
	return c.WorkspaceDir
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace_dir", "./workspace")
	v.SetDefault("log_level", "info")
	v.SetDefault("providers.fast_structured", "anthropic")
	v.SetDefault("providers.high_fluency", "anthropic")
	v.SetDefault("providers.anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("store.cold.driver", "sqlite")
	v.SetDefault("store.cold.dsn", "./data/turnhub.db")
	v.SetDefault("store.warm_ttl", 10*time.Minute)
	v.SetDefault("store.hot_size", 512)
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("approval.expiry_window", 30*time.Minute)
	v.SetDefault("approval.sweep_cron", "@every 1m")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("memory.data_dir", "./data/memory")
	v.SetDefault("memory.embedding_model", "text-embedding-3-small")
	v.SetDefault("tools.weather.cache_ttl", 15*time.Minute)
	v.SetDefault("tools.web.brave.max_results", 5)
	v.SetDefault("engine.min_confidence", 0.6)
	v.SetDefault("engine.history_window", 10)
}

// Load reads configuration from an optional YAML file, an optional .env
// file, and the environment (TURNHUB_-prefixed, nested keys joined by
// underscore), in that order of increasing precedence.
func Load(yamlPath string) (*Config, error) {
	if envPath := ".env"; fileExists(envPath) {
		_ = godotenv.Load(envPath)
	}

	v := viper.New()
	setDefaults(v)

	if yamlPath == "" && fileExists("config.yaml") {
		yamlPath = "config.yaml"
	}
	if yamlPath != "" {
		v.SetConfigFile(yamlPath)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", yamlPath, err)
			}
		}
	}

	v.SetEnvPrefix("turnhub")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
