// Package config loads the service configuration from an optional YAML file
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/saurabh2727/property-finder/internal/domain"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sessions SessionConfig  `yaml:"sessions"`
	Engines  EngineConfig   `yaml:"engines"`
	AI       AIConfig       `yaml:"ai"`
	ML       MLConfig       `yaml:"ml"`
	Matching MatchingConfig `yaml:"matching"`
	// CatalogPath seeds the catalog used by stateless requests that do not
	// send one.
	CatalogPath string `yaml:"catalog_path"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
	// RecommendPerMinute caps engine runs per client IP; 0 disables it.
	RecommendPerMinute int `yaml:"recommend_per_minute"`
}

type SessionConfig struct {
	Backend     string `yaml:"backend"` // sqlite | redis | memory
	DBPath      string `yaml:"db_path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
	Retain      int    `yaml:"retain_backups"`
}

type EngineConfig struct {
	Order    []string       `yaml:"order"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
}

type TimeoutsConfig struct {
	AI   time.Duration `yaml:"ai"`
	Rule time.Duration `yaml:"rule"`
	ML   time.Duration `yaml:"ml"`
}

type AIConfig struct {
	Provider     string  `yaml:"provider"` // openai | ollama | none
	Model        string  `yaml:"model"`
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	DigestLimit  int     `yaml:"digest_limit"`
	MinViability float64 `yaml:"min_viability"` // parse-quality gate; the full count is still required
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
}

type MLConfig struct {
	ModelPath string `yaml:"model_path"`
	Watch     bool   `yaml:"watch"`
}

type MatchingConfig struct {
	// WeightsPath holds operator weights that replace the risk-tolerance
	// presets for profiles choosing neither weights nor an approach.
	WeightsPath string `yaml:"weights_path"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{Address: ":8080", RecommendPerMinute: 30},
		Sessions: SessionConfig{
			Backend:     "sqlite",
			DBPath:      "data/sessions.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "property-finder",
			Retain:      5,
		},
		Engines: EngineConfig{
			Order:    []string{"ai", "rule"},
			Timeouts: TimeoutsConfig{AI: 45 * time.Second, Rule: 5 * time.Second, ML: 10 * time.Second},
		},
		AI: AIConfig{
			Provider:     "openai",
			Model:        "gpt-4o-mini",
			DigestLimit:  60,
			MinViability: 0.5,
			Temperature:  0.2,
			MaxTokens:    2500,
		},
		ML: MLConfig{Watch: true},
	}
}

// Load reads path over the defaults, then applies environment overrides. A
// missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("unmarshal %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Address = getEnv("API_ADDRESS", c.Server.Address)
	c.Sessions.Backend = getEnv("SESSION_BACKEND", c.Sessions.Backend)
	c.Sessions.DBPath = getEnv("DB_PATH", c.Sessions.DBPath)
	c.Sessions.RedisAddr = getEnv("REDIS_ADDR", c.Sessions.RedisAddr)
	c.CatalogPath = getEnv("CATALOG_PATH", c.CatalogPath)
	c.Matching.WeightsPath = getEnv("WEIGHTS_PATH", c.Matching.WeightsPath)
	c.ML.ModelPath = getEnv("ML_MODEL_PATH", c.ML.ModelPath)
	c.AI.Provider = getEnv("AI_PROVIDER", c.AI.Provider)
	c.AI.Model = getEnv("AI_MODEL", c.AI.Model)
	c.AI.BaseURL = getEnv("AI_BASE_URL", c.AI.BaseURL)
	c.AI.APIKey = getEnv("OPENAI_API_KEY", c.AI.APIKey)
	if v := getEnv("ENGINE_ORDER", ""); v != "" {
		c.Engines.Order = strings.Split(v, ",")
	}
	if v, err := strconv.Atoi(getEnv("RETAIN_BACKUPS", "")); err == nil {
		c.Sessions.Retain = v
	}
}

func (c Config) Validate() error {
	switch c.Sessions.Backend {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("sessions.backend %q: want sqlite, redis or memory", c.Sessions.Backend)
	}
	switch c.AI.Provider {
	case "openai", "ollama", "none", "":
	default:
		return fmt.Errorf("ai.provider %q: want openai, ollama or none", c.AI.Provider)
	}
	if c.Sessions.Retain < 1 {
		return fmt.Errorf("sessions.retain_backups must be at least 1, got %d", c.Sessions.Retain)
	}
	if c.Server.RecommendPerMinute < 0 {
		return fmt.Errorf("server.recommend_per_minute must not be negative, got %d", c.Server.RecommendPerMinute)
	}
	if _, err := c.EngineOrder(); err != nil {
		return err
	}
	return nil
}

// EngineOrder parses the configured default fallback chain.
func (c Config) EngineOrder() ([]domain.EngineTag, error) {
	out := make([]domain.EngineTag, 0, len(c.Engines.Order))
	for _, name := range c.Engines.Order {
		tag, err := domain.ParseEngineTag(name)
		if err != nil {
			return nil, fmt.Errorf("engines.order: %w", err)
		}
		out = append(out, tag)
	}
	return out, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
