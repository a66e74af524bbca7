// Package config loads triage-engine settings from YAML plus environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the triage engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Reports    ReportsConfig    `yaml:"reports"`
	Store      StoreConfig      `yaml:"store"`
	LLM        LLMConfig        `yaml:"llm"`
	Cache      CacheConfig      `yaml:"cache"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
}

// ReportsConfig configures access to the reporting backend.
type ReportsConfig struct {
	BaseURL      string        `yaml:"baseURL"`
	FailuresPath string        `yaml:"failuresPath"`
	Timeout      time.Duration `yaml:"timeout"`
}

// StoreConfig controls the SQLite database location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig configures the language model provider used for embeddings and
// root cause synthesis. An empty APIKey disables the provider; all analysis
// then runs on local fallbacks.
type LLMConfig struct {
	APIKey    string        `yaml:"apiKey"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxTokens int           `yaml:"maxTokens"`
}

// CacheConfig bounds the in-process caches for analyses and embeddings.
type CacheConfig struct {
	MaxEntries   int           `yaml:"maxEntries"`
	AnalysisTTL  time.Duration `yaml:"analysisTTL"`
	EmbeddingTTL time.Duration `yaml:"embeddingTTL"`
}

// ClassifierConfig controls optional pattern-pack loading.
type ClassifierConfig struct {
	PackPath string `yaml:"packPath"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TRIAGE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8085",
			GracefulTimeout: 10 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
		},
		Reports: ReportsConfig{
			FailuresPath: "/api/v1/reports/{id}/failures",
			Timeout:      10 * time.Second,
		},
		Store: StoreConfig{Path: "data/triage.db"},
		LLM: LLMConfig{
			Timeout:   30 * time.Second,
			MaxTokens: 1024,
		},
		Cache: CacheConfig{
			MaxEntries:   4096,
			AnalysisTTL:  time.Hour,
			EmbeddingTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRIAGE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("TRIAGE_SERVER_GRACEFUL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.GracefulTimeout = d
		}
	}
	if v := os.Getenv("TRIAGE_REPORTS_BASE_URL"); v != "" {
		cfg.Reports.BaseURL = v
	}
	if v := os.Getenv("TRIAGE_REPORTS_FAILURES_PATH"); v != "" {
		cfg.Reports.FailuresPath = v
	}
	if v := os.Getenv("TRIAGE_REPORTS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reports.Timeout = d
		}
	}
	if v := os.Getenv("TRIAGE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("TRIAGE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("TRIAGE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("TRIAGE_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if v := os.Getenv("TRIAGE_LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxTokens = n
		}
	}
	if v := os.Getenv("TRIAGE_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxEntries = n
		}
	}
	if v := os.Getenv("TRIAGE_CACHE_ANALYSIS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.AnalysisTTL = d
		}
	}
	if v := os.Getenv("TRIAGE_CACHE_EMBEDDING_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.EmbeddingTTL = d
		}
	}
	if v := os.Getenv("TRIAGE_CLASSIFIER_PACK_PATH"); v != "" {
		cfg.Classifier.PackPath = v
	}
	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRIAGE_LOG_FORMAT"); strings.EqualFold(v, "json") {
		cfg.Logging.JSON = true
	}
}
