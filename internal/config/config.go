// Package config provides configuration management for Lorekeeper.
// Settings come from built-in defaults, optionally overlaid by a YAML file,
// then by environment variables with the LOREKEEPER_ prefix.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the YAML config path.
const EnvConfigPath = "LOREKEEPER_CONFIG"

// Config holds all configuration settings for the Lorekeeper application.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Memory  MemoryConfig  `yaml:"memory"`
	LLM     LLMConfig     `yaml:"llm"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // sqlite or postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // SQLite data directory (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // Required when Engine is postgres
}

// CacheConfig configures the response cache tiers.
type CacheConfig struct {
	Volatile        string        `yaml:"volatile"`         // memory, redis or none (default: memory)
	RedisURL        string        `yaml:"redis_url"`        // redis://host:port/db
	RedisNamespace  string        `yaml:"redis_namespace"`  // prefix of every Redis key (default: lorekeeper:)
	LRUSize         int           `yaml:"lru_size"`         // in-process volatile capacity (default: 4096)
	L1TTL           time.Duration `yaml:"l1_ttl"`           // response TTL (default: 24h)
	L3TTL           time.Duration `yaml:"l3_ttl"`           // component TTL (default: 168h)
	VolatileTimeout time.Duration `yaml:"volatile_timeout"` // per-call bound on the fast tier (default: 150ms)
	PurgeInterval   time.Duration `yaml:"purge_interval"`   // durable purge cadence (default: 1h)
}

// MemoryConfig tunes the narrative-memory tiers and background compression.
type MemoryConfig struct {
	WorkingCapacity     int           `yaml:"working_capacity"`
	CompressionAgeDays  int           `yaml:"compression_age_days"`
	SummaryMaxWords     int           `yaml:"summary_max_words"`
	PromoteThreshold    float64       `yaml:"promote_threshold"`
	CompressionInterval time.Duration `yaml:"compression_interval"`
	Workers             int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
}

// LLMConfig contains LLM provider configuration for the summarizer and the
// optional embedding generator.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`           // none, ollama, openai, anthropic (default: none)
	EmbeddingProvider string        `yaml:"embedding_provider"` // none, ollama, openai (default: none)
	OllamaURL         string        `yaml:"ollama_url"`
	OllamaModel       string        `yaml:"ollama_model"`
	EmbeddingModel    string        `yaml:"embedding_model"`
	OpenAIAPIKey      string        `yaml:"openai_api_key"`
	OpenAIModel       string        `yaml:"openai_model"`
	AnthropicAPIKey   string        `yaml:"anthropic_api_key"`
	AnthropicModel    string        `yaml:"anthropic_model"`
	SummarizerTimeout time.Duration `yaml:"summarizer_timeout"`
	SummarizerRPS     float64       `yaml:"summarizer_rps"`
}

// LogConfig selects the log encoder and level.
type LogConfig struct {
	Debug bool `yaml:"debug"`
	JSON  bool `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Cache: CacheConfig{
			Volatile:        "memory",
			RedisURL:        "redis://localhost:6379/0",
			RedisNamespace:  "lorekeeper:",
			LRUSize:         4096,
			L1TTL:           24 * time.Hour,
			L3TTL:           7 * 24 * time.Hour,
			VolatileTimeout: 150 * time.Millisecond,
			PurgeInterval:   time.Hour,
		},
		Memory: MemoryConfig{
			WorkingCapacity:     10,
			CompressionAgeDays:  7,
			SummaryMaxWords:     500,
			PromoteThreshold:    0.7,
			CompressionInterval: time.Hour,
			Workers:             2,
			QueueSize:           256,
			ShutdownTimeout:     30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:          "none",
			EmbeddingProvider: "none",
			OllamaURL:         "http://localhost:11434",
			OllamaModel:       "qwen2.5:7b",
			EmbeddingModel:    "nomic-embed-text",
			OpenAIModel:       "gpt-4o-mini",
			AnthropicModel:    "claude-3-5-haiku-20241022",
			SummarizerTimeout: 20 * time.Second,
			SummarizerRPS:     2,
		},
	}
}

// LoadConfig builds the configuration. path names an optional YAML file; when
// empty, LOREKEEPER_CONFIG is consulted. Environment variables override the
// file, and the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg with any LOREKEEPER_* variables that are set.
func applyEnv(cfg *Config) {
	s := &cfg.Storage
	s.Engine = getEnv("LOREKEEPER_STORAGE_ENGINE", s.Engine)
	s.DataPath = getEnv("LOREKEEPER_DATA_PATH", s.DataPath)
	s.PostgresDSN = getEnv("LOREKEEPER_POSTGRES_DSN", s.PostgresDSN)

	c := &cfg.Cache
	c.Volatile = getEnv("LOREKEEPER_CACHE_VOLATILE", c.Volatile)
	c.RedisURL = getEnv("LOREKEEPER_REDIS_URL", c.RedisURL)
	c.RedisNamespace = getEnv("LOREKEEPER_REDIS_NAMESPACE", c.RedisNamespace)
	c.LRUSize = getEnvInt("LOREKEEPER_CACHE_LRU_SIZE", c.LRUSize)
	c.L1TTL = getEnvDuration("LOREKEEPER_CACHE_L1_TTL", c.L1TTL)
	c.L3TTL = getEnvDuration("LOREKEEPER_CACHE_L3_TTL", c.L3TTL)
	c.VolatileTimeout = getEnvDuration("LOREKEEPER_CACHE_VOLATILE_TIMEOUT", c.VolatileTimeout)
	c.PurgeInterval = getEnvDuration("LOREKEEPER_CACHE_PURGE_INTERVAL", c.PurgeInterval)

	m := &cfg.Memory
	m.WorkingCapacity = getEnvInt("LOREKEEPER_WORKING_CAPACITY", m.WorkingCapacity)
	m.CompressionAgeDays = getEnvInt("LOREKEEPER_COMPRESSION_AGE_DAYS", m.CompressionAgeDays)
	m.SummaryMaxWords = getEnvInt("LOREKEEPER_SUMMARY_MAX_WORDS", m.SummaryMaxWords)
	m.PromoteThreshold = getEnvFloat("LOREKEEPER_PROMOTE_THRESHOLD", m.PromoteThreshold)
	m.CompressionInterval = getEnvDuration("LOREKEEPER_COMPRESSION_INTERVAL", m.CompressionInterval)
	m.Workers = getEnvInt("LOREKEEPER_WORKERS", m.Workers)
	m.QueueSize = getEnvInt("LOREKEEPER_QUEUE_SIZE", m.QueueSize)
	m.ShutdownTimeout = getEnvDuration("LOREKEEPER_SHUTDOWN_TIMEOUT", m.ShutdownTimeout)

	l := &cfg.LLM
	l.Provider = getEnv("LOREKEEPER_LLM_PROVIDER", l.Provider)
	l.EmbeddingProvider = getEnv("LOREKEEPER_EMBEDDING_PROVIDER", l.EmbeddingProvider)
	l.OllamaURL = getEnv("LOREKEEPER_OLLAMA_URL", l.OllamaURL)
	l.OllamaModel = getEnv("LOREKEEPER_OLLAMA_MODEL", l.OllamaModel)
	l.EmbeddingModel = getEnv("LOREKEEPER_EMBEDDING_MODEL", l.EmbeddingModel)
	l.OpenAIAPIKey = getEnv("LOREKEEPER_OPENAI_API_KEY", l.OpenAIAPIKey)
	l.OpenAIModel = getEnv("LOREKEEPER_OPENAI_MODEL", l.OpenAIModel)
	l.AnthropicAPIKey = getEnv("LOREKEEPER_ANTHROPIC_API_KEY", l.AnthropicAPIKey)
	l.AnthropicModel = getEnv("LOREKEEPER_ANTHROPIC_MODEL", l.AnthropicModel)
	l.SummarizerTimeout = getEnvDuration("LOREKEEPER_SUMMARIZER_TIMEOUT", l.SummarizerTimeout)
	l.SummarizerRPS = getEnvFloat("LOREKEEPER_SUMMARIZER_RPS", l.SummarizerRPS)

	cfg.Log.Debug = getEnvBool("LOREKEEPER_DEBUG", cfg.Log.Debug)
	cfg.Log.JSON = getEnvBool("LOREKEEPER_LOG_JSON", cfg.Log.JSON)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.engine %q is not one of sqlite, postgres", c.Storage.Engine))
	}

	switch c.Cache.Volatile {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redis_url is required for the redis volatile store"))
		}
		if c.Cache.RedisNamespace == "" {
			errs = append(errs, errors.New("cache.redis_namespace is required for the redis volatile store"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.volatile %q is not one of memory, redis, none", c.Cache.Volatile))
	}

	positive := map[string]int{
		"cache.lru_size":              c.Cache.LRUSize,
		"memory.working_capacity":     c.Memory.WorkingCapacity,
		"memory.compression_age_days": c.Memory.CompressionAgeDays,
		"memory.summary_max_words":    c.Memory.SummaryMaxWords,
		"memory.workers":              c.Memory.Workers,
		"memory.queue_size":           c.Memory.QueueSize,
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, positive[name]))
		}
	}
	if c.Memory.SummaryMaxWords > 0 && c.Memory.SummaryMaxWords < 110 {
		errs = append(errs, fmt.Errorf("memory.summary_max_words must be at least 110, got %d", c.Memory.SummaryMaxWords))
	}

	durations := map[string]time.Duration{
		"cache.l1_ttl":                c.Cache.L1TTL,
		"cache.l3_ttl":                c.Cache.L3TTL,
		"cache.volatile_timeout":      c.Cache.VolatileTimeout,
		"cache.purge_interval":        c.Cache.PurgeInterval,
		"memory.compression_interval": c.Memory.CompressionInterval,
		"memory.shutdown_timeout":     c.Memory.ShutdownTimeout,
		"llm.summarizer_timeout":      c.LLM.SummarizerTimeout,
	}
	for _, name := range sortedKeys(durations) {
		if durations[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, durations[name]))
		}
	}

	if c.Memory.PromoteThreshold < 0 || c.Memory.PromoteThreshold > 1 {
		errs = append(errs, fmt.Errorf("memory.promote_threshold must be within [0,1], got %v", c.Memory.PromoteThreshold))
	}
	if c.LLM.SummarizerRPS <= 0 {
		errs = append(errs, fmt.Errorf("llm.summarizer_rps must be positive, got %v", c.LLM.SummarizerRPS))
	}

	switch c.LLM.Provider {
	case "none", "ollama":
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("llm.openai_api_key is required for the openai provider"))
		}
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("llm.anthropic_api_key is required for the anthropic provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not one of none, ollama, openai, anthropic", c.LLM.Provider))
	}

	switch c.LLM.EmbeddingProvider {
	case "none", "ollama":
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("llm.openai_api_key is required for openai embeddings"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.embedding_provider %q is not one of none, ollama, openai", c.LLM.EmbeddingProvider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// CompressionAge is the age after which events are eligible for compression.
func (m MemoryConfig) CompressionAge() time.Duration {
	return time.Duration(m.CompressionAgeDays) * 24 * time.Hour
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool recognizes "true", "1", "yes" as true and "false", "0", "no" as
// false (case-insensitive). Anything else yields the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
