// Package config loads the retrieval service configuration from YAML with
// ${VAR} environment expansion, defaults, and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the retrieval API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds storage backend connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds key namespacing settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	Provider          string      `yaml:"provider"` // openai, ollama
	Model             string      `yaml:"model"`
	Dimensions        int         `yaml:"dimensions"`
	APIKey            string      `yaml:"api_key"`
	BaseURL           string      `yaml:"base_url"`
	MaxInputChars     int         `yaml:"max_input_chars"`
	RequestsPerMinute int         `yaml:"requests_per_minute"`
	MaxBatchSize      int         `yaml:"max_batch_size"`
	ChunkDelayMS      int         `yaml:"chunk_delay_ms"`
	CacheSize         int         `yaml:"cache_size"`
	CacheTTLSec       int         `yaml:"cache_ttl_sec"`
	StoreTTLSec       int         `yaml:"store_ttl_sec"`
	Retry             RetryConfig `yaml:"retry"`
}

// RetryConfig holds provider retry and circuit breaker settings.
type RetryConfig struct {
	MaxAttempts      int  `yaml:"max_attempts"`
	InitialBackoffMS int  `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int  `yaml:"max_backoff_ms"`
	BreakerEnabled   bool `yaml:"breaker_enabled"`
	BreakerFailures  int  `yaml:"breaker_failures"`
	BreakerTimeoutMS int  `yaml:"breaker_timeout_ms"`
}

// SearchConfig holds engine, adapter, and fusion settings.
type SearchConfig struct {
	TimeoutMS        int          `yaml:"timeout_ms"`
	CacheSize        int          `yaml:"cache_size"`
	CacheTTLSec      int          `yaml:"cache_ttl_sec"`
	DefaultThreshold float64      `yaml:"default_threshold"`
	DefaultLimit     int          `yaml:"default_limit"`
	Rerank           RerankConfig `yaml:"rerank"`
	Fusion           FusionConfig `yaml:"fusion"`
}

// RerankConfig holds the vector adapter rerank settings.
type RerankConfig struct {
	Enabled       bool    `yaml:"enabled"`
	SimWeight     float64 `yaml:"sim_weight"`
	OverlapWeight float64 `yaml:"overlap_weight"`
	CacheSize     int     `yaml:"cache_size"`
	CacheTTLSec   int     `yaml:"cache_ttl_sec"`
}

// FusionConfig holds fusion scoring settings.
type FusionConfig struct {
	Algorithm     string  `yaml:"algorithm"` // rrf, weighted, adaptive
	RRFK          int     `yaml:"rrf_k"`
	VectorWeight  float64 `yaml:"vector_weight"`
	KeywordWeight float64 `yaml:"keyword_weight"`
	AdaptiveBlend float64 `yaml:"adaptive_blend"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "retrieval:"
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.MaxInputChars <= 0 {
		c.Embedding.MaxInputChars = 8192
	}
	if c.Embedding.Retry.MaxAttempts <= 0 {
		c.Embedding.Retry.MaxAttempts = 3
	}
	if c.Search.TimeoutMS <= 0 {
		c.Search.TimeoutMS = 5000
	}
	if c.Search.Fusion.Algorithm == "" {
		c.Search.Fusion.Algorithm = "rrf"
	}
	if c.Search.Fusion.RRFK <= 0 {
		c.Search.Fusion.RRFK = 60
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	switch c.Embedding.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("embedding.provider must be \"openai\" or \"ollama\", got %q", c.Embedding.Provider)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	switch c.Search.Fusion.Algorithm {
	case "rrf", "weighted", "adaptive":
	default:
		return fmt.Errorf(
			"search.fusion.algorithm must be \"rrf\", \"weighted\" or \"adaptive\", got %q",
			c.Search.Fusion.Algorithm,
		)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
