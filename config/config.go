// Package config loads AvilaDB settings from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arxis/aviladb/codec"
	"github.com/arxis/aviladb/compress"
	"github.com/arxis/aviladb/cost"
	"github.com/arxis/aviladb/distance"
	"github.com/arxis/aviladb/resource"
)

// Config holds the engine configuration.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Storage   StorageConfig   `yaml:"storage"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Index     IndexConfig     `yaml:"index"`
	Resources resource.Config `yaml:"resources"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BackendConfig selects and configures the key-value substrate.
type BackendConfig struct {
	// Kind is one of memory, local, minio, s3, dynamodb, redis, sqlite.
	Kind string `yaml:"kind"`

	// Path is the directory of a local store or the file of a sqlite one.
	Path string `yaml:"path"`

	// Prefix is prepended to every key.
	Prefix string `yaml:"prefix"`

	Bucket    string `yaml:"bucket"`
	Table     string `yaml:"table"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`

	Addrs    []string `yaml:"addrs"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`

	// CacheSize is the number of values kept in an LRU in front of the
	// backend. Zero disables the cache.
	CacheSize int `yaml:"cache_size"`
}

// StorageConfig holds storage engine limits.
type StorageConfig struct {
	MaxDocumentSize  int    `yaml:"max_document_size"`
	MaxPartitionSize int64  `yaml:"max_partition_size"`
	DefaultClass     string `yaml:"default_class"` // hot, archive
	Codec            string `yaml:"codec"`         // go-json, json
}

// OptimizerConfig holds planner settings.
type OptimizerConfig struct {
	DPThreshold  int           `yaml:"dp_threshold"`
	MemoryBudget int64         `yaml:"memory_budget"`
	DefaultEF    int           `yaml:"default_ef"`
	Weights      *cost.Weights `yaml:"weights"`
}

// IndexConfig holds defaults for vector indexes.
type IndexConfig struct {
	M              int    `yaml:"hnsw_m"`
	EFConstruction int    `yaml:"hnsw_ef_construction"`
	Metric         string `yaml:"metric"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads, defaults and validates a YAML file. ${VAR} and
// ${VAR:-default} references are expanded from the environment.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates YAML.
func Parse(data []byte) (Config, error) {
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

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Backend.Kind == "" {
		c.Backend.Kind = "memory"
	}
	if c.Storage.MaxDocumentSize <= 0 {
		c.Storage.MaxDocumentSize = 4 << 20
	}
	if c.Storage.MaxPartitionSize <= 0 {
		c.Storage.MaxPartitionSize = 50 << 30
	}
	if c.Storage.DefaultClass == "" {
		c.Storage.DefaultClass = compress.Hot.String()
	}
	if c.Storage.Codec == "" {
		c.Storage.Codec = codec.Default.Name()
	}
	if c.Optimizer.DPThreshold <= 0 {
		c.Optimizer.DPThreshold = 12
	}
	if c.Optimizer.MemoryBudget <= 0 {
		c.Optimizer.MemoryBudget = 64 << 20
	}
	if c.Optimizer.DefaultEF <= 0 {
		c.Optimizer.DefaultEF = 64
	}
	if c.Optimizer.Weights == nil {
		w := cost.DefaultWeights
		c.Optimizer.Weights = &w
	}
	if c.Index.M <= 0 {
		c.Index.M = 16
	}
	if c.Index.EFConstruction <= 0 {
		c.Index.EFConstruction = 200
	}
	if c.Index.Metric == "" {
		c.Index.Metric = distance.Cosine.String()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	b := c.Backend
	switch b.Kind {
	case "memory":
	case "local", "sqlite":
		if b.Path == "" {
			return fmt.Errorf("backend.path is required for %s", b.Kind)
		}
	case "minio", "s3":
		if b.Bucket == "" {
			return fmt.Errorf("backend.bucket is required for %s", b.Kind)
		}
		if b.Kind == "minio" && b.Endpoint == "" {
			return fmt.Errorf("backend.endpoint is required for minio")
		}
	case "dynamodb":
		if b.Table == "" {
			return fmt.Errorf("backend.table is required for dynamodb")
		}
	case "redis":
		if len(b.Addrs) == 0 {
			return fmt.Errorf("backend.addrs is required for redis")
		}
	default:
		return fmt.Errorf("backend.kind must be one of memory, local, minio, s3, dynamodb, redis, sqlite, got %q", b.Kind)
	}
	if b.CacheSize < 0 {
		return fmt.Errorf("backend.cache_size must not be negative, got %d", b.CacheSize)
	}

	if _, err := compress.ParseStorageClass(c.Storage.DefaultClass); err != nil {
		return fmt.Errorf("storage.default_class: %w", err)
	}
	if _, err := codec.Lookup(c.Storage.Codec); err != nil {
		return fmt.Errorf("storage.codec: %w", err)
	}
	if c.Optimizer.DPThreshold > 20 {
		return fmt.Errorf("optimizer.dp_threshold must be at most 20, got %d", c.Optimizer.DPThreshold)
	}
	if err := c.Optimizer.Weights.Validate(); err != nil {
		return fmt.Errorf("optimizer.weights: %w", err)
	}
	if _, err := distance.ParseMetric(c.Index.Metric); err != nil {
		return fmt.Errorf("index.metric: %w", err)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
