package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/curatelab/crossmap/internal/domain"
)

// Config holds the crossmap configuration. Every recognized option is
// enumerated here; unknown keys are a load error.
type Config struct {
	Dictionary DictionaryConfig `yaml:"data_dictionary"`
	Embed      EmbedConfig      `yaml:"embed"`
	Metadata   []string         `yaml:"metadata_columns"`
	Store      StoreConfig      `yaml:"store"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Query      QueryConfig      `yaml:"query"`
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DictionaryConfig locates the source data dictionary.
type DictionaryConfig struct {
	FilepathInput string `yaml:"filepath_input"`
}

// EmbedConfig names the id column and the columns to embed, one collection
// per column.
type EmbedConfig struct {
	IDColumn string   `yaml:"id_column"`
	Columns  []string `yaml:"columns"`
}

// StoreConfig holds vector store settings. MaxBatchSize is the backend's
// hard per-call ceiling, validated at startup rather than discovered
// mid-run.
type StoreConfig struct {
	Driver            string   `yaml:"driver"` // redis, memory (default: memory)
	Addrs             []string `yaml:"addrs"`
	Password          string   `yaml:"password"`
	MaxBatchSize      int      `yaml:"max_batch_size"`
	DistanceMetric    string   `yaml:"distance_metric"` // cosine, l2, ip
	KeyPrefix         string   `yaml:"key_prefix"`
	RequestTimeoutSec int      `yaml:"request_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider          string `yaml:"provider"`
	APIKey            string `yaml:"api_key"`
	BaseURL           string `yaml:"base_url"`
	Model             string `yaml:"model"`
	Dimensions        int    `yaml:"dimensions"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	MaxAttempts       int    `yaml:"max_attempts"`
}

// QueryConfig holds crossmap query settings.
type QueryConfig struct {
	StoragePathRoot string              `yaml:"storage_path_root"`
	Queries         map[string][]string `yaml:"queries"` // name -> [source_field, target_collection]
	SimilarityTopK  int                 `yaml:"similarity_top_k"`
	Include         []string            `yaml:"include"` // subset of documents, metadatas, ids
	Rerank          RerankConfig        `yaml:"rerank"`
	Workers         int                 `yaml:"workers"`
}

// RerankConfig holds cross-encoder rerank settings.
type RerankConfig struct {
	CrossEncoder CrossEncoderConfig `yaml:"cross_encoder"`
}

// CrossEncoderConfig points at a Jina-compatible rerank API.
type CrossEncoderConfig struct {
	BaseURL           string `yaml:"base_url"`
	ModelName         string `yaml:"model_name"`
	TopN              int    `yaml:"top_n"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// HTTPConfig holds HTTP server settings for the serve command.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads configuration from a YAML file, expands ${VAR} references,
// applies defaults, and validates eagerly: no index or query work starts on
// an invalid config.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	data = expandEnvVars(data)

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.MaxBatchSize <= 0 {
		c.Store.MaxBatchSize = 100
	}
	if c.Store.DistanceMetric == "" {
		c.Store.DistanceMetric = "cosine"
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "crossmap:"
	}
	if c.Store.RequestTimeoutSec <= 0 {
		c.Store.RequestTimeoutSec = 10
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.RequestTimeoutSec <= 0 {
		c.Embedding.RequestTimeoutSec = 30
	}
	if c.Embedding.MaxAttempts <= 0 {
		c.Embedding.MaxAttempts = 4
	}
	if c.Query.SimilarityTopK <= 0 {
		c.Query.SimilarityTopK = 10
	}
	if len(c.Query.Include) == 0 {
		c.Query.Include = []string{"documents", "metadatas", "ids"}
	}
	if c.Query.Rerank.CrossEncoder.TopN <= 0 {
		c.Query.Rerank.CrossEncoder.TopN = 5
	}
	if c.Query.Rerank.CrossEncoder.RequestTimeoutSec <= 0 {
		c.Query.Rerank.CrossEncoder.RequestTimeoutSec = 30
	}
	if c.Query.Workers <= 0 {
		c.Query.Workers = 4
	}
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
}

// Validate checks the configuration for correctness. Every violation is a
// domain.ErrConfig.
func (c *Config) Validate() error {
	if c.Embed.IDColumn == "" {
		return fmt.Errorf("embed.id_column is required: %w", domain.ErrConfig)
	}
	if len(c.Embed.Columns) == 0 {
		return fmt.Errorf("embed.columns must name at least one column: %w", domain.ErrConfig)
	}
	seen := make(map[string]struct{}, len(c.Embed.Columns))
	for _, col := range c.Embed.Columns {
		if col == "" {
			return fmt.Errorf("embed.columns contains an empty name: %w", domain.ErrConfig)
		}
		if _, dup := seen[col]; dup {
			return fmt.Errorf("embed.columns lists %q twice: %w", col, domain.ErrConfig)
		}
		seen[col] = struct{}{}
	}

	switch c.Store.Driver {
	case "memory":
		// storage_path_root optional: empty means a purely in-memory store
	case "redis":
		if len(c.Store.Addrs) == 0 {
			return fmt.Errorf("store.addrs is required for the redis driver: %w", domain.ErrConfig)
		}
	default:
		return fmt.Errorf("store.driver must be \"redis\" or \"memory\", got %q: %w",
			c.Store.Driver, domain.ErrConfig)
	}
	switch c.Store.DistanceMetric {
	case "cosine", "l2", "ip":
	default:
		return fmt.Errorf("store.distance_metric must be cosine, l2, or ip, got %q: %w",
			c.Store.DistanceMetric, domain.ErrConfig)
	}

	for name, pair := range c.Query.Queries {
		if len(pair) != 2 || pair[0] == "" || pair[1] == "" {
			return fmt.Errorf("query.queries.%s must be [source_field, target_collection]: %w",
				name, domain.ErrConfig)
		}
	}
	for _, inc := range c.Query.Include {
		switch inc {
		case "documents", "metadatas", "ids":
		default:
			return fmt.Errorf("query.include contains unknown attribute %q: %w", inc, domain.ErrConfig)
		}
	}
	if topN := c.Query.Rerank.CrossEncoder.TopN; topN > c.Query.SimilarityTopK {
		// Clamped rather than rejected: a query cannot rerank more
		// candidates than were retrieved.
		c.Query.Rerank.CrossEncoder.TopN = c.Query.SimilarityTopK
	}
	return nil
}

// QuerySpecs returns the configured query pairings in deterministic
// (name-sorted) order.
func (c *Config) QuerySpecs() []domain.QuerySpec {
	names := make([]string, 0, len(c.Query.Queries))
	for name := range c.Query.Queries {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]domain.QuerySpec, 0, len(names))
	for _, name := range names {
		pair := c.Query.Queries[name]
		specs = append(specs, domain.QuerySpec{
			Name:        name,
			SourceField: pair[0],
			Collection:  pair[1],
		})
	}
	return specs
}

// IncludeSet converts the include list into a domain.Include.
func (c *Config) IncludeSet() domain.Include {
	var inc domain.Include
	for _, v := range c.Query.Include {
		switch v {
		case "documents":
			inc.Documents = true
		case "metadatas":
			inc.Metadatas = true
		case "ids":
			inc.IDs = true
		}
	}
	return inc
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment
// variable values.
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
