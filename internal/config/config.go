// Package config loads and validates the service's configuration, following
// the teacher's own layering: defaults, then an optional YAML file, then
// environment variable overrides, then validation (cmd/indexer/main.go's
// config.Load call). Generalized from indexing parameters (workers, chunk
// size, start height) to verification parameters (worker pool sizing, sink
// policy, canonical store path, external verifier credentials).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chainverify/verifyd/internal/constants"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the verification service.
type Config struct {
	Log               LogConfig               `yaml:"log"`
	API               APIConfig               `yaml:"api"`
	Chains            []ChainConfig           `yaml:"chains"`
	WorkerPool        WorkerPoolConfig        `yaml:"worker_pool"`
	CanonicalStore    CanonicalStoreConfig    `yaml:"canonical_store"`
	Sinks             SinksConfig             `yaml:"sinks"`
	DebugDataStore    DebugDataStoreConfig    `yaml:"debug_data_store"`
	ExternalVerifiers ExternalVerifiersConfig `yaml:"external_verifiers"`
	Cache             CacheConfig             `yaml:"cache"`
	EventBus          EventBusConfig          `yaml:"eventbus"`
	Node              NodeConfig              `yaml:"node"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// APIConfig holds API server configuration.
type APIConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	EnableGraphQL   bool     `yaml:"enable_graphql"`
	EnableWebSocket bool     `yaml:"enable_websocket"`
	EnableCORS      bool     `yaml:"enable_cors"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// ChainConfig describes one chain the service can fetch bytecode/creation
// evidence from via the Chain collaborator.
type ChainConfig struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WorkerPoolConfig tunes internal/workerpool.
type WorkerPoolConfig struct {
	NumWorkers  int           `yaml:"num_workers"`
	QueueSize   int           `yaml:"queue_size"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// CanonicalStoreConfig points at the pebble-backed canonical store.
type CanonicalStoreConfig struct {
	Path     string `yaml:"path"`
	ReadOnly bool   `yaml:"readonly"`
}

// SinksConfig selects which WriteSink identifiers belong to each fan-out
// class (spec.md §4.4) and carries per-sink connection settings.
type SinksConfig struct {
	WriteOrErr  []string             `yaml:"write_or_err"`
	WriteOrWarn []string             `yaml:"write_or_warn"`
	Read        string               `yaml:"read"`
	Filesystem  FilesystemSinkConfig `yaml:"filesystem"`
	Alliance    AllianceSinkConfig   `yaml:"alliance"`
	S3          S3SinkConfig         `yaml:"s3"`
}

// FilesystemSinkConfig configures the RepositoryV1/V2 sinks.
type FilesystemSinkConfig struct {
	Root string `yaml:"root"`
}

// AllianceSinkConfig configures the AllianceDatabase sink's postgres pool.
type AllianceSinkConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// S3SinkConfig configures the S3Repository sink.
type S3SinkConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
}

// DebugDataStoreConfig controls the failed-verification-inputs debug dump
// (spec.md §4.6), which reuses the S3 sink's client but its own bucket.
type DebugDataStoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
}

// ExternalVerifiersConfig holds per-explorer-family settings for the
// explorer submission path (spec.md §4.10).
type ExternalVerifiersConfig struct {
	Etherscan  ExplorerConfig `yaml:"etherscan"`
	Blockscout ExplorerConfig `yaml:"blockscout"`
	Routescan  ExplorerConfig `yaml:"routescan"`
}

// ExplorerConfig holds one explorer family's credentials and directory
// cache behavior.
type ExplorerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	APIKey       string        `yaml:"api_key"`
	DirectoryURL string        `yaml:"directory_url"`
	DirectoryTTL time.Duration `yaml:"directory_ttl"`
}

// CacheConfig configures the read-through result cache in front of the
// canonical store's read sink.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	Password string       `yaml:"password,omitempty"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// EventBusConfig holds job-lifecycle event bus configuration (spec.md
// §4.12): a local in-process bus always feeds the WebSocket hub; Kafka is
// an optional additional sink for cross-service consumers.
type EventBusConfig struct {
	Type              string              `yaml:"type"` // "local", "kafka", "hybrid"
	PublishBufferSize int                 `yaml:"publish_buffer_size"`
	Kafka             EventBusKafkaConfig `yaml:"kafka"`
}

// EventBusKafkaConfig holds Kafka event bus configuration.
type EventBusKafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	ClientID     string   `yaml:"client_id"`
	RequiredAcks int      `yaml:"required_acks"`
}

// NodeConfig identifies this process instance, surfaced in logs and the
// job trace correlation id prefix.
type NodeConfig struct {
	ID string `yaml:"id"`
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration.
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.AllowedOrigins == nil {
		c.API.AllowedOrigins = []string{"*"}
	}

	if c.WorkerPool.NumWorkers == 0 {
		c.WorkerPool.NumWorkers = 4
	}
	if c.WorkerPool.QueueSize == 0 {
		c.WorkerPool.QueueSize = 256
	}
	if c.WorkerPool.TaskTimeout == 0 {
		c.WorkerPool.TaskTimeout = 2 * time.Minute
	}

	if c.CanonicalStore.Path == "" {
		c.CanonicalStore.Path = "./data/canonical"
	}

	if c.Sinks.Read == "" {
		c.Sinks.Read = "SourcifyDatabase"
	}
	if len(c.Sinks.WriteOrErr) == 0 {
		c.Sinks.WriteOrErr = []string{"SourcifyDatabase"}
	}
	if c.Sinks.Alliance.MaxOpenConns == 0 {
		c.Sinks.Alliance.MaxOpenConns = 10
	}
	if c.Sinks.Alliance.MaxIdleConns == 0 {
		c.Sinks.Alliance.MaxIdleConns = 5
	}
	if c.Sinks.Alliance.ConnMaxIdleTime == 0 {
		c.Sinks.Alliance.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.Sinks.Alliance.ConnMaxLifetime == 0 {
		c.Sinks.Alliance.ConnMaxLifetime = time.Hour
	}

	if c.ExternalVerifiers.Etherscan.DirectoryTTL == 0 {
		c.ExternalVerifiers.Etherscan.DirectoryTTL = time.Hour
	}
	if c.ExternalVerifiers.Blockscout.DirectoryTTL == 0 {
		c.ExternalVerifiers.Blockscout.DirectoryTTL = time.Hour
	}
	if c.ExternalVerifiers.Routescan.DirectoryTTL == 0 {
		c.ExternalVerifiers.Routescan.DirectoryTTL = time.Hour
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = 10 * time.Minute
	}

	if c.EventBus.Type == "" {
		c.EventBus.Type = "local"
	}
	if c.EventBus.PublishBufferSize == 0 {
		c.EventBus.PublishBufferSize = 1000
	}
	if c.EventBus.Kafka.Topic == "" {
		c.EventBus.Kafka.Topic = "verifyd-job-events"
	}
	if c.EventBus.Kafka.RequiredAcks == 0 {
		c.EventBus.Kafka.RequiredAcks = -1
	}

	if c.Node.ID == "" {
		hostname, err := os.Hostname()
		if err == nil {
			c.Node.ID = hostname
		} else {
			c.Node.ID = "verifyd-1"
		}
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over file configuration.
func (c *Config) LoadFromEnv() error {
	if level := os.Getenv("VERIFYD_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("VERIFYD_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	if enabled := os.Getenv("VERIFYD_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid VERIFYD_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("VERIFYD_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("VERIFYD_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid VERIFYD_API_PORT: %w", err)
		}
		c.API.Port = val
	}
	if allowedOrigins := os.Getenv("VERIFYD_API_CORS_ALLOWED_ORIGINS"); allowedOrigins != "" {
		origins := make([]string, 0)
		for _, origin := range strings.Split(allowedOrigins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				origins = append(origins, origin)
			}
		}
		if len(origins) > 0 {
			c.API.AllowedOrigins = origins
		}
	}

	if workers := os.Getenv("VERIFYD_WORKER_POOL_NUM_WORKERS"); workers != "" {
		val, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("invalid VERIFYD_WORKER_POOL_NUM_WORKERS: %w", err)
		}
		c.WorkerPool.NumWorkers = val
	}
	if queueSize := os.Getenv("VERIFYD_WORKER_POOL_QUEUE_SIZE"); queueSize != "" {
		val, err := strconv.Atoi(queueSize)
		if err != nil {
			return fmt.Errorf("invalid VERIFYD_WORKER_POOL_QUEUE_SIZE: %w", err)
		}
		c.WorkerPool.QueueSize = val
	}

	if path := os.Getenv("VERIFYD_CANONICAL_STORE_PATH"); path != "" {
		c.CanonicalStore.Path = path
	}

	if writeOrErr := os.Getenv("VERIFYD_SINKS_WRITE_OR_ERR"); writeOrErr != "" {
		c.Sinks.WriteOrErr = splitCSV(writeOrErr)
	}
	if writeOrWarn := os.Getenv("VERIFYD_SINKS_WRITE_OR_WARN"); writeOrWarn != "" {
		c.Sinks.WriteOrWarn = splitCSV(writeOrWarn)
	}
	if read := os.Getenv("VERIFYD_SINKS_READ"); read != "" {
		c.Sinks.Read = read
	}
	if root := os.Getenv("VERIFYD_SINKS_FILESYSTEM_ROOT"); root != "" {
		c.Sinks.Filesystem.Root = root
	}
	if dsn := os.Getenv("VERIFYD_SINKS_ALLIANCE_DSN"); dsn != "" {
		c.Sinks.Alliance.DSN = dsn
	}
	if bucket := os.Getenv("VERIFYD_SINKS_S3_BUCKET"); bucket != "" {
		c.Sinks.S3.Bucket = bucket
	}
	if region := os.Getenv("VERIFYD_SINKS_S3_REGION"); region != "" {
		c.Sinks.S3.Region = region
	}

	if enabled := os.Getenv("VERIFYD_DEBUG_DATA_STORE_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid VERIFYD_DEBUG_DATA_STORE_ENABLED: %w", err)
		}
		c.DebugDataStore.Enabled = val
	}
	if bucket := os.Getenv("VERIFYD_DEBUG_DATA_STORE_BUCKET"); bucket != "" {
		c.DebugDataStore.Bucket = bucket
	}

	if key := os.Getenv("VERIFYD_ETHERSCAN_API_KEY"); key != "" {
		c.ExternalVerifiers.Etherscan.APIKey = key
		c.ExternalVerifiers.Etherscan.Enabled = true
	}
	if key := os.Getenv("VERIFYD_BLOCKSCOUT_API_KEY"); key != "" {
		c.ExternalVerifiers.Blockscout.APIKey = key
		c.ExternalVerifiers.Blockscout.Enabled = true
	}
	if key := os.Getenv("VERIFYD_ROUTESCAN_API_KEY"); key != "" {
		c.ExternalVerifiers.Routescan.APIKey = key
		c.ExternalVerifiers.Routescan.Enabled = true
	}

	if enabled := os.Getenv("VERIFYD_CACHE_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid VERIFYD_CACHE_ENABLED: %w", err)
		}
		c.Cache.Enabled = val
	}
	if addr := os.Getenv("VERIFYD_CACHE_ADDR"); addr != "" {
		c.Cache.Addr = addr
	}
	if password := os.Getenv("VERIFYD_CACHE_PASSWORD"); password != "" {
		c.Cache.Password = password
	}

	if ebType := os.Getenv("VERIFYD_EVENTBUS_TYPE"); ebType != "" {
		c.EventBus.Type = ebType
	}
	if kafkaEnabled := os.Getenv("VERIFYD_EVENTBUS_KAFKA_ENABLED"); kafkaEnabled != "" {
		val, err := strconv.ParseBool(kafkaEnabled)
		if err != nil {
			return fmt.Errorf("invalid VERIFYD_EVENTBUS_KAFKA_ENABLED: %w", err)
		}
		c.EventBus.Kafka.Enabled = val
	}
	if kafkaBrokers := os.Getenv("VERIFYD_EVENTBUS_KAFKA_BROKERS"); kafkaBrokers != "" {
		c.EventBus.Kafka.Brokers = splitCSV(kafkaBrokers)
	}
	if kafkaTopic := os.Getenv("VERIFYD_EVENTBUS_KAFKA_TOPIC"); kafkaTopic != "" {
		c.EventBus.Kafka.Topic = kafkaTopic
	}

	if nodeID := os.Getenv("VERIFYD_NODE_ID"); nodeID != "" {
		c.Node.ID = nodeID
	}

	return nil
}

func splitCSV(s string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file.
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	if c.WorkerPool.NumWorkers <= 0 {
		return fmt.Errorf("worker pool size must be positive")
	}
	if c.WorkerPool.QueueSize <= 0 {
		return fmt.Errorf("worker pool queue size must be positive")
	}

	if c.CanonicalStore.Path == "" {
		return fmt.Errorf("canonical store path is required")
	}

	if len(c.Sinks.WriteOrErr) == 0 {
		return fmt.Errorf("at least one writeOrErr sink is required")
	}
	if c.Sinks.Read == "" {
		return fmt.Errorf("a read sink identifier is required")
	}

	validEventBusTypes := map[string]bool{"local": true, "kafka": true, "hybrid": true}
	if !validEventBusTypes[c.EventBus.Type] {
		return fmt.Errorf("invalid eventbus type %q, must be one of: local, kafka, hybrid", c.EventBus.Type)
	}
	if c.EventBus.Kafka.Enabled {
		if len(c.EventBus.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka eventbus enabled but no brokers configured")
		}
		if c.EventBus.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	for _, chain := range c.Chains {
		if chain.ID == "" {
			return fmt.Errorf("chain config missing id")
		}
		if chain.Endpoint == "" {
			return fmt.Errorf("chain %q missing endpoint", chain.ID)
		}
	}

	return nil
}

// Load is a convenience method that loads configuration in the following
// order: 1. set defaults, 2. load from file (if provided), 3. load from
// environment variables (override file), 4. validate.
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
