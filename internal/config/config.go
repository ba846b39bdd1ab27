// Package config handles shipper configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (LOG_GROUP_NAME, DEBUG, LOG_SHIPPER_*)
// 3. Config file (YAML, --config / LOG_SHIPPER_CONFIG_FILE)
// 4. Defaults
//
// Once loaded, a Config is treated as an immutable snapshot: the shipper
// never re-reads the environment mid-run.
//
// # Example Config File
//
//	log_group_name: journald-to-cloudwatch
//	debug: false
//
//	aws:
//	  region: us-west-2
//	  secret_source: op://prod/cloudwatch-agent-credential
//
//	batching:
//	  max_events: 100
//	  max_batch_bytes: 1048576
//	  max_batch_age: 1s
//
//	rate_limit:
//	  put_events_per_second: 5
//
//	token_cache:
//	  redis_url: redis://localhost:6379/0
//
//	audit:
//	  database_url: postgres://localhost:5432/journald_to_cloudwatch
//
//	health:
//	  report_interval: 60s
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogGroupName is used when LOG_GROUP_NAME is unset.
	DefaultLogGroupName = "journald-to-cloudwatch"

	// maxEventsNormal and maxEventsDebug bound the Batcher's count trigger.
	maxEventsNormal = 100
	maxEventsDebug  = 1

	// maxBatchBytes is the CloudWatch Logs per-batch byte cap.
	maxBatchBytes = 1_048_576

	// maxBatchAge is how long an event may sit in the buffer before the
	// age trigger forces a flush.
	maxBatchAge = 1 * time.Second

	defaultPutRateLimit    = 5
	defaultHealthInterval  = 60 * time.Second
	defaultMetadataTimeout = 3 * time.Second
	defaultAWSRegion       = "us-west-2"
)

// Config is the complete shipper configuration.
type Config struct {
	LogGroupName string `yaml:"log_group_name"`
	Debug        bool   `yaml:"debug"`

	AWS        AWSConfig        `yaml:"aws"`
	Batching   BatchingConfig   `yaml:"batching"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	TokenCache TokenCacheConfig `yaml:"token_cache"`
	Audit      AuditConfig      `yaml:"audit"`
	Health     HealthConfig     `yaml:"health"`
}

// AWSConfig controls region resolution and credential sourcing.
type AWSConfig struct {
	Region string `yaml:"region,omitempty"`

	// SecretSource, when set, names a 1Password item reference
	// ("op://vault/item") whose access_key_id and secret_access_key
	// fields supply AWS credentials in place of the SDK's default chain.
	SecretSource string `yaml:"secret_source,omitempty"`

	MetadataTimeout time.Duration `yaml:"metadata_timeout,omitempty"`
}

// BatchingConfig controls the Batcher's flush triggers.
type BatchingConfig struct {
	MaxEvents     int           `yaml:"max_events"`
	MaxBatchBytes int           `yaml:"max_batch_bytes"`
	MaxBatchAge   time.Duration `yaml:"max_batch_age"`
}

// RateLimitConfig paces PutLogEvents calls.
type RateLimitConfig struct {
	PutEventsPerSecond float64 `yaml:"put_events_per_second"`
}

// TokenCacheConfig configures the optional Redis-backed sequence-token hint cache.
type TokenCacheConfig struct {
	RedisURL string `yaml:"redis_url,omitempty"`
}

// AuditConfig configures the optional Postgres-backed drop ledger.
type AuditConfig struct {
	DatabaseURL string `yaml:"database_url,omitempty"`
}

// HealthConfig controls the self-health reporter.
type HealthConfig struct {
	ReportInterval time.Duration `yaml:"report_interval"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		LogGroupName: DefaultLogGroupName,
		AWS: AWSConfig{
			Region:          defaultAWSRegion,
			MetadataTimeout: defaultMetadataTimeout,
		},
		Batching: BatchingConfig{
			MaxEvents:     maxEventsNormal,
			MaxBatchBytes: maxBatchBytes,
			MaxBatchAge:   maxBatchAge,
		},
		RateLimit: RateLimitConfig{
			PutEventsPerSecond: defaultPutRateLimit,
		},
		Health: HealthConfig{
			ReportInterval: defaultHealthInterval,
		},
	}
}

// LoadFromFile loads configuration from a YAML file, layered on defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides in place.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LOG_GROUP_NAME"); v != "" {
		c.LogGroupName = v
	}
	if _, ok := os.LookupEnv("DEBUG"); ok {
		c.Debug = true
	}
	if v := os.Getenv("LOG_SHIPPER_SECRET_SOURCE"); v != "" {
		c.AWS.SecretSource = v
	}
	if v := os.Getenv("LOG_SHIPPER_TOKEN_CACHE_URL"); v != "" {
		c.TokenCache.RedisURL = v
	}
	if v := os.Getenv("LOG_SHIPPER_AUDIT_DB_URL"); v != "" {
		c.Audit.DatabaseURL = v
	}
	if v := os.Getenv("LOG_SHIPPER_PUT_RATE_LIMIT"); v != "" {
		if rate, err := parseFloat(v); err == nil && rate > 0 {
			c.RateLimit.PutEventsPerSecond = rate
		}
	}
	if v := os.Getenv("LOG_SHIPPER_HEALTH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Health.ReportInterval = d
		}
	}

	// DEBUG mode forces single-event batches, making every upload
	// individually observable.
	if c.Debug {
		c.Batching.MaxEvents = maxEventsDebug
	} else if c.Batching.MaxEvents <= 0 {
		c.Batching.MaxEvents = maxEventsNormal
	}
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.LogGroupName == "" {
		return fmt.Errorf("log_group_name is required")
	}
	if c.Batching.MaxBatchBytes <= 0 {
		return fmt.Errorf("batching.max_batch_bytes must be positive")
	}
	if c.Batching.MaxEvents <= 0 {
		return fmt.Errorf("batching.max_events must be positive")
	}
	if c.RateLimit.PutEventsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.put_events_per_second must be positive")
	}
	return nil
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	return f, err
}
