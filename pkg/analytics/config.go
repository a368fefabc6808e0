package analytics

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Sokol111/analytics-pipeline/pkg/http/client"
	"github.com/Sokol111/analytics-pipeline/pkg/policy/backoff"
	"github.com/Sokol111/analytics-pipeline/pkg/policy/flush"
	"github.com/Sokol111/analytics-pipeline/pkg/storage/eventstore"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when the pipeline configuration cannot be used.
var ErrInvalidConfig = errors.New("analytics: invalid configuration")

// StorageMode selects the event store backend.
type StorageMode string

const (
	StorageDisk   StorageMode = "disk"
	StorageMemory StorageMode = "memory"
)

const (
	DefaultStorageDir   = "./.analytics"
	DefaultMaxEventSize = 32 * 1024
)

// BackoffConfig tunes retry delays after failed uploads.
type BackoffConfig struct {
	MinDelay    time.Duration `mapstructure:"min-delay"`
	MaxAttempts int           `mapstructure:"max-attempts"`
	CoolOff     time.Duration `mapstructure:"cool-off"`
}

// Config describes one pipeline instance.
// yaml example:
//
//	analytics:
//	  write-key: 2AbCdEf
//	  data-plane-url: https://hosted.example.com
//	  storage-mode: disk
//	  storage-dir: ./.analytics
//	  flush-at: 30
//	  flush-interval: 10s
//	  backoff:
//	    min-delay: 3s
//	    max-attempts: 5
//	    cool-off: 30m
type Config struct {
	WriteKey         string              `mapstructure:"write-key"`
	DataPlaneURL     string              `mapstructure:"data-plane-url"`
	StorageMode      StorageMode         `mapstructure:"storage-mode"`
	StorageDir       string              `mapstructure:"storage-dir"`
	FlushAt          int                 `mapstructure:"flush-at"`
	FlushInterval    time.Duration       `mapstructure:"flush-interval"`
	FlushAtStartup   *bool               `mapstructure:"flush-at-startup"`
	MaxBatchSize     int                 `mapstructure:"max-batch-size"`
	MaxEventSize     int                 `mapstructure:"max-event-size"`
	MaxStoredBatches int                 `mapstructure:"max-stored-batches"`
	Gzip             *bool               `mapstructure:"gzip"`
	Backoff          BackoffConfig       `mapstructure:"backoff"`
	HTTP             client.ClientConfig `mapstructure:"http"`
}

// NewConfig reads the "analytics" sub-tree of v.
func NewConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	sub := v.Sub("analytics")
	if sub == nil {
		return cfg, fmt.Errorf("%w: missing analytics section", ErrInvalidConfig)
	}
	if err := sub.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to load analytics config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.StorageMode == "" {
		c.StorageMode = StorageDisk
	}
	if c.StorageDir == "" {
		c.StorageDir = DefaultStorageDir
	}
	if c.FlushAt == 0 {
		c.FlushAt = flush.DefaultFlushAt
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = flush.DefaultInterval
	}
	if c.FlushAtStartup == nil {
		c.FlushAtStartup = lo.ToPtr(true)
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = eventstore.DefaultMaxBatchSize
	}
	if c.MaxEventSize == 0 {
		c.MaxEventSize = DefaultMaxEventSize
	}
	if c.MaxStoredBatches == 0 {
		c.MaxStoredBatches = eventstore.DefaultMaxStoredBatches
	}
	if c.Gzip == nil {
		c.Gzip = lo.ToPtr(true)
	}
	if c.Backoff.MinDelay == 0 {
		c.Backoff.MinDelay = backoff.DefaultMinDelay
	}
	if c.Backoff.MaxAttempts == 0 {
		c.Backoff.MaxAttempts = backoff.DefaultMaxAttempts
	}
	if c.Backoff.CoolOff == 0 {
		c.Backoff.CoolOff = backoff.DefaultCoolOff
	}
	c.HTTP.ApplyDefaults()
}

// Validate checks the fields that have no usable default.
func (c Config) Validate() error {
	if c.WriteKey == "" {
		return fmt.Errorf("%w: write-key is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.DataPlaneURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: data-plane-url must be an http(s) url, got %q", ErrInvalidConfig, c.DataPlaneURL)
	}
	switch c.StorageMode {
	case StorageDisk, StorageMemory:
	default:
		return fmt.Errorf("%w: unknown storage-mode %q", ErrInvalidConfig, c.StorageMode)
	}
	if c.MaxEventSize > c.MaxBatchSize {
		return fmt.Errorf("%w: max-event-size (%d) exceeds max-batch-size (%d)", ErrInvalidConfig, c.MaxEventSize, c.MaxBatchSize)
	}
	return nil
}

// FlushPolicies builds the policies selected by the configuration.
func (c Config) FlushPolicies() []flush.Policy {
	policies := []flush.Policy{
		flush.NewCountPolicy(c.FlushAt),
		flush.NewFrequencyPolicy(c.FlushInterval),
	}
	if c.FlushAtStartup == nil || *c.FlushAtStartup {
		policies = append(policies, flush.NewStartupPolicy())
	}
	return policies
}

func (c Config) senderConfig() client.SenderConfig {
	return client.SenderConfig{
		DataPlaneURL: c.DataPlaneURL,
		WriteKey:     c.WriteKey,
		Gzip:         c.Gzip == nil || *c.Gzip,
		HTTP:         c.HTTP,
	}
}
