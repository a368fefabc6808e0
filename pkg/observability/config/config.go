// Package config holds the telemetry export settings shared by the metrics and tracing modules.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultMetricsInterval = 10 * time.Second
	DefaultSampleRatio     = 1.0
	DefaultShutdownTimeout = 5 * time.Second
	// DefaultRuntimeStatsInterval bounds how often runtime memory stats are read.
	DefaultRuntimeStatsInterval = time.Second
)

// Config controls telemetry export.
// yaml example:
//
//	observability:
//	  otel-collector-endpoint: localhost:4317
//	  metrics:
//	    enabled: true
//	    interval: 15s
//	  tracing:
//	    enabled: true
//	    sample-ratio: 0.1
type Config struct {
	OtelCollectorEndpoint string        `mapstructure:"otel-collector-endpoint"`
	Tracing               TracingConfig `mapstructure:"tracing"`
	Metrics               MetricsConfig `mapstructure:"metrics"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample-ratio"`
}

type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// NewConfig reads the "observability" section of v. A missing section disables export.
func NewConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if sub := v.Sub("observability"); sub != nil {
		if err := sub.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to load observability config: %w", err)
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Metrics.Interval <= 0 {
		c.Metrics.Interval = DefaultMetricsInterval
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = DefaultSampleRatio
	}
}
