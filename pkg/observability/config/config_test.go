package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Run("missing section disables export", func(t *testing.T) {
		cfg, err := NewConfig(viper.New())

		require.NoError(t, err)
		assert.False(t, cfg.Metrics.Enabled)
		assert.False(t, cfg.Tracing.Enabled)
		assert.Equal(t, DefaultMetricsInterval, cfg.Metrics.Interval)
		assert.Equal(t, DefaultSampleRatio, cfg.Tracing.SampleRatio)
	})

	t.Run("reads yaml", func(t *testing.T) {
		v := viper.New()
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(strings.NewReader(`
observability:
  otel-collector-endpoint: collector:4317
  metrics:
    enabled: true
    interval: 30s
  tracing:
    enabled: true
    sample-ratio: 0.25
`)))

		cfg, err := NewConfig(v)

		require.NoError(t, err)
		assert.Equal(t, "collector:4317", cfg.OtelCollectorEndpoint)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 30*time.Second, cfg.Metrics.Interval)
		assert.True(t, cfg.Tracing.Enabled)
		assert.InDelta(t, 0.25, cfg.Tracing.SampleRatio, 1e-9)
	})
}

func TestApplyDefaults_ClampsSampleRatio(t *testing.T) {
	cfg := Config{Tracing: TracingConfig{SampleRatio: 3}}

	cfg.ApplyDefaults()

	assert.Equal(t, DefaultSampleRatio, cfg.Tracing.SampleRatio)
}

func TestApplyDisableOptions(t *testing.T) {
	cfg := Config{
		Tracing: TracingConfig{Enabled: true},
		Metrics: MetricsConfig{Enabled: true},
	}
	opts := &configOptions{}
	WithDisableTracing()(opts)
	WithDisableMetrics()(opts)

	applyDisableOptions(&cfg, opts)

	assert.False(t, cfg.Tracing.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
}
