// Package observability wires OpenTelemetry metrics and tracing export.
package observability

import (
	otelconfig "github.com/Sokol111/analytics-pipeline/pkg/observability/config"
	"github.com/Sokol111/analytics-pipeline/pkg/observability/metrics"
	"github.com/Sokol111/analytics-pipeline/pkg/observability/tracing"
	"go.uber.org/fx"
)

// NewObservabilityModule provides a metric.MeterProvider and a trace.TracerProvider configured
// from the "observability" section.
func NewObservabilityModule(opts ...otelconfig.Option) fx.Option {
	return fx.Module("observability",
		otelconfig.NewObservabilityConfigModule(opts...),
		metrics.NewMetricsModule(),
		tracing.NewTracingModule(),
	)
}
