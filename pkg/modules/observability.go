package modules

import (
	"github.com/Sokol111/analytics-pipeline/pkg/observability"
	otelconfig "github.com/Sokol111/analytics-pipeline/pkg/observability/config"
	"go.uber.org/fx"
)

// NewObservabilityModule provides observability functionality: tracing, metrics
func NewObservabilityModule(opts ...otelconfig.Option) fx.Option {
	return observability.NewObservabilityModule(opts...)
}
