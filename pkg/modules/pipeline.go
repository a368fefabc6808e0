package modules

import (
	"github.com/Sokol111/analytics-pipeline/pkg/analytics"
	"github.com/Sokol111/analytics-pipeline/pkg/core"
	otelconfig "github.com/Sokol111/analytics-pipeline/pkg/observability/config"
	"go.uber.org/fx"
)

// PipelineOptions selects options for each module bundled by NewPipelineModule.
type PipelineOptions struct {
	Core          []core.Option
	Observability []otelconfig.Option
	Analytics     []analytics.ModuleOption
}

// NewPipelineModule provides a started *analytics.Client together with config, logger, metrics and tracing.
func NewPipelineModule(opts PipelineOptions) fx.Option {
	return fx.Options(
		NewCoreModule(opts.Core...),
		NewObservabilityModule(opts.Observability...),
		analytics.NewAnalyticsModule(opts.Analytics...),
	)
}
