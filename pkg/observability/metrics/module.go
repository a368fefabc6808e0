package metrics

import (
	"context"

	appconfig "github.com/Sokol111/analytics-pipeline/pkg/core/config"
	otelconfig "github.com/Sokol111/analytics-pipeline/pkg/observability/config"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type providerParams struct {
	fx.In
	Lc     fx.Lifecycle
	Log    *zap.Logger
	Cfg    otelconfig.Config
	AppCfg appconfig.AppConfig
}

// NewMetricsModule provides a metric.MeterProvider. When metrics are disabled it is a no-op provider.
func NewMetricsModule() fx.Option {
	return fx.Options(
		fx.Provide(func(p providerParams) (metric.MeterProvider, error) {
			if !p.Cfg.Metrics.Enabled {
				p.Log.Info("metrics: disabled")
				return noop.NewMeterProvider(), nil
			}
			return provideMeterProvider(p)
		}),
	)
}

func provideMeterProvider(p providerParams) (metric.MeterProvider, error) {
	provider, err := NewProvider(context.Background(), p.Cfg.OtelCollectorEndpoint, p.Cfg.Metrics.Interval, p.AppCfg)
	if err != nil {
		return nil, err
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			otel.SetMeterProvider(provider)
			if err := otelruntime.Start(
				otelruntime.WithMeterProvider(provider),
				otelruntime.WithMinimumReadMemStatsInterval(otelconfig.DefaultRuntimeStatsInterval),
			); err != nil {
				p.Log.Warn("failed to start runtime metrics", zap.Error(err))
			}
			p.Log.Info("metrics initialized",
				zap.String("endpoint", p.Cfg.OtelCollectorEndpoint),
				zap.Duration("interval", p.Cfg.Metrics.Interval),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, otelconfig.DefaultShutdownTimeout)
			defer cancel()
			return provider.Shutdown(shutdownCtx)
		},
	})

	return provider, nil
}
