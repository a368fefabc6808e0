package tracing

import (
	"context"

	appconfig "github.com/Sokol111/analytics-pipeline/pkg/core/config"
	otelconfig "github.com/Sokol111/analytics-pipeline/pkg/observability/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
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

// NewTracingModule provides a trace.TracerProvider. When tracing is disabled it is a no-op provider.
func NewTracingModule() fx.Option {
	return fx.Provide(func(p providerParams) (trace.TracerProvider, error) {
		if !p.Cfg.Tracing.Enabled {
			p.Log.Info("tracing: disabled")
			return noop.NewTracerProvider(), nil
		}
		return provideTracerProvider(p)
	})
}

func provideTracerProvider(p providerParams) (trace.TracerProvider, error) {
	tp, err := NewTracerProvider(context.Background(), p.Log, p.Cfg, p.AppCfg)
	if err != nil {
		return nil, err
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			otel.SetTracerProvider(tp)
			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
				propagation.TraceContext{},
				propagation.Baggage{},
			))
			p.Log.Info("tracing initialized", zap.String("endpoint", p.Cfg.OtelCollectorEndpoint))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, otelconfig.DefaultShutdownTimeout)
			defer cancel()
			return tp.Shutdown(shutdownCtx)
		},
	})

	return tp, nil
}
