package metrics

import (
	"context"
	"errors"
	"time"

	appconfig "github.com/Sokol111/analytics-pipeline/pkg/core/config"
	otelinternal "github.com/Sokol111/analytics-pipeline/pkg/observability/internal"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ErrNoEndpoint is returned when metrics are enabled without a collector endpoint.
var ErrNoEndpoint = errors.New("metrics: otel-collector-endpoint is required")

// NewProvider creates a meter provider pushing to the collector at endpoint every interval.
func NewProvider(ctx context.Context, endpoint string, interval time.Duration, appCfg appconfig.AppConfig) (*sdkmetric.MeterProvider, error) {
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}

	res, err := otelinternal.NewResource(ctx, appCfg)
	if err != nil {
		return nil, err
	}

	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	), nil
}
