package metrics

import (
	"context"
	"testing"

	appconfig "github.com/Sokol111/analytics-pipeline/pkg/core/config"
	otelconfig "github.com/Sokol111/analytics-pipeline/pkg/observability/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestNewProvider_RequiresEndpoint(t *testing.T) {
	_, err := NewProvider(context.Background(), "", otelconfig.DefaultMetricsInterval, appconfig.LoadAppConfig())

	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestNewMetricsModule_Disabled(t *testing.T) {
	var mp metric.MeterProvider
	app := fxtest.New(t,
		fx.Supply(otelconfig.Config{}, appconfig.LoadAppConfig()),
		fx.Provide(zap.NewNop),
		NewMetricsModule(),
		fx.Populate(&mp),
	)

	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, mp)
	assert.IsType(t, noop.MeterProvider{}, mp)
}
