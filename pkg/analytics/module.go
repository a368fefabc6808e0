package analytics

import (
	"context"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// moduleOptions holds internal configuration for the analytics module.
type moduleOptions struct {
	config *Config
	opts   []Option
}

// ModuleOption is a functional option for configuring the analytics module.
type ModuleOption func(*moduleOptions)

// WithConfig provides a static Config (useful for tests).
// When set, the configuration will not be loaded from viper.
func WithConfig(cfg Config) ModuleOption {
	return func(o *moduleOptions) {
		o.config = &cfg
	}
}

// WithClientOptions passes options to New.
func WithClientOptions(opts ...Option) ModuleOption {
	return func(o *moduleOptions) {
		o.opts = append(o.opts, opts...)
	}
}

// NewAnalyticsModule provides a started *Client and shuts it down when the application stops.
func NewAnalyticsModule(opts ...ModuleOption) fx.Option {
	o := &moduleOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return fx.Module("analytics",
		configProvider(o),
		fx.Provide(func(lc fx.Lifecycle, p clientParams) (*Client, error) {
			return provideClient(lc, p, o.opts)
		}),
	)
}

func configProvider(o *moduleOptions) fx.Option {
	if o.config != nil {
		return fx.Supply(*o.config)
	}
	return fx.Provide(func(v *viper.Viper) (Config, error) {
		return NewConfig(v)
	})
}

type clientParams struct {
	fx.In

	Config         Config
	Logger         *zap.Logger
	MeterProvider  metric.MeterProvider `optional:"true"`
	TracerProvider trace.TracerProvider `optional:"true"`
}

func provideClient(lc fx.Lifecycle, p clientParams, opts []Option) (*Client, error) {
	all := append([]Option{WithLogger(p.Logger)}, opts...)
	if p.MeterProvider != nil {
		all = append(all, WithMeterProvider(p.MeterProvider))
	}
	if p.TracerProvider != nil {
		all = append(all, WithTracerProvider(p.TracerProvider))
	}

	c, err := New(p.Config, all...)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return c.Shutdown(ctx)
		},
	})
	return c, nil
}
