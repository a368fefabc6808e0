package logger

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

type moduleOptions struct {
	config *Config
}

// Option configures the logging module.
type Option func(*moduleOptions)

// WithLoggerConfig uses cfg instead of reading the "logger" section from viper.
func WithLoggerConfig(cfg Config) Option {
	return func(o *moduleOptions) {
		o.config = &cfg
	}
}

// NewZapLoggingModule provides a *zap.Logger and routes fx events through it.
func NewZapLoggingModule(opts ...Option) fx.Option {
	o := &moduleOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return fx.Options(
		configOption(o),
		fx.Provide(provideLogger),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
}

func configOption(o *moduleOptions) fx.Option {
	if o.config != nil {
		return fx.Supply(*o.config)
	}
	return fx.Provide(func(v *viper.Viper) (Config, error) {
		return NewConfig(v)
	})
}

func provideLogger(lc fx.Lifecycle, conf Config) (*zap.Logger, error) {
	l, _, err := New(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return Sync(l)
		},
	})
	return l, nil
}

// Sync flushes l, ignoring the errors returned when the output is a terminal.
func Sync(l *zap.Logger) error {
	err := l.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}
