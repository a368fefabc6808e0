package config

import (
	"context"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultDotEnvPath = ".env"

type dotenvConfig struct {
	path string
}

// DotEnvOption is a functional option for configuring the dotenv module.
type DotEnvOption func(*dotenvConfig)

// WithDotEnvPath sets a custom path to the .env file.
func WithDotEnvPath(path string) DotEnvOption {
	return func(cfg *dotenvConfig) {
		cfg.path = path
	}
}

// LoadDotEnv loads variables from path into the environment without overriding existing ones.
// It reports whether the file was loaded.
func LoadDotEnv(path string) bool {
	if path == "" {
		path = defaultDotEnvPath
	}
	return godotenv.Load(path) == nil
}

// NewDotEnvModule loads a .env file synchronously, before viper reads the environment.
func NewDotEnvModule(opts ...DotEnvOption) fx.Option {
	cfg := &dotenvConfig{path: defaultDotEnvPath}
	for _, opt := range opts {
		opt(cfg)
	}
	loaded := LoadDotEnv(cfg.path)

	return fx.Module("dotenv",
		fx.Invoke(func(lc fx.Lifecycle, logger *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					if loaded {
						logger.Info("Loaded .env file", zap.String("path", cfg.path))
					} else {
						logger.Debug("No .env file loaded", zap.String("path", cfg.path))
					}
					return nil
				},
			})
		}),
	)
}
