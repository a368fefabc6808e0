package config

import (
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	envAppEnv            = "APP_ENV"
	envAppServiceName    = "APP_SERVICE_NAME"
	envAppServiceVersion = "APP_SERVICE_VERSION"
)

const (
	defaultServiceName    = "analytics-pipeline"
	defaultServiceVersion = "dev"
	defaultEnvironment    = "local"
)

// AppConfig identifies the running process. It names the metrics resource.
type AppConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

type appConfigOptions struct {
	static *AppConfig
}

// AppConfigOption configures the app config module.
type AppConfigOption func(*appConfigOptions)

// WithAppConfig supplies cfg instead of reading the environment.
func WithAppConfig(cfg AppConfig) AppConfigOption {
	return func(o *appConfigOptions) {
		o.static = &cfg
	}
}

// NewAppConfigModule provides AppConfig from APP_SERVICE_NAME, APP_SERVICE_VERSION and APP_ENV.
// Unset variables fall back to defaults.
func NewAppConfigModule(opts ...AppConfigOption) fx.Option {
	o := &appConfigOptions{}
	for _, opt := range opts {
		opt(o)
	}

	provide := fx.Provide(LoadAppConfig)
	if o.static != nil {
		provide = fx.Supply(*o.static)
	}
	return fx.Module("appconfig",
		provide,
		fx.Invoke(func(logger *zap.Logger, conf AppConfig) {
			logger.Info("Loaded application configuration",
				zap.String("service", conf.ServiceName),
				zap.String("version", conf.ServiceVersion),
				zap.String("environment", conf.Environment),
			)
		}),
	)
}

// LoadAppConfig reads AppConfig from the environment.
func LoadAppConfig() AppConfig {
	return AppConfig{
		ServiceName:    envOr(envAppServiceName, defaultServiceName),
		ServiceVersion: envOr(envAppServiceVersion, defaultServiceVersion),
		Environment:    envOr(envAppEnv, defaultEnvironment),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
