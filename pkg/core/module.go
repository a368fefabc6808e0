package core

import (
	"time"

	"github.com/Sokol111/analytics-pipeline/pkg/core/config"
	"github.com/Sokol111/analytics-pipeline/pkg/core/logger"
	"go.uber.org/fx"
)

// coreOptions holds internal configuration for the core module.
type coreOptions struct {
	appConfig     *config.AppConfig
	loggerConfig  *logger.Config
	configPath    *string
	disableDotEnv bool
	noConfigFile  bool
}

// Option is a functional option for configuring the core module.
type Option func(*coreOptions)

// WithAppConfig provides a static AppConfig (useful for tests).
// When set, the AppConfig will not be loaded from environment variables.
func WithAppConfig(cfg config.AppConfig) Option {
	return func(opts *coreOptions) {
		opts.appConfig = &cfg
	}
}

// WithLoggerConfig provides a static logger Config (useful for tests).
// When set, the logger configuration will not be loaded from viper.
func WithLoggerConfig(cfg logger.Config) Option {
	return func(opts *coreOptions) {
		opts.loggerConfig = &cfg
	}
}

// WithConfigPath reads configuration from path instead of CONFIG_FILE.
func WithConfigPath(path string) Option {
	return func(opts *coreOptions) {
		opts.configPath = &path
	}
}

// WithoutEnvFile disables loading of .env file.
func WithoutEnvFile() Option {
	return func(opts *coreOptions) {
		opts.disableDotEnv = true
	}
}

// WithoutConfigFile disables loading of the config file. Environment variables still apply.
func WithoutConfigFile() Option {
	return func(opts *coreOptions) {
		opts.noConfigFile = true
	}
}

// NewCoreModule provides config and logger.
// The pipeline flushes stored batches on stop, so the stop timeout is generous.
//
// Example usage:
//
//	// Production - loads config from environment/viper
//	core.NewCoreModule()
//
//	// Testing - with static configs
//	core.NewCoreModule(
//	    core.WithAppConfig(config.AppConfig{...}),
//	    core.WithLoggerConfig(logger.Config{...}),
//	    core.WithoutEnvFile(),
//	    core.WithoutConfigFile(),
//	)
func NewCoreModule(opts ...Option) fx.Option {
	cfg := &coreOptions{}
	for _, opt := range opts {
		opt(cfg)
	}

	return fx.Options(
		fx.StartTimeout(30*time.Second),
		fx.StopTimeout(time.Minute),

		dotEnvModule(cfg),
		viperModule(cfg),
		appConfigModule(cfg),
		loggerModule(cfg),
	)
}

func dotEnvModule(cfg *coreOptions) fx.Option {
	if cfg.disableDotEnv {
		return fx.Options()
	}
	return config.NewDotEnvModule()
}

func viperModule(cfg *coreOptions) fx.Option {
	var opts []config.ViperOption
	if cfg.noConfigFile {
		opts = append(opts, config.WithoutConfigFile())
	}
	if cfg.configPath != nil {
		opts = append(opts, config.WithConfigPath(*cfg.configPath))
	}
	return config.NewViperModule(opts...)
}

func appConfigModule(cfg *coreOptions) fx.Option {
	if cfg.appConfig != nil {
		return config.NewAppConfigModule(config.WithAppConfig(*cfg.appConfig))
	}
	return config.NewAppConfigModule()
}

func loggerModule(cfg *coreOptions) fx.Option {
	if cfg.loggerConfig != nil {
		return logger.NewZapLoggingModule(logger.WithLoggerConfig(*cfg.loggerConfig))
	}
	return logger.NewZapLoggingModule()
}
