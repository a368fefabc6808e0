package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const envConfigFile = "CONFIG_FILE"

type viperConfig struct {
	configPath   *string
	noConfigFile bool
}

// ViperOption is a functional option for configuring the Viper module.
type ViperOption func(*viperConfig)

// WithConfigPath sets the configuration file, overriding CONFIG_FILE.
func WithConfigPath(path string) ViperOption {
	return func(cfg *viperConfig) {
		cfg.configPath = &path
	}
}

// WithoutConfigFile disables file-based configuration. Environment variables still apply.
func WithoutConfigFile() ViperOption {
	return func(cfg *viperConfig) {
		cfg.noConfigFile = true
	}
}

// FilePath is the configuration file to load. Empty means none.
type FilePath string

// NewViperModule provides a *viper.Viper reading the file named by CONFIG_FILE, or the one
// given with WithConfigPath, overlaid with environment variables.
func NewViperModule(opts ...ViperOption) fx.Option {
	cfg := &viperConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return fx.Module("viper",
		fx.Supply(resolveConfigPath(cfg)),
		fx.Provide(func(path FilePath) (*viper.Viper, error) {
			return Load(string(path))
		}),
		fx.Invoke(logViperConfig),
	)
}

func logViperConfig(logger *zap.Logger, v *viper.Viper) {
	logger.Info("Configuration loaded",
		zap.String("configFile", v.ConfigFileUsed()),
		zap.Int("settingsCount", len(v.AllSettings())),
	)
}

func resolveConfigPath(cfg *viperConfig) FilePath {
	switch {
	case cfg.noConfigFile:
		return ""
	case cfg.configPath != nil:
		return FilePath(*cfg.configPath)
	default:
		return FilePath(os.Getenv(envConfigFile))
	}
}

// Load creates a viper instance for configFile. Keys can be overridden by environment variables
// with dots and dashes replaced by underscores, e.g. ANALYTICS_WRITE_KEY for analytics.write-key.
func Load(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if configFile == "" {
		return v, nil
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file [%s]: %w", configFile, err)
	}
	return v, nil
}
