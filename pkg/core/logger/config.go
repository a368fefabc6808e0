package logger

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config configures the process logger.
// yaml example:
//
//	logger:
//	  level: debug
//	  development: true
//	  outputPaths: [stderr, ./analytics.log]
type Config struct {
	Level            zapcore.Level
	StacktraceLevel  zapcore.Level
	Development      bool
	OutputPaths      []string
	ErrorOutputPaths []string
}

// DefaultConfig logs at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:           zapcore.InfoLevel,
		StacktraceLevel: zapcore.ErrorLevel,
	}
}

func (c Config) Validate() error {
	for name, paths := range map[string][]string{
		"outputPaths":      c.OutputPaths,
		"errorOutputPaths": c.ErrorOutputPaths,
	} {
		for i, path := range paths {
			if strings.TrimSpace(path) == "" {
				return fmt.Errorf("%s[%d] cannot be empty or whitespace", name, i)
			}
		}
	}
	return nil
}

// NewConfig reads the "logger" section of v. A missing section yields DefaultConfig.
func NewConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	sub := v.Sub("logger")
	if sub == nil {
		return cfg, nil
	}

	var raw struct {
		Level            string   `mapstructure:"level"`
		StacktraceLevel  string   `mapstructure:"stacktraceLevel"`
		Development      bool     `mapstructure:"development"`
		OutputPaths      []string `mapstructure:"outputPaths"`
		ErrorOutputPaths []string `mapstructure:"errorOutputPaths"`
	}
	if err := sub.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("failed to load logger config: %w", err)
	}

	var err error
	if cfg.Level, err = parseLevel(raw.Level, cfg.Level); err != nil {
		return Config{}, fmt.Errorf("invalid log level: %w", err)
	}
	if cfg.StacktraceLevel, err = parseLevel(raw.StacktraceLevel, cfg.StacktraceLevel); err != nil {
		return Config{}, fmt.Errorf("invalid stacktrace level: %w", err)
	}
	cfg.Development = raw.Development
	cfg.OutputPaths = raw.OutputPaths
	cfg.ErrorOutputPaths = raw.ErrorOutputPaths
	return cfg, nil
}

func parseLevel(s string, fallback zapcore.Level) (zapcore.Level, error) {
	if s == "" {
		return fallback, nil
	}
	return zapcore.ParseLevel(s)
}
