package client

import (
	"time"

	"github.com/samber/lo"
)

// Default values for the data plane HTTP client.
const (
	DefaultTimeout             = 10 * time.Second
	DefaultMaxIdleConnsPerHost = 4
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxConnLifetime     = 5 * time.Minute // Refresh DNS of the data plane periodically
	MaxRetriesCap              = 3

	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// ClientConfig tunes the pooled HTTP client used to reach the data plane.
// yaml example:
//
//	analytics:
//	  http:
//	    timeout: 10s
//	    max-idle-conns-per-host: 4
//	    idle-conn-timeout: 90s
//	    max-conn-lifetime: 5m
//	    breaker-failures: 5
//	    breaker-timeout: 30s
//
// Omit fields to use defaults. Set a duration to 0 to disable it.
type ClientConfig struct {
	Timeout             *time.Duration `mapstructure:"timeout"`
	MaxIdleConnsPerHost *int           `mapstructure:"max-idle-conns-per-host"`
	IdleConnTimeout     *time.Duration `mapstructure:"idle-conn-timeout"`
	MaxConnLifetime     *time.Duration `mapstructure:"max-conn-lifetime"`
	BreakerFailures     *uint32        `mapstructure:"breaker-failures"`
	BreakerTimeout      *time.Duration `mapstructure:"breaker-timeout"`
}

// ApplyDefaults fills every unset field.
func (c *ClientConfig) ApplyDefaults() {
	if c.Timeout == nil {
		c.Timeout = lo.ToPtr(DefaultTimeout)
	}
	if c.MaxIdleConnsPerHost == nil {
		c.MaxIdleConnsPerHost = lo.ToPtr(DefaultMaxIdleConnsPerHost)
	}
	if c.IdleConnTimeout == nil {
		c.IdleConnTimeout = lo.ToPtr(DefaultIdleConnTimeout)
	}
	if c.MaxConnLifetime == nil {
		c.MaxConnLifetime = lo.ToPtr(DefaultMaxConnLifetime)
	}
	if c.BreakerFailures == nil {
		c.BreakerFailures = lo.ToPtr(uint32(DefaultBreakerFailures))
	}
	if c.BreakerTimeout == nil {
		c.BreakerTimeout = lo.ToPtr(DefaultBreakerTimeout)
	}
}
