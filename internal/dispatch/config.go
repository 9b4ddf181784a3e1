package dispatch

import (
	"net/http"
	"time"
)

// Config holds the dispatcher limits. Zero values disable the
// corresponding limit, except BatchSize which is raised to 1.
type Config struct {
	RequestDelay          time.Duration `mapstructure:"request_delay" yaml:"request_delay"`
	MaxRequestsPerMinute  int           `mapstructure:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	BatchSize             int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchDelay            time.Duration `mapstructure:"batch_delay" yaml:"batch_delay"`
	RetryAttempts         int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	Timeout               time.Duration `mapstructure:"timeout" yaml:"timeout"`

	Cache  CacheConfig  `mapstructure:"cache" yaml:"cache"`
	Access AccessConfig `mapstructure:"access" yaml:"access"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxSize int           `mapstructure:"max_size" yaml:"max_size"`
}

// AccessConfig is checked for every request before it executes.
type AccessConfig struct {
	RequireAuth    bool     `mapstructure:"require_auth" yaml:"require_auth"`
	AllowedMethods []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	MaxPayloadSize int      `mapstructure:"max_payload_size" yaml:"max_payload_size"`
}

// DefaultConfig returns conservative limits suitable for a single target.
func DefaultConfig() Config {
	return Config{
		RequestDelay:          100 * time.Millisecond,
		MaxRequestsPerMinute:  600,
		MaxConcurrentRequests: 5,
		BatchSize:             5,
		BatchDelay:            100 * time.Millisecond,
		RetryAttempts:         2,
		Timeout:               10 * time.Second,
		Cache: CacheConfig{
			Enabled: true,
			TTL:     5 * time.Minute,
			MaxSize: 1000,
		},
		Access: AccessConfig{
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			MaxPayloadSize: 1 << 20,
		},
	}
}
