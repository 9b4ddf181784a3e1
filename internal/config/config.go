// Package config loads the xssprobe configuration document with viper.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/0x6d61/xssprobe/internal/dispatch"
	"github.com/0x6d61/xssprobe/internal/fingerprint"
	"github.com/0x6d61/xssprobe/internal/scope"
)

// EnvPrefix prefixes environment overrides, e.g. XSSPROBE_LOGGER_LEVEL.
const EnvPrefix = "XSSPROBE"

// Config is the root configuration. It is read once per scan and treated
// as a read-only snapshot afterwards.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Scope     ScopeConfig     `mapstructure:"scope" yaml:"scope"`
	Scan      ScanConfig      `mapstructure:"scan" yaml:"scan"`
	Dispatch  dispatch.Config `mapstructure:"dispatch" yaml:"dispatch"`
	Detection DetectionConfig `mapstructure:"detection" yaml:"detection"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Notify    NotifyConfig    `mapstructure:"notify" yaml:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Report    ReportConfig    `mapstructure:"report" yaml:"report"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to color names for the console encoder.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
}

// ScopeConfig is the allow-list of targets.
type ScopeConfig struct {
	Targets []scope.Target `mapstructure:"targets" yaml:"targets"`
}

// ScanConfig toggles injection point sources and sets scan parallelism.
type ScanConfig struct {
	Parameters   bool `mapstructure:"parameters" yaml:"parameters"`
	Forms        bool `mapstructure:"forms" yaml:"forms"`
	HiddenInputs bool `mapstructure:"hidden_inputs" yaml:"hidden_inputs"`
	PseudoStatic bool `mapstructure:"pseudo_static" yaml:"pseudo_static"`
	Links        bool `mapstructure:"links" yaml:"links"`

	// Concurrency bounds how many injection points are probed at once.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// DetectionConfig tunes payload generation and verdicts.
type DetectionConfig struct {
	VulnClass         string              `mapstructure:"vuln_class" yaml:"vuln_class"`
	MinConfidence     float64             `mapstructure:"min_confidence" yaml:"min_confidence"`
	CombineTransforms bool                `mapstructure:"combine_transforms" yaml:"combine_transforms"`
	Threshold         float64             `mapstructure:"threshold" yaml:"threshold"`
	Window            int                 `mapstructure:"window" yaml:"window"`
	Frameworks        map[string][]string `mapstructure:"frameworks" yaml:"frameworks"`
}

// TransportConfig configures the HTTP client.
type TransportConfig struct {
	Timeout            time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	Proxy              string            `mapstructure:"proxy" yaml:"proxy"`
	FollowRedirects    bool              `mapstructure:"follow_redirects" yaml:"follow_redirects"`
	InsecureSkipVerify bool              `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	RandomUserAgent    bool              `mapstructure:"random_user_agent" yaml:"random_user_agent"`
	MaxRPS             float64           `mapstructure:"max_rps" yaml:"max_rps"`
	FallbackBeacon     bool              `mapstructure:"fallback_beacon" yaml:"fallback_beacon"`
	Headers            map[string]string `mapstructure:"headers" yaml:"headers"`
	Cookies            map[string]string `mapstructure:"cookies" yaml:"cookies"`
}

// NotifyConfig configures where vulnerable verdicts are reported.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	StorePath  string        `mapstructure:"store_path" yaml:"store_path"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	Path string `mapstructure:"path" yaml:"path"`
}

// ReportConfig selects the report format and destination.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "xssprobe")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Scan --
	v.SetDefault("scan.parameters", true)
	v.SetDefault("scan.forms", true)
	v.SetDefault("scan.hidden_inputs", true)
	v.SetDefault("scan.pseudo_static", true)
	v.SetDefault("scan.links", false)
	v.SetDefault("scan.concurrency", 4)

	// -- Dispatch --
	d := dispatch.DefaultConfig()
	v.SetDefault("dispatch.request_delay", d.RequestDelay)
	v.SetDefault("dispatch.max_requests_per_minute", d.MaxRequestsPerMinute)
	v.SetDefault("dispatch.max_concurrent_requests", d.MaxConcurrentRequests)
	v.SetDefault("dispatch.batch_size", d.BatchSize)
	v.SetDefault("dispatch.batch_delay", d.BatchDelay)
	v.SetDefault("dispatch.retry_attempts", d.RetryAttempts)
	v.SetDefault("dispatch.timeout", d.Timeout)
	v.SetDefault("dispatch.cache.enabled", d.Cache.Enabled)
	v.SetDefault("dispatch.cache.ttl", d.Cache.TTL)
	v.SetDefault("dispatch.cache.max_size", d.Cache.MaxSize)
	v.SetDefault("dispatch.access.require_auth", d.Access.RequireAuth)
	v.SetDefault("dispatch.access.allowed_methods", d.Access.AllowedMethods)
	v.SetDefault("dispatch.access.max_payload_size", d.Access.MaxPayloadSize)

	// -- Detection --
	v.SetDefault("detection.vuln_class", "reflected")
	v.SetDefault("detection.min_confidence", 0.0)
	v.SetDefault("detection.combine_transforms", false)
	v.SetDefault("detection.threshold", 0.8)
	v.SetDefault("detection.window", 512)
	v.SetDefault("detection.frameworks", fingerprint.DefaultFrameworks())

	// -- Transport --
	v.SetDefault("transport.timeout", "10s")
	v.SetDefault("transport.proxy", "")
	v.SetDefault("transport.follow_redirects", true)
	v.SetDefault("transport.insecure_skip_verify", false)
	v.SetDefault("transport.random_user_agent", false)
	v.SetDefault("transport.max_rps", 0.0)
	v.SetDefault("transport.fallback_beacon", false)

	// -- Notify --
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", "5s")
	v.SetDefault("notify.store_path", "")

	// -- Metrics --
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.path", "/metrics")

	// -- Report --
	v.SetDefault("report.format", "text")
	v.SetDefault("report.output", "")
}

// NewDefaultConfig returns the configuration with only defaults applied.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Load reads path (if non-empty) over the defaults, applies XSSPROBE_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}
	return NewConfigFromViper(v)
}

// NewConfigFromViper unmarshals and validates v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	for i, t := range c.Scope.Targets {
		if strings.TrimSpace(t.Domain) == "" {
			return fmt.Errorf("scope.targets[%d] must have a domain", i)
		}
	}
	if c.Scan.Concurrency <= 0 {
		return fmt.Errorf("scan.concurrency must be a positive integer")
	}
	if c.Dispatch.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("dispatch.max_concurrent_requests must be a positive integer")
	}
	if c.Dispatch.BatchSize <= 0 {
		return fmt.Errorf("dispatch.batch_size must be a positive integer")
	}
	if c.Dispatch.RetryAttempts < 0 {
		return fmt.Errorf("dispatch.retry_attempts must not be negative")
	}
	if c.Dispatch.Cache.Enabled && c.Dispatch.Cache.MaxSize <= 0 {
		return fmt.Errorf("dispatch.cache.max_size must be positive when the cache is enabled")
	}
	switch c.Detection.VulnClass {
	case "reflected", "dom", "stored":
	default:
		return fmt.Errorf("detection.vuln_class must be one of reflected, dom, stored (got %q)", c.Detection.VulnClass)
	}
	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		return fmt.Errorf("detection.min_confidence must be between 0.0 and 1.0")
	}
	if c.Detection.Threshold <= 0 || c.Detection.Threshold > 1 {
		return fmt.Errorf("detection.threshold must be in (0.0, 1.0]")
	}
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json (got %q)", c.Logger.Format)
	}
	switch c.Report.Format {
	case "text", "json":
	default:
		return fmt.Errorf("report.format must be text or json (got %q)", c.Report.Format)
	}
	return nil
}

// Write renders cfg as YAML to w.
func Write(w io.Writer, cfg *Config) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteFile writes cfg to path, refusing to overwrite an existing file.
func WriteFile(path string, cfg *Config) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := Write(f, cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
