// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/strix/internal/codec"
	"firestige.xyz/strix/internal/log"
)

// Config is the top-level static configuration. Maps to the `strix:`
// root key in YAML; env vars use the STRIX_ prefix (e.g. STRIX_SECRET).
type Config struct {
	// Secret authenticates sniffed traffic; attribute-sorted
	// fingerprints additionally need it for nothing, only decoding does.
	Secret string `mapstructure:"secret" yaml:"secret"`
	// SortAttributes switches fingerprints from the authenticator field
	// to an order-independent digest of the attribute list.
	SortAttributes bool `mapstructure:"sort_attributes" yaml:"sort_attributes"`

	// Ports are the UDP ports treated as RADIUS when Filter is empty.
	Ports []int `mapstructure:"ports" yaml:"ports"`
	// Filter overrides the generated BPF capture filter.
	Filter string `mapstructure:"filter" yaml:"filter"`

	// Timeout is the response wait per request.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Interval is the stats emission period.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Limit caps outstanding requests; 0 = unbounded.
	Limit int `mapstructure:"limit" yaml:"limit"`
	// Dequeue lists request code names whose table entries are removed
	// immediately on link instead of lingering for duplicate responses.
	Dequeue []string `mapstructure:"dequeue" yaml:"dequeue"`

	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Sink    SinkConfig    `mapstructure:"sink" yaml:"sink"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     log.Config    `mapstructure:"log" yaml:"log"`
}

// CaptureConfig lists the capture streams. Files and interfaces may be
// mixed; at least one of either is required.
type CaptureConfig struct {
	Files       []string          `mapstructure:"files" yaml:"files"`
	Interfaces  []InterfaceConfig `mapstructure:"interfaces" yaml:"interfaces"`
	SnapLen     int               `mapstructure:"snaplen" yaml:"snaplen"`
	Promiscuous bool              `mapstructure:"promiscuous" yaml:"promiscuous"`
}

// InterfaceConfig is one live capture device.
type InterfaceConfig struct {
	Device string `mapstructure:"device" yaml:"device"`
	// Engine selects the capture backend: pcap | afpacket.
	Engine string `mapstructure:"engine" yaml:"engine"`
	// BufferMB sizes the afpacket ring. Ignored by the pcap engine.
	BufferMB int `mapstructure:"buffer_mb" yaml:"buffer_mb"`
}

// OutputConfig configures the secondary pcap file fed with every
// accepted packet. Empty path disables it.
type OutputConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// SinkConfig selects the stats sink and carries its type-specific
// options verbatim for the factory to decode.
type SinkConfig struct {
	Type    string                 `mapstructure:"type" yaml:"type"`
	Options map[string]interface{} `mapstructure:"options" yaml:"options"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// configRoot is the top-level wrapper matching the YAML structure
// `strix: ...`.
type configRoot struct {
	Strix Config `mapstructure:"strix" yaml:"strix"`
}

// Load loads configuration from file, merges env overrides and applies
// defaults and validation.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// No explicit env prefix; the `strix.` key prefix maps to STRIX_
	// through the key replacer (key "strix.log.level" → STRIX_LOG_LEVEL).
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Strix

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values. All keys use the "strix." prefix to
// match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("strix.secret", "testing123")
	v.SetDefault("strix.ports", []int{1812, 1813})
	v.SetDefault("strix.timeout", "6s")
	v.SetDefault("strix.interval", "60s")

	v.SetDefault("strix.capture.snaplen", 65535)
	v.SetDefault("strix.capture.promiscuous", true)

	v.SetDefault("strix.sink.type", "console")

	v.SetDefault("strix.metrics.enabled", true)
	v.SetDefault("strix.metrics.listen", ":9090")
	v.SetDefault("strix.metrics.path", "/metrics")

	v.SetDefault("strix.log.level", "info")
	v.SetDefault("strix.log.pattern", "%time [%level] %msg%field%n")
	v.SetDefault("strix.log.time", "2006-01-02 15:04:05.000")
}

// ValidateAndApplyDefaults validates configuration and fills runtime
// defaults viper cannot express per-element.
func (cfg *Config) ValidateAndApplyDefaults() error {
	if cfg.Secret == "" {
		return fmt.Errorf("secret must not be empty")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", cfg.Limit)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}

	if len(cfg.Capture.Files) == 0 && len(cfg.Capture.Interfaces) == 0 {
		return fmt.Errorf("no capture sources configured: set capture.files or capture.interfaces")
	}
	if cfg.Capture.SnapLen <= 0 {
		return fmt.Errorf("capture.snaplen must be positive, got %d", cfg.Capture.SnapLen)
	}
	for i := range cfg.Capture.Interfaces {
		ifc := &cfg.Capture.Interfaces[i]
		if ifc.Device == "" {
			return fmt.Errorf("capture.interfaces[%d].device must not be empty", i)
		}
		switch ifc.Engine {
		case "":
			ifc.Engine = "pcap"
		case "pcap", "afpacket":
		default:
			return fmt.Errorf("unsupported capture engine: %s (must be pcap/afpacket)", ifc.Engine)
		}
		if ifc.BufferMB == 0 {
			ifc.BufferMB = 16
		}
	}

	if cfg.Filter == "" {
		if len(cfg.Ports) == 0 {
			return fmt.Errorf("either filter or ports must be set")
		}
		cfg.Filter = filterFromPorts(cfg.Ports)
	}

	if _, err := cfg.DequeueMask(); err != nil {
		return err
	}

	if cfg.Sink.Type == "" {
		cfg.Sink.Type = "console"
	}
	return nil
}

// DequeueMask resolves the configured code names into the per-code
// dequeue table.
func (cfg *Config) DequeueMask() ([codec.MaxCode + 1]bool, error) {
	var mask [codec.MaxCode + 1]bool
	for _, name := range cfg.Dequeue {
		code, ok := codec.CodeByName(name)
		if !ok {
			return mask, fmt.Errorf("unknown dequeue code: %s", name)
		}
		if !code.IsRequest() {
			return mask, fmt.Errorf("dequeue code %s is not a request code", name)
		}
		mask[code] = true
	}
	return mask, nil
}

func filterFromPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = fmt.Sprintf("udp port %d", p)
	}
	return strings.Join(parts, " or ")
}
