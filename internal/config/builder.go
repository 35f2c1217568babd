package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/errors"
)

// ConfigBuilder provides a fluent interface for building configurations.
// Errors are collected and reported together by Build.
type ConfigBuilder struct {
	config *Config
	errors []error
}

// NewConfigBuilder creates a new configuration builder with the defaults
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: DefaultConfig()}
}

// WithListFile sets the destination list file and its format
func (b *ConfigBuilder) WithListFile(path, format string) *ConfigBuilder {
	if format != "text" && format != "yaml" {
		b.errors = append(b.errors, fmt.Errorf("invalid list format: %s", format))
		return b
	}
	b.config.Dispatcher.ListFile = path
	b.config.Dispatcher.ListFormat = format
	return b
}

// WithSelection configures the selection flags of the dispatcher
func (b *ConfigBuilder) WithSelection(useDefault, failover, hashUserOnly, forceDestination bool) *ConfigBuilder {
	b.config.Dispatcher.UseDefault = useDefault
	b.config.Dispatcher.Failover = failover
	b.config.Dispatcher.HashUserOnly = hashUserOnly
	b.config.Dispatcher.ForceDestination = forceDestination
	return b
}

// WithDNS configures when destination hosts are resolved
func (b *ConfigBuilder) WithDNS(mode string, cacheTTL, refresh time.Duration) *ConfigBuilder {
	if _, err := domain.ParseDNSMode(mode); err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	b.config.Dispatcher.DNSMode = strings.ToLower(mode)
	b.config.Dispatcher.DNSCacheTTL = cacheTTL
	b.config.Dispatcher.DNSRefreshInterval = refresh
	return b
}

// WithProbing configures the health probe sweep
func (b *ConfigBuilder) WithProbing(mode string, interval, timeout time.Duration) *ConfigBuilder {
	m, err := domain.ParseProbingMode(mode)
	if err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	if interval <= 0 || timeout <= 0 {
		b.errors = append(b.errors, fmt.Errorf("probing interval and timeout must be positive"))
		return b
	}
	b.config.Probing.Mode = m.String()
	b.config.Probing.Interval = interval
	b.config.Probing.Timeout = timeout
	return b
}

// WithThresholds sets how many failed and successful probes flip a destination
func (b *ConfigBuilder) WithThresholds(probing, inactive int) *ConfigBuilder {
	if probing < 1 || inactive < 1 {
		b.errors = append(b.errors, fmt.Errorf("thresholds must be at least 1: probing=%d inactive=%d", probing, inactive))
		return b
	}
	b.config.Probing.ProbingThreshold = probing
	b.config.Probing.InactiveThreshold = inactive
	return b
}

// WithReplyCodes sets the extra reply codes accepted as a positive probe
func (b *ConfigBuilder) WithReplyCodes(spec string) *ConfigBuilder {
	if _, err := ParseReplyCodes(spec); err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	b.config.Probing.ReplyCodes = spec
	return b
}

// WithCallLoad configures the call load table
func (b *ConfigBuilder) WithCallLoad(hashSize int, expire, initExpire time.Duration) *ConfigBuilder {
	if hashSize <= 0 || hashSize&(hashSize-1) != 0 {
		b.errors = append(b.errors, fmt.Errorf("call load hash size must be a power of two: %d", hashSize))
		return b
	}
	b.config.CallLoad.HashSize = hashSize
	b.config.CallLoad.Expire = expire
	b.config.CallLoad.InitExpire = initExpire
	return b
}

// WithRegistrar enables the registrar for the given location domains
func (b *ConfigBuilder) WithRegistrar(domains ...string) *ConfigBuilder {
	if len(domains) == 0 {
		b.config.Registrar.Enabled = false
		return b
	}
	b.config.Registrar.Enabled = true
	b.config.Registrar.Domains = domains
	return b
}

// WithExpires sets the registrar expiry rules
func (b *ConfigBuilder) WithExpires(def, min, max int) *ConfigBuilder {
	if max > 0 && min > max {
		b.errors = append(b.errors, fmt.Errorf("min expires %d exceeds max expires %d", min, max))
		return b
	}
	b.config.Registrar.DefaultExpires = def
	b.config.Registrar.MinExpires = min
	b.config.Registrar.MaxExpires = max
	return b
}

// WithAdmin configures the admin API
func (b *ConfigBuilder) WithAdmin(address, jwtSecret string) *ConfigBuilder {
	b.config.Admin.Enabled = address != ""
	b.config.Admin.Address = address
	b.config.Admin.JWTSecret = jwtSecret
	return b
}

// WithGRPC enables the gRPC health service on address
func (b *ConfigBuilder) WithGRPC(address string) *ConfigBuilder {
	b.config.GRPC.Enabled = address != ""
	b.config.GRPC.Address = address
	return b
}

// WithLogging configures logging settings
func (b *ConfigBuilder) WithLogging(level, format, output string) *ConfigBuilder {
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true,
		"error": true, "fatal": true, "panic": true,
	}
	if !validLevels[level] {
		b.errors = append(b.errors, fmt.Errorf("invalid log level: %s", level))
		return b
	}
	b.config.Logging.Level = level
	b.config.Logging.Format = format
	b.config.Logging.Output = output
	return b
}

// Build validates the configuration and returns it
func (b *ConfigBuilder) Build() (*Config, error) {
	if len(b.errors) > 0 {
		msgs := make([]string, len(b.errors))
		for i, err := range b.errors {
			msgs[i] = err.Error()
		}
		return nil, errors.NewError(errors.ErrCodeConfigInvalid, "config_builder",
			"Configuration validation failed: "+strings.Join(msgs, "; "))
	}
	if err := b.config.Validate(); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfigInvalid, "config_builder", "Configuration validation failed")
	}
	return b.Clone().config, nil
}

// BuildFromFile loads configuration from a file and returns a builder
func BuildFromFile(filename string) (*ConfigBuilder, error) {
	cfg, err := LoadFromFile(filename)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfigInvalid, "config_builder", "Failed to load configuration from file")
	}
	return &ConfigBuilder{config: cfg}, nil
}

// Clone creates a copy of the current configuration for modification
func (b *ConfigBuilder) Clone() *ConfigBuilder {
	newConfig := *b.config
	if b.config.Registrar.Domains != nil {
		newConfig.Registrar.Domains = append([]string(nil), b.config.Registrar.Domains...)
	}
	return &ConfigBuilder{
		config: &newConfig,
		errors: append([]error(nil), b.errors...),
	}
}
