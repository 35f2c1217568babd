package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mir00r/sip-dispatcher/internal/domain"
	"gopkg.in/yaml.v2"
)

// Config represents the main configuration structure
type Config struct {
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Probing    ProbingConfig    `yaml:"probing"`
	CallLoad   CallLoadConfig   `yaml:"call_load"`
	Registrar  RegistrarConfig  `yaml:"registrar"`
	Admin      AdminConfig      `yaml:"admin"`
	GRPC       GRPCConfig       `yaml:"grpc"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DispatcherConfig contains destination set and selection settings
type DispatcherConfig struct {
	ListFile           string        `yaml:"list_file"`
	ListFormat         string        `yaml:"list_format" validate:"oneof=text yaml"`
	WatchList          bool          `yaml:"watch_list"`
	StrictLoad         bool          `yaml:"strict_load"`
	UseDefault         bool          `yaml:"use_default"`
	Failover           bool          `yaml:"failover"`
	HashUserOnly       bool          `yaml:"hash_user_only"`
	ForceDestination   bool          `yaml:"force_destination"`
	DNSMode            string        `yaml:"dns_mode" validate:"oneof=init always timer none"`
	DNSCacheTTL        time.Duration `yaml:"dns_cache_ttl"`
	DNSRefreshInterval time.Duration `yaml:"dns_refresh_interval"`
	LatencyStats       bool          `yaml:"latency_stats"`
	LatencyAlpha       float64       `yaml:"latency_alpha" validate:"gt=0,lt=1"`
}

// ProbingConfig contains health probing settings
type ProbingConfig struct {
	Mode              string        `yaml:"mode" validate:"oneof=none all inactive-only only-flagged"`
	Interval          time.Duration `yaml:"interval"`
	Timeout           time.Duration `yaml:"timeout"`
	ProbingThreshold  int           `yaml:"probing_threshold" validate:"min=1"`
	InactiveThreshold int           `yaml:"inactive_threshold" validate:"min=1"`
	Method            string        `yaml:"method" validate:"required"`
	From              string        `yaml:"from" validate:"required"`
	ReplyCodes        string        `yaml:"reply_codes"`
	RateLimit         float64       `yaml:"rate_limit" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	Hostname          string        `yaml:"hostname"`
	OutboundProxy     string        `yaml:"outbound_proxy"`
	DefaultSocket     string        `yaml:"default_socket"`
}

// CallLoadConfig contains the call-load tracking table settings
type CallLoadConfig struct {
	HashSize      int           `yaml:"hash_size" validate:"min=1"`
	Expire        time.Duration `yaml:"expire"`
	InitExpire    time.Duration `yaml:"init_expire"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// RegistrarConfig contains contact binding settings
type RegistrarConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Domains        []string      `yaml:"domains" validate:"dive,required"`
	HashSize       int           `yaml:"hash_size" validate:"min=1"`
	MaxContacts    int           `yaml:"max_contacts" validate:"gte=0"`
	DefaultExpires int           `yaml:"default_expires" validate:"gte=0"`
	MinExpires     int           `yaml:"min_expires" validate:"gte=0"`
	MaxExpires     int           `yaml:"max_expires" validate:"gte=0"`
	ExpiresRange   int           `yaml:"expires_range" validate:"gte=0,lte=100"`
	DescTimeOrder  bool          `yaml:"desc_time_order"`
	DefaultQ       float64       `yaml:"default_q" validate:"gte=0,lte=1"`
	CaseSensitive  bool          `yaml:"case_sensitive"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// AdminConfig contains control surface settings
type AdminConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Address        string  `yaml:"address"`
	MaxConnections int     `yaml:"max_connections" validate:"gte=0"`
	JWTSecret      string  `yaml:"jwt_secret"`
	RateLimit      float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst          int     `yaml:"burst" validate:"gte=0"`
}

// GRPCConfig contains the gRPC health endpoint settings
type GRPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format string `yaml:"format" validate:"oneof=json text"`
	Output string `yaml:"output" validate:"oneof=stdout stderr file discard"`
	File   string `yaml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Dispatcher: DispatcherConfig{
			ListFile:           "dispatcher.list",
			ListFormat:         "text",
			WatchList:          false,
			StrictLoad:         false,
			UseDefault:         false,
			Failover:           true,
			DNSMode:            "init",
			DNSCacheTTL:        5 * time.Minute,
			DNSRefreshInterval: time.Minute,
			LatencyStats:       true,
			LatencyAlpha:       0.9,
		},
		Probing: ProbingConfig{
			Mode:              "all",
			Interval:          10 * time.Second,
			Timeout:           5 * time.Second,
			ProbingThreshold:  3,
			InactiveThreshold: 1,
			Method:            "OPTIONS",
			From:              "sip:dispatcher@localhost",
			Hostname:          "localhost",
		},
		CallLoad: CallLoadConfig{
			HashSize:      256,
			Expire:        2 * time.Hour,
			InitExpire:    2 * time.Hour,
			CheckInterval: 30 * time.Second,
		},
		Registrar: RegistrarConfig{
			Enabled:        true,
			Domains:        []string{"location"},
			HashSize:       512,
			MaxContacts:    0,
			DefaultExpires: 3600,
			MinExpires:     60,
			MaxExpires:     0,
			ExpiresRange:   0,
			DefaultQ:       1.0,
			SweepInterval:  60 * time.Second,
		},
		Admin: AdminConfig{
			Enabled:        true,
			Address:        ":8080",
			MaxConnections: 64,
			RateLimit:      20,
			Burst:          40,
		},
		GRPC: GRPCConfig{
			Enabled: false,
			Address: ":9090",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfig loads the file when it exists, then applies environment overrides
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()

	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			fileConfig, err := LoadFromFile(filename)
			if err != nil {
				return nil, err
			}
			config = fileConfig
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", filename, err)
		}
	}

	MergeWithEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

var validate = validator.New()

// Validate validates the configuration for correctness
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Probing.Interval <= 0 {
		return fmt.Errorf("probing.interval must be positive: %v", c.Probing.Interval)
	}
	if c.Probing.Timeout <= 0 {
		return fmt.Errorf("probing.timeout must be positive: %v", c.Probing.Timeout)
	}
	if _, err := ParseReplyCodes(c.Probing.ReplyCodes); err != nil {
		return fmt.Errorf("probing.reply_codes: %w", err)
	}

	if c.CallLoad.HashSize&(c.CallLoad.HashSize-1) != 0 {
		return fmt.Errorf("call_load.hash_size must be a power of two: %d", c.CallLoad.HashSize)
	}
	if c.CallLoad.CheckInterval <= 0 {
		return fmt.Errorf("call_load.check_interval must be positive")
	}

	if c.Registrar.HashSize&(c.Registrar.HashSize-1) != 0 {
		return fmt.Errorf("registrar.hash_size must be a power of two: %d", c.Registrar.HashSize)
	}
	if c.Registrar.MaxExpires > 0 && c.Registrar.MinExpires > c.Registrar.MaxExpires {
		return fmt.Errorf("registrar.min_expires (%d) exceeds max_expires (%d)",
			c.Registrar.MinExpires, c.Registrar.MaxExpires)
	}
	if c.Registrar.SweepInterval <= 0 {
		return fmt.Errorf("registrar.sweep_interval must be positive")
	}

	if c.Dispatcher.DNSMode == "timer" && c.Dispatcher.DNSRefreshInterval <= 0 {
		return fmt.Errorf("dispatcher.dns_refresh_interval must be positive with dns_mode timer")
	}

	return nil
}

// ProbingMode returns the parsed probing mode
func (c *Config) ProbingMode() domain.ProbingMode {
	mode, _ := domain.ParseProbingMode(c.Probing.Mode)
	return mode
}

// DNSMode returns the parsed DNS mode
func (c *Config) DNSMode() domain.DNSMode {
	mode, _ := domain.ParseDNSMode(c.Dispatcher.DNSMode)
	return mode
}

// ReplyCodes is the set of reply codes and classes accepted as a positive probe outcome
type ReplyCodes struct {
	Codes   []int
	Classes []int
}

// Accepts reports whether code is whitelisted
func (r ReplyCodes) Accepts(code int) bool {
	for _, c := range r.Codes {
		if c == code {
			return true
		}
	}
	for _, cl := range r.Classes {
		if code/100 == cl {
			return true
		}
	}
	return false
}

// ParseReplyCodes parses a list such as "class=3;code=403;code=488"
func ParseReplyCodes(s string) (ReplyCodes, error) {
	var rc ReplyCodes
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return rc, fmt.Errorf("bad reply code entry %q", part)
		}
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(value), "%d", &n); err != nil {
			return rc, fmt.Errorf("bad reply code value %q", value)
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "code":
			if n < 100 || n > 699 {
				return rc, fmt.Errorf("reply code %d out of range", n)
			}
			rc.Codes = append(rc.Codes, n)
		case "class":
			if n < 1 || n > 6 {
				return rc, fmt.Errorf("reply class %d out of range", n)
			}
			rc.Classes = append(rc.Classes, n)
		default:
			return rc, fmt.Errorf("unknown reply code key %q", name)
		}
	}
	return rc, nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}
