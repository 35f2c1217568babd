package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnvironment loads configuration from environment variables on top
// of the defaults
func LoadFromEnvironment() *Config {
	config := DefaultConfig()
	MergeWithEnvironment(config)
	return config
}

// MergeWithEnvironment overrides base with every environment variable that is set
func MergeWithEnvironment(base *Config) {
	// Dispatcher
	setString(&base.Dispatcher.ListFile, "DS_LIST_FILE")
	setString(&base.Dispatcher.ListFormat, "DS_LIST_FORMAT")
	setBool(&base.Dispatcher.WatchList, "DS_WATCH_LIST")
	setBool(&base.Dispatcher.StrictLoad, "DS_STRICT_LOAD")
	setBool(&base.Dispatcher.UseDefault, "DS_USE_DEFAULT")
	setBool(&base.Dispatcher.Failover, "DS_FAILOVER")
	setBool(&base.Dispatcher.HashUserOnly, "DS_HASH_USER_ONLY")
	setBool(&base.Dispatcher.ForceDestination, "DS_FORCE_DST")
	setString(&base.Dispatcher.DNSMode, "DS_DNS_MODE")
	setDuration(&base.Dispatcher.DNSRefreshInterval, "DS_DNS_REFRESH_INTERVAL")
	setBool(&base.Dispatcher.LatencyStats, "DS_LATENCY_STATS")
	if v := getEnv("DS_LATENCY_ALPHA", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f < 1 {
			base.Dispatcher.LatencyAlpha = f
		}
	}

	// Probing
	setString(&base.Probing.Mode, "DS_PROBING_MODE")
	setDuration(&base.Probing.Interval, "DS_PROBING_INTERVAL")
	setDuration(&base.Probing.Timeout, "DS_PROBING_TIMEOUT")
	setPositiveInt(&base.Probing.ProbingThreshold, "DS_PROBING_THRESHOLD")
	setPositiveInt(&base.Probing.InactiveThreshold, "DS_INACTIVE_THRESHOLD")
	setString(&base.Probing.Method, "DS_PING_METHOD")
	setString(&base.Probing.From, "DS_PING_FROM")
	setString(&base.Probing.ReplyCodes, "DS_PING_REPLY_CODES")

	// Call load
	setPositiveInt(&base.CallLoad.HashSize, "DS_HASH_SIZE")
	setDuration(&base.CallLoad.Expire, "DS_HASH_EXPIRE")
	setDuration(&base.CallLoad.InitExpire, "DS_HASH_INITEXPIRE")

	// Registrar
	setBool(&base.Registrar.Enabled, "REG_ENABLED")
	if v := getEnv("REG_DOMAINS", ""); v != "" {
		base.Registrar.Domains = strings.Split(v, ",")
	}
	setNonNegativeInt(&base.Registrar.MaxContacts, "REG_MAX_CONTACTS")
	setNonNegativeInt(&base.Registrar.DefaultExpires, "REG_DEFAULT_EXPIRES")
	setNonNegativeInt(&base.Registrar.MinExpires, "REG_MIN_EXPIRES")
	setNonNegativeInt(&base.Registrar.MaxExpires, "REG_MAX_EXPIRES")
	setNonNegativeInt(&base.Registrar.ExpiresRange, "REG_EXPIRES_RANGE")
	setBool(&base.Registrar.DescTimeOrder, "REG_DESC_TIME_ORDER")
	setDuration(&base.Registrar.SweepInterval, "REG_SWEEP_INTERVAL")

	// Outer surfaces
	setString(&base.Admin.Address, "ADMIN_ADDRESS")
	setString(&base.Admin.JWTSecret, "ADMIN_JWT_SECRET")
	setNonNegativeInt(&base.Admin.MaxConnections, "ADMIN_MAX_CONNECTIONS")
	setBool(&base.GRPC.Enabled, "GRPC_ENABLED")
	setString(&base.GRPC.Address, "GRPC_ADDRESS")

	// Logging
	setString(&base.Logging.Level, "LOG_LEVEL")
	setString(&base.Logging.Format, "LOG_FORMAT")
	setString(&base.Logging.Output, "LOG_OUTPUT")
	setString(&base.Logging.File, "LOG_FILE")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setString(dst *string, key string) {
	if v := getEnv(key, ""); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := getEnv(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setPositiveInt(dst *int, key string) {
	if v := getEnv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setNonNegativeInt(dst *int, key string) {
	if v := getEnv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := getEnv(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
