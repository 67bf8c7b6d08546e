// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for qmsched. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// Keys are flat: each embedded section contributes its fields directly to
// the top level of the file.
type Config struct {
	SessionConfig
	LoggingConfig
	NetworkConfig
	RetryConfig
	ServerConfig
}

// SessionConfig locates the tenant and the persisted session.
type SessionConfig struct {
	TenantURL   string `toml:"tenant_url"`
	SessionFile string `toml:"session_file"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior and token handling.
type NetworkConfig struct {
	RequestTimeout    string  `toml:"request_timeout"`
	RefreshTimeout    string  `toml:"refresh_timeout"`
	UserAgent         string  `toml:"user_agent"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	TokenLeeway       string  `toml:"token_leeway"`
}

// RetryConfig holds the two retry policies: one for reads, one for writes.
type RetryConfig struct {
	MaxRetries         int    `toml:"max_retries"`
	RetryStep          string `toml:"retry_step"`
	RetryCap           string `toml:"retry_cap"`
	MutationMaxRetries int    `toml:"mutation_max_retries"`
	MutationRetryStep  string `toml:"mutation_retry_step"`
	MutationRetryCap   string `toml:"mutation_retry_cap"`
}

// ServerConfig configures the stand-in scheduling server run by "serve".
type ServerConfig struct {
	ListenAddr   string `toml:"listen_addr"`
	DatabasePath string `toml:"database_path"`
	SigningKey   string `toml:"signing_key"`
	TokenTTL     string `toml:"token_ttl"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath  string  // --config flag (empty = use default)
	TenantURL   *string // --tenant-url flag
	SessionFile *string // --session-file flag
	LogLevel    *string // --log-level flag
	ListenAddr  *string // serve --listen flag
}

// RetrySettings is one parsed retry policy.
type RetrySettings struct {
	MaxRetries int
	Step       time.Duration
	Cap        time.Duration
}

// Resolved is the effective configuration after all four layers have been
// applied, with durations parsed and paths expanded.
type Resolved struct {
	ConfigPath  string
	TenantURL   string
	SessionFile string

	LogLevel  string
	LogFormat string

	RequestTimeout    time.Duration
	RefreshTimeout    time.Duration
	UserAgent         string
	RequestsPerSecond float64
	TokenLeeway       time.Duration

	QueryRetry    RetrySettings
	MutationRetry RetrySettings

	ListenAddr   string
	DatabasePath string
	SigningKey   string
	TokenTTL     time.Duration
}
