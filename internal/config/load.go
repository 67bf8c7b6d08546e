package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Config file, or defaults when absent
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Environment
	if env.TenantURL != "" {
		cfg.TenantURL = env.TenantURL
	}

	if env.SessionFile != "" {
		cfg.SessionFile = env.SessionFile
	}

	// 4. CLI flags (nil = not specified)
	if cli.TenantURL != nil {
		cfg.TenantURL = *cli.TenantURL
	}

	if cli.SessionFile != nil {
		cfg.SessionFile = *cli.SessionFile
	}

	if cli.LogLevel != nil {
		cfg.LogLevel = *cli.LogLevel
	}

	if cli.ListenAddr != nil {
		cfg.ListenAddr = *cli.ListenAddr
	}

	// Flags and env bypass Load's validation.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	resolved := resolve(cfg)
	resolved.ConfigPath = cfgPath

	return resolved, nil
}

// resolve converts a validated Config into its parsed form. Durations have
// already passed validation, so parse errors cannot occur here.
func resolve(cfg *Config) *Resolved {
	r := &Resolved{
		TenantURL:         strings.TrimSpace(cfg.TenantURL),
		SessionFile:       expandHome(cfg.SessionFile),
		LogLevel:          cfg.LogLevel,
		LogFormat:         cfg.LogFormat,
		RequestTimeout:    mustDuration(cfg.RequestTimeout),
		RefreshTimeout:    mustDuration(cfg.RefreshTimeout),
		UserAgent:         cfg.UserAgent,
		RequestsPerSecond: cfg.RequestsPerSecond,
		TokenLeeway:       mustDuration(cfg.TokenLeeway),
		QueryRetry: RetrySettings{
			MaxRetries: cfg.MaxRetries,
			Step:       mustDuration(cfg.RetryStep),
			Cap:        mustDuration(cfg.RetryCap),
		},
		MutationRetry: RetrySettings{
			MaxRetries: cfg.MutationMaxRetries,
			Step:       mustDuration(cfg.MutationRetryStep),
			Cap:        mustDuration(cfg.MutationRetryCap),
		},
		ListenAddr:   cfg.ListenAddr,
		DatabasePath: expandHome(cfg.DatabasePath),
		SigningKey:   cfg.SigningKey,
		TokenTTL:     mustDuration(cfg.TokenTTL),
	}

	if r.SessionFile == "" {
		r.SessionFile = DefaultSessionPath()
	}

	if r.DatabasePath == "" {
		r.DatabasePath = DefaultDatabasePath()
	}

	return r
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
