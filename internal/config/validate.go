package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minRequestTimeout = 1 * time.Second
	minRefreshTimeout = 1 * time.Second
	maxTokenLeeway    = 5 * time.Minute
	maxRetryCount     = 10
	minTokenTTL       = 10 * time.Second
	minSigningKeyLen  = 32
)

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateSession(&cfg.SessionConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)
	errs = append(errs, validateRetry(&cfg.RetryConfig)...)
	errs = append(errs, validateServer(&cfg.ServerConfig)...)

	return errors.Join(errs...)
}

func validateSession(s *SessionConfig) []error {
	if strings.TrimSpace(s.TenantURL) == "" {
		return nil
	}

	u, err := url.Parse(strings.TrimSpace(s.TenantURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []error{fmt.Errorf("tenant_url: must be an absolute URL, got %q", s.TenantURL)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("tenant_url: scheme must be http or https, got %q", u.Scheme)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("request_timeout", n.RequestTimeout, minRequestTimeout)...)
	errs = append(errs, validateDurationMin("refresh_timeout", n.RefreshTimeout, minRefreshTimeout)...)
	errs = append(errs, validateDurationRange("token_leeway", n.TokenLeeway, 0, maxTokenLeeway)...)

	if n.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("requests_per_second: must be >= 0 (0 = unlimited), got %g",
			n.RequestsPerSecond))
	}

	return errs
}

func validateRetry(r *RetryConfig) []error {
	var errs []error

	errs = append(errs, validateRetryPolicy("", r.MaxRetries, r.RetryStep, r.RetryCap)...)
	errs = append(errs, validateRetryPolicy("mutation_", r.MutationMaxRetries, r.MutationRetryStep, r.MutationRetryCap)...)

	return errs
}

func validateRetryPolicy(prefix string, maxRetries int, step, capDelay string) []error {
	var errs []error

	if maxRetries < 0 || maxRetries > maxRetryCount {
		errs = append(errs, fmt.Errorf("%smax_retries: must be between 0 and %d, got %d",
			prefix, maxRetryCount, maxRetries))
	}

	stepErr := validateDuration(prefix+"retry_step", step, time.Millisecond)
	if stepErr != nil {
		errs = append(errs, stepErr)
	}

	capErr := validateDuration(prefix+"retry_cap", capDelay, time.Millisecond)
	if capErr != nil {
		errs = append(errs, capErr)
	}

	if stepErr == nil && capErr == nil && mustDuration(capDelay) < mustDuration(step) {
		errs = append(errs, fmt.Errorf("%sretry_cap: must be >= %sretry_step (%s), got %s",
			prefix, prefix, step, capDelay))
	}

	return errs
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("listen_addr: %w", err))
	}

	if s.SigningKey != "" && len(s.SigningKey) < minSigningKeyLen {
		errs = append(errs, fmt.Errorf("signing_key: must be at least %d bytes, got %d",
			minSigningKeyLen, len(s.SigningKey)))
	}

	errs = append(errs, validateDurationMin("token_ttl", s.TokenTTL, minTokenTTL)...)

	return errs
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationRange(field, value string, minimum, maximum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	if d := mustDuration(value); d > maximum {
		return []error{fmt.Errorf("%s: must be <= %s, got %s", field, maximum, d)}
	}

	return nil
}
