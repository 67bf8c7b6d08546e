package config

// Default values for configuration options. These are "layer 0" of the
// four-layer override chain.
const (
	defaultLogLevel          = "warn"
	defaultLogFormat         = "auto"
	defaultRequestTimeout    = "30s"
	defaultRefreshTimeout    = "15s"
	defaultUserAgent         = "qmsched/0.1"
	defaultTokenLeeway       = "10s"
	defaultMaxRetries        = 3
	defaultRetryStep         = "10s"
	defaultRetryCap          = "30s"
	defaultListenAddr        = "127.0.0.1:8080"
	defaultTokenTTL          = "1m"
	defaultSessionFileName   = "session.json"
	defaultDatabaseFileName  = "schedapi.db"
	defaultRequestsPerSecond = 0
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset keys keep defaults.
// Empty paths are filled in from the platform data directory at resolve time.
func DefaultConfig() *Config {
	return &Config{
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		NetworkConfig: NetworkConfig{
			RequestTimeout:    defaultRequestTimeout,
			RefreshTimeout:    defaultRefreshTimeout,
			UserAgent:         defaultUserAgent,
			RequestsPerSecond: defaultRequestsPerSecond,
			TokenLeeway:       defaultTokenLeeway,
		},
		RetryConfig: RetryConfig{
			MaxRetries:         defaultMaxRetries,
			RetryStep:          defaultRetryStep,
			RetryCap:           defaultRetryCap,
			MutationMaxRetries: defaultMaxRetries,
			MutationRetryStep:  defaultRetryStep,
			MutationRetryCap:   defaultRetryCap,
		},
		ServerConfig: ServerConfig{
			ListenAddr: defaultListenAddr,
			TokenTTL:   defaultTokenTTL,
		},
	}
}
