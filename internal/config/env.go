package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig      = "QMSCHED_CONFIG"
	EnvTenantURL   = "QMSCHED_TENANT_URL"
	EnvSessionFile = "QMSCHED_SESSION_FILE"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string // QMSCHED_CONFIG: override config file path
	TenantURL   string // QMSCHED_TENANT_URL: tenant URL for login
	SessionFile string // QMSCHED_SESSION_FILE: session file location
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		TenantURL:   os.Getenv(EnvTenantURL),
		SessionFile: os.Getenv(EnvSessionFile),
	}
}
