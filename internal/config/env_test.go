package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv("QMSCHED_CONFIG", "/custom/config.toml")
	t.Setenv("QMSCHED_TENANT_URL", "https://qm.example.com/portal/acme")
	t.Setenv("QMSCHED_SESSION_FILE", "/tmp/session.json")

	overrides := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", overrides.ConfigPath)
	assert.Equal(t, "https://qm.example.com/portal/acme", overrides.TenantURL)
	assert.Equal(t, "/tmp/session.json", overrides.SessionFile)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv("QMSCHED_CONFIG", "")
	t.Setenv("QMSCHED_TENANT_URL", "")
	t.Setenv("QMSCHED_SESSION_FILE", "")

	overrides := ReadEnvOverrides()
	assert.Empty(t, overrides.ConfigPath)
	assert.Empty(t, overrides.TenantURL)
	assert.Empty(t, overrides.SessionFile)
}
