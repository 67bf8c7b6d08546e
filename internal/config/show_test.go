package config

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective_Defaults(t *testing.T) {
	resolved := resolve(DefaultConfig())

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(resolved, &buf))

	output := buf.String()
	assert.Contains(t, output, `log_level  = "warn"`)
	assert.Contains(t, output, `retry_step           = "10s"`)
	assert.Contains(t, output, `mutation_retry_cap   = "30s"`)
	assert.Contains(t, output, `token_ttl     = "1m0s"`)
	assert.NotContains(t, output, "signing_key")
}

func TestRenderEffective_MasksSigningKey(t *testing.T) {
	resolved := resolve(DefaultConfig())
	resolved.SigningKey = "super-secret-signing-key-0123456789"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(resolved, &buf))

	assert.Contains(t, buf.String(), `signing_key   = "(set)"`)
	assert.NotContains(t, buf.String(), "super-secret")
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestRenderEffective_WriteError(t *testing.T) {
	err := RenderEffective(resolve(DefaultConfig()), failWriter{})
	assert.EqualError(t, err, "disk full")
}
