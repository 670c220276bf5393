package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "LOG_LEVEL", "DATABASE_URL", "STORE_BACKEND", "RATE_RPS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, 50, cfg.RateRPS)
	assert.True(t, cfg.OpenTenancy)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("OPEN_TENANCY", "false")
	t.Setenv("RATE_RPS", "7")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.False(t, cfg.OpenTenancy)
	assert.Equal(t, 7, cfg.RateRPS)
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: staging
tenants:
  - did:example:alice
suspended_tenants:
  - did:example:mallory
keys:
  "did:example:alice#key-1": "aabbcc"
schemas:
  "https://example.com/schemas/note": "./schemas/note.json"
`), 0o600))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", p.Name)
	assert.Equal(t, []string{"did:example:alice"}, p.Tenants)
	assert.Equal(t, []string{"did:example:mallory"}, p.SuspendedTenants)
	assert.Equal(t, "aabbcc", p.Keys["did:example:alice#key-1"])

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
