package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsInDev(t *testing.T) {
	t.Setenv("GATEKEEPR_ENV", "dev")
	t.Setenv("GATEKEEPR_JWT_SECRET", "")
	t.Setenv("GATEKEEPR_DB_DRIVER", "")
	t.Setenv("GATEKEEPR_SESSION_TTL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, devSecret, cfg.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.False(t, cfg.CookieSecure)
}

func TestLoadRequiresSecretOutsideDev(t *testing.T) {
	t.Setenv("GATEKEEPR_ENV", "prod")
	t.Setenv("GATEKEEPR_JWT_SECRET", "")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("GATEKEEPR_HTTP_ADDR=:9999\nGATEKEEPR_CORS_ORIGINS=https://a.example, https://b.example\n"), 0o600))
	t.Setenv("GATEKEEPR_ENV", "dev")
	t.Setenv("GATEKEEPR_JWT_SECRET", "s3cret")
	// godotenv does not override variables that are already set, so clear them through t.Setenv first.
	t.Setenv("GATEKEEPR_HTTP_ADDR", "")
	os.Unsetenv("GATEKEEPR_HTTP_ADDR")
	t.Setenv("GATEKEEPR_CORS_ORIGINS", "")
	os.Unsetenv("GATEKEEPR_CORS_ORIGINS")

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("GATEKEEPR_ENV", "dev")
	t.Setenv("GATEKEEPR_DB_DRIVER", "oracle")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)

	t.Setenv("GATEKEEPR_DB_DRIVER", "postgres")
	t.Setenv("GATEKEEPR_SESSION_TTL", "soon")
	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestLoadPolicy(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	lvl, ok := p.Threshold("WRITE")
	require.True(t, ok)
	assert.Equal(t, 50, lvl)

	path := filepath.Join(t.TempDir(), "policy.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
sweep_interval = "30s"

[access_levels]
read = 0
deploy = 60
`), 0o600))
	p, err = LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, p.SweepInterval)
	assert.Equal(t, 10, p.SystemRoleFloor)
	_, ok = p.Threshold("admin")
	assert.False(t, ok, "file access levels replace the defaults")
	lvl, ok = p.Threshold("deploy")
	require.True(t, ok)
	assert.Equal(t, 60, lvl)
}

func TestLoadPolicyRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	require.NoError(t, os.WriteFile(path, []byte("sweep_intervall = \"1m\"\n"), 0o600))
	_, err := LoadPolicy(path)
	require.Error(t, err)
}

func TestPolicyStoreReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	require.NoError(t, os.WriteFile(path, []byte("[access_levels]\nread = 5\n"), 0o600))
	store, err := NewPolicyStore(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[access_levels\n"), 0o600))
	require.Error(t, store.Reload())
	lvl, ok := store.Threshold("read")
	require.True(t, ok)
	assert.Equal(t, 5, lvl)
}

func TestPolicyStoreWatchPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	require.NoError(t, os.WriteFile(path, []byte("[access_levels]\nread = 5\n"), 0o600))
	store, err := NewPolicyStore(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[access_levels]\nread = 7\n"), 0o600))

	assert.Eventually(t, func() bool {
		lvl, _ := store.Threshold("read")
		return lvl == 7
	}, 3*time.Second, 20*time.Millisecond)
}
