package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("THREADS_ENV", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("FEED_PAGE_SIZE", "")

	cfg := Load()

	assert.Equal(t, DevEnv, cfg.Env)
	assert.Equal(t, "sqlite://threads.db", cfg.DatabaseURL)
	assert.Equal(t, 20, cfg.FeedPageSize)
	assert.Equal(t, 2, cfg.ThreadDepth)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.IsProduction())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("THREADS_ENV", ProdEnv)
	t.Setenv("FEED_PAGE_SIZE", "30")
	t.Setenv("THREAD_DEPTH", "not-a-number")
	t.Setenv("MEDIA_USE_SSL", "false")

	cfg := Load()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 30, cfg.FeedPageSize)
	assert.Equal(t, 2, cfg.ThreadDepth)
	assert.False(t, cfg.MediaUseSSL)
}

func TestLoadDotEnvsDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("API_ADDR=:9999\nMEILI_URL=http://meili:7700\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("THREADS_ENV", TestEnv)
	t.Setenv("API_ADDR", ":7000")
	t.Setenv("MEILI_URL", "")
	os.Unsetenv("MEILI_URL")

	cfg := Load()

	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, "http://meili:7700", cfg.MeiliURL)
}
