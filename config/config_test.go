package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "translate", cfg.TTS.Provider)
	assert.Equal(t, "es", cfg.TTS.DefaultLang)
	assert.Equal(t, 3, cfg.Archive.Max)
	assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.TTL)
	assert.Equal(t, 256<<10, cfg.Stream.PrebufferBytes)
	assert.Less(t, cfg.Text.FirstSegmentMax, cfg.Text.SegmentMax)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lector.yaml")
	yml := `
server:
  port: "9000"
tts:
  provider: static
  timeout: 3s
archive:
  max: 5
rate_limit:
  max_requests: 4
  window: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("ARCHIVE_MAX", "7")
	t.Setenv("TTS_LANGUAGES", "es, en")
	t.Setenv("REDIS_URL", "redis://ignored:6379")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "static", cfg.TTS.Provider)
	assert.Equal(t, 3*time.Second, cfg.TTS.Timeout)
	assert.Equal(t, 7, cfg.Archive.Max)
	assert.Equal(t, 4, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, []string{"es", "en"}, cfg.TTS.Languages)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Run("bad integer", func(t *testing.T) {
		t.Setenv("ARCHIVE_MAX", "three")
		_, err := Load("")
		assert.ErrorContains(t, err, "ARCHIVE_MAX")
	})

	t.Run("zero archive cap", func(t *testing.T) {
		t.Setenv("ARCHIVE_MAX", "0")
		_, err := Load("")
		assert.ErrorContains(t, err, "archive.max")
	})

	t.Run("cloud without key", func(t *testing.T) {
		t.Setenv("TTS_PROVIDER", "cloud")
		_, err := Load("")
		assert.ErrorContains(t, err, "GOOGLE_API_KEY")
	})

	t.Run("default language outside list", func(t *testing.T) {
		t.Setenv("TTS_LANGUAGES", "en,fr")
		_, err := Load("")
		assert.ErrorContains(t, err, "default_lang")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis(context.Background(), mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	client2, err := NewRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer client2.Close()

	addr := mr.Addr()
	mr.Close()
	_, err = NewRedis(context.Background(), addr)
	assert.Error(t, err)
}
