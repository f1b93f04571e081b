package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "local", cfg.ObjectStorage.Driver)
	assert.Equal(t, 4, cfg.Webhook.Workers)
	assert.True(t, cfg.Webhook.AllowSingleFallback)
	assert.Equal(t, 5*time.Second, cfg.Webhook.LockWait)
	assert.Equal(t, 30*time.Second, cfg.Provider.MediaDownloadTimeout)
	assert.Equal(t, "BR", cfg.Provider.DefaultCountry)
	assert.Equal(t, "v21.0", cfg.Meta.GraphVersion)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("WEBHOOK_ALLOW_SINGLE_FALLBACK", "false")
	t.Setenv("MEDIA_DOWNLOAD_TIMEOUT", "5s")
	t.Setenv("MEDIA_STORAGE_DRIVER", "s3")
	t.Setenv("S3_BUCKET", "crm-media")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.False(t, cfg.Webhook.AllowSingleFallback)
	assert.Equal(t, 5*time.Second, cfg.Provider.MediaDownloadTimeout)
	assert.Equal(t, "s3", cfg.ObjectStorage.Driver)
	assert.Equal(t, "crm-media", cfg.ObjectStorage.Bucket)
}

func TestParse_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Parse()
	assert.Error(t, err)
}
