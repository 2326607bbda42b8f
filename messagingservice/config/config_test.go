// --- File: messagingservice/config/config_test.go ---
package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-device-messaging/messagingservice/config"
	"github.com/tinywideclouds/go-device-messaging/pkg/device"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			Platform: config.PlatformBrowser,
			Directory: config.DirectoryConfig{
				Backend: config.DirectoryREST,
				BaseURL: "https://api.example.com",
			},
			Vapid: config.VapidConfig{
				PublicKey:  "base-pub",
				PrivateKey: "base-priv",
			},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("DEVICE_PLATFORM", "native")
		t.Setenv("DIRECTORY_BACKEND", "firestore")
		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("DIRECTORY_TIMEOUT", "3s")
		t.Setenv("CACHE_BACKEND", "redis")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("REDIS_DB", "2")
		t.Setenv("VAPID_PUBLIC_KEY", "env-pub")
		t.Setenv("VAPID_PRIVATE_KEY", "env-priv")
		t.Setenv("VAPID_SUB_EMAIL", "env@test.com")
		t.Setenv("PUSH_ENABLED_BY_DEFAULT", "true")
		t.Setenv("UNREGISTER_ON_SIGN_OUT", "true")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, config.PlatformNative, finalCfg.Platform)
		assert.Equal(t, config.DirectoryFirestore, finalCfg.Directory.Backend)
		assert.Equal(t, "env-project", finalCfg.Directory.ProjectID)
		assert.Equal(t, 3*time.Second, finalCfg.Directory.Timeout)
		assert.Equal(t, config.CacheRedis, finalCfg.Cache.Backend)
		assert.Equal(t, "localhost:6379", finalCfg.Cache.Redis.Addr)
		assert.Equal(t, 2, finalCfg.Cache.Redis.DB)

		assert.Equal(t, "env-pub", finalCfg.Vapid.PublicKey)
		assert.Equal(t, "env-priv", finalCfg.Vapid.PrivateKey)
		assert.Equal(t, "env@test.com", finalCfg.Vapid.SubscriberEmail)
		assert.True(t, finalCfg.EnabledByDefault)
		assert.True(t, finalCfg.UnregisterOnSignOut)
	})

	t.Run("Success - Defaults applied", func(t *testing.T) {
		finalCfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		require.NoError(t, err)

		assert.Equal(t, "base-pub", finalCfg.Vapid.PublicKey)
		assert.Equal(t, config.CacheBolt, finalCfg.Cache.Backend)
		assert.NotEmpty(t, finalCfg.Cache.Path)
		assert.Equal(t, device.SnapshotKey, finalCfg.Cache.Key)
		assert.Equal(t, 10*time.Second, finalCfg.Directory.Timeout)
		assert.Equal(t, 60, finalCfg.Vapid.TTL)
		assert.False(t, finalCfg.EnabledByDefault)
	})

	t.Run("Validation Failure - Unknown platform", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Platform = "desktop"
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - REST without base url", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Directory.BaseURL = ""
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Firestore without project", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Directory.Backend = config.DirectoryFirestore
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Redis without addr", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Cache.Backend = config.CacheRedis
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "redis addr")
	})
}

func TestChannelSettings(t *testing.T) {
	cfg := &config.Config{
		Channel: config.ChannelConfig{Scope: "/push", Params: map[string]string{"projectId": "p"}},
		Vapid:   config.VapidConfig{PublicKey: "vapid-pub"},
	}

	ch := cfg.ChannelSettings()

	assert.Equal(t, "/push", ch.Scope)
	assert.Equal(t, "vapid-pub", ch.VapidKey)
	assert.Equal(t, "p", ch.Params["projectId"])
}
