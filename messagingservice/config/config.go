// --- File: messagingservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tinywideclouds/go-device-messaging/pkg/device"
	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
)

const (
	PlatformBrowser = "browser"
	PlatformNative  = "native"

	DirectoryREST      = "rest"
	DirectoryFirestore = "firestore"

	CacheBolt  = "bolt"
	CacheRedis = "redis"

	defaultDirectoryTimeout = 10 * time.Second
	defaultCachePath        = "device-cache.db"
	defaultVapidTTL         = 60
)

type DirectoryConfig struct {
	Backend    string `validate:"oneof=rest firestore"`
	BaseURL    string `validate:"required_if=Backend rest"`
	Resource   string
	Timeout    time.Duration
	ProjectID  string `validate:"required_if=Backend firestore"`
	Collection string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
	Prefix   string
}

type CacheConfig struct {
	Backend string `validate:"oneof=bolt redis"`
	Path    string `validate:"required_if=Backend bolt"`
	Key     string `validate:"required"`
	Redis   RedisConfig
}

type ChannelConfig struct {
	Scope       string
	HandlerName string
	Params      map[string]string
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	TTL             int `validate:"gte=0"`
}

type APNSConfig struct {
	KeyID     string
	TeamID    string
	BundleID  string
	P8KeyPath string
	Sandbox   bool
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	Platform  string `validate:"oneof=browser native"`
	Directory DirectoryConfig
	Cache     CacheConfig
	Channel   ChannelConfig
	Vapid     VapidConfig
	APNS      APNSConfig

	// FirebaseProjectID enables the FCM test sender.
	FirebaseProjectID string

	// EnabledByDefault is the opt-in flag given to newly created devices.
	EnabledByDefault bool
	// UnregisterOnSignOut deletes the device from the directory before sign-out.
	UnregisterOnSignOut bool
}

// ChannelSettings returns the delivery channel configuration for the provider.
func (c *Config) ChannelSettings() messaging.ChannelConfig {
	return messaging.ChannelConfig{
		Scope:       c.Channel.Scope,
		HandlerName: c.Channel.HandlerName,
		VapidKey:    c.Vapid.PublicKey,
		Params:      c.Channel.Params,
	}
}

// UpdateConfigWithEnvOverrides applies environment variables, defaults and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}

	override("DEVICE_PLATFORM", func(v string) { cfg.Platform = v })

	override("DIRECTORY_BACKEND", func(v string) { cfg.Directory.Backend = v })
	override("DIRECTORY_BASE_URL", func(v string) { cfg.Directory.BaseURL = v })
	override("DIRECTORY_RESOURCE", func(v string) { cfg.Directory.Resource = v })
	override("DIRECTORY_TIMEOUT", func(v string) {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Directory.Timeout = d
		} else {
			logger.Warn("Ignoring invalid DIRECTORY_TIMEOUT", "value", v, "err", err)
		}
	})
	override("PROJECT_ID", func(v string) { cfg.Directory.ProjectID = v })

	override("CACHE_BACKEND", func(v string) { cfg.Cache.Backend = v })
	override("CACHE_PATH", func(v string) { cfg.Cache.Path = v })

	// Redis Overrides
	override("REDIS_ADDR", func(v string) { cfg.Cache.Redis.Addr = v })
	override("REDIS_PASSWORD", func(v string) { cfg.Cache.Redis.Password = v })
	override("REDIS_DB", func(v string) {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Redis.DB = db
		}
	})

	// VAPID Overrides
	override("VAPID_PUBLIC_KEY", func(v string) { cfg.Vapid.PublicKey = v })
	override("VAPID_PRIVATE_KEY", func(v string) { cfg.Vapid.PrivateKey = v })
	override("VAPID_SUB_EMAIL", func(v string) { cfg.Vapid.SubscriberEmail = v })

	// APNs Overrides
	override("APNS_KEY_ID", func(v string) { cfg.APNS.KeyID = v })
	override("APNS_TEAM_ID", func(v string) { cfg.APNS.TeamID = v })
	override("APNS_BUNDLE_ID", func(v string) { cfg.APNS.BundleID = v })
	override("APNS_P8_PATH", func(v string) { cfg.APNS.P8KeyPath = v })

	override("FIREBASE_PROJECT_ID", func(v string) { cfg.FirebaseProjectID = v })
	override("PUSH_ENABLED_BY_DEFAULT", func(v string) {
		enabled, _ := strconv.ParseBool(v)
		cfg.EnabledByDefault = enabled
	})
	override("UNREGISTER_ON_SIGN_OUT", func(v string) {
		enabled, _ := strconv.ParseBool(v)
		cfg.UnregisterOnSignOut = enabled
	})

	// 2. Defaults
	if cfg.Platform == "" {
		cfg.Platform = PlatformBrowser
	}
	if cfg.Directory.Backend == "" {
		cfg.Directory.Backend = DirectoryREST
	}
	if cfg.Directory.Timeout <= 0 {
		cfg.Directory.Timeout = defaultDirectoryTimeout
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheBolt
	}
	if cfg.Cache.Backend == CacheBolt && cfg.Cache.Path == "" {
		cfg.Cache.Path = defaultCachePath
	}
	if cfg.Cache.Key == "" {
		cfg.Cache.Key = device.SnapshotKey
	}
	if cfg.Vapid.TTL == 0 {
		cfg.Vapid.TTL = defaultVapidTTL
	}

	// 3. Final Validation
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Cache.Backend == CacheRedis && cfg.Cache.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required when cache backend is redis (set via YAML or REDIS_ADDR env var)")
	}

	logger.Debug("Configuration finalized and validated successfully",
		"platform", cfg.Platform,
		"directory", cfg.Directory.Backend,
		"cache", cfg.Cache.Backend,
	)
	return cfg, nil
}
