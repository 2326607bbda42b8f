// --- File: messagingservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"
)

type YamlDirectoryConfig struct {
	Backend    string `yaml:"backend"`
	BaseURL    string `yaml:"base_url"`
	Resource   string `yaml:"resource"`
	Timeout    string `yaml:"timeout"`
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type YamlCacheConfig struct {
	Backend string          `yaml:"backend"`
	Path    string          `yaml:"path"`
	Key     string          `yaml:"key"`
	Redis   YamlRedisConfig `yaml:"redis"`
}

type YamlChannelConfig struct {
	Scope       string            `yaml:"scope"`
	HandlerName string            `yaml:"handler_name"`
	Params      map[string]string `yaml:"params"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
	TTL             int    `yaml:"ttl"`
}

type YamlAPNSConfig struct {
	KeyID     string `yaml:"key_id"`
	TeamID    string `yaml:"team_id"`
	BundleID  string `yaml:"bundle_id"`
	P8KeyPath string `yaml:"p8_key_path"`
	Sandbox   bool   `yaml:"sandbox"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	Platform            string              `yaml:"platform"`
	Directory           YamlDirectoryConfig `yaml:"directory"`
	Cache               YamlCacheConfig     `yaml:"cache"`
	Channel             YamlChannelConfig   `yaml:"channel"`
	Vapid               YamlVapidConfig     `yaml:"vapid"`
	APNS                YamlAPNSConfig      `yaml:"apns"`
	FirebaseProjectID   string              `yaml:"firebase_project_id"`
	EnabledByDefault    bool                `yaml:"enabled_by_default"`
	UnregisterOnSignOut bool                `yaml:"unregister_on_sign_out"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	var timeout time.Duration
	if baseCfg.Directory.Timeout != "" {
		d, err := time.ParseDuration(baseCfg.Directory.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid directory.timeout %q: %w", baseCfg.Directory.Timeout, err)
		}
		timeout = d
	}

	cfg := &Config{
		Platform: baseCfg.Platform,
		Directory: DirectoryConfig{
			Backend:    baseCfg.Directory.Backend,
			BaseURL:    baseCfg.Directory.BaseURL,
			Resource:   baseCfg.Directory.Resource,
			Timeout:    timeout,
			ProjectID:  baseCfg.Directory.ProjectID,
			Collection: baseCfg.Directory.Collection,
		},
		Cache: CacheConfig{
			Backend: baseCfg.Cache.Backend,
			Path:    baseCfg.Cache.Path,
			Key:     baseCfg.Cache.Key,
			Redis: RedisConfig{
				Addr:     baseCfg.Cache.Redis.Addr,
				Password: baseCfg.Cache.Redis.Password,
				DB:       baseCfg.Cache.Redis.DB,
				Prefix:   baseCfg.Cache.Redis.Prefix,
			},
		},
		Channel: ChannelConfig{
			Scope:       baseCfg.Channel.Scope,
			HandlerName: baseCfg.Channel.HandlerName,
			Params:      baseCfg.Channel.Params,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.Vapid.PublicKey,
			PrivateKey:      baseCfg.Vapid.PrivateKey,
			SubscriberEmail: baseCfg.Vapid.SubscriberEmail,
			TTL:             baseCfg.Vapid.TTL,
		},
		APNS: APNSConfig{
			KeyID:     baseCfg.APNS.KeyID,
			TeamID:    baseCfg.APNS.TeamID,
			BundleID:  baseCfg.APNS.BundleID,
			P8KeyPath: baseCfg.APNS.P8KeyPath,
			Sandbox:   baseCfg.APNS.Sandbox,
		},
		FirebaseProjectID:   baseCfg.FirebaseProjectID,
		EnabledByDefault:    baseCfg.EnabledByDefault,
		UnregisterOnSignOut: baseCfg.UnregisterOnSignOut,
	}

	logger.Debug("YAML config mapping complete",
		"platform", cfg.Platform,
		"directory_backend", cfg.Directory.Backend,
		"cache_backend", cfg.Cache.Backend,
	)

	return cfg, nil
}
