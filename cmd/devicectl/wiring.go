package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"

	fsdir "github.com/tinywideclouds/go-device-messaging/internal/directory/firestore"
	"github.com/tinywideclouds/go-device-messaging/internal/directory/rest"
	"github.com/tinywideclouds/go-device-messaging/internal/platform/apns"
	"github.com/tinywideclouds/go-device-messaging/internal/platform/fcm"
	"github.com/tinywideclouds/go-device-messaging/internal/platform/web"
	"github.com/tinywideclouds/go-device-messaging/internal/session"
	"github.com/tinywideclouds/go-device-messaging/internal/storage/bolt"
	"github.com/tinywideclouds/go-device-messaging/internal/storage/cache"
	"github.com/tinywideclouds/go-device-messaging/messagingservice"
	"github.com/tinywideclouds/go-device-messaging/messagingservice/config"
	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
	"github.com/tinywideclouds/go-device-messaging/pkg/provider/static"
)

type app struct {
	service *messagingservice.Service
	session *session.TokenSession
	closers []func() error
	logger  *slog.Logger
}

// newApp wires the service the way an embedding application would, with a
// static provider standing in for the browser or native SDK.
func newApp(ctx context.Context, cfg *config.Config, token string, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	var opts []session.Option
	if secret := os.Getenv("SESSION_HMAC_SECRET"); secret != "" {
		opts = append(opts, session.WithHMACSecret([]byte(secret)))
	}
	a.session = session.New(logger, opts...)

	localCache, err := a.newCache(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	directory, err := a.newDirectory(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.Platform != config.PlatformBrowser && cfg.Platform != config.PlatformNative {
		a.close()
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
	logger.Debug("Using static provider", "platform", cfg.Platform)
	provider := static.New(token, logger)

	a.service = messagingservice.New(cfg, provider, directory, localCache, a.session, logger)
	// Runs before the cache and clients are released.
	a.closers = append([]func() error{a.service.Close}, a.closers...)
	return a, nil
}

func (a *app) newCache(cfg *config.Config) (messaging.LocalCache, error) {
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		a.logger.Info("Initializing Redis cache...", "addr", cfg.Cache.Redis.Addr)
		rc, err := cache.NewRedisCache(cache.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		return rc, nil
	default:
		store, err := bolt.New(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache file %s: %w", cfg.Cache.Path, err)
		}
		a.closers = append(a.closers, store.Close)
		a.logger.Debug("Local cache opened", "type", "bolt", "path", cfg.Cache.Path)
		return store, nil
	}
}

func (a *app) newDirectory(ctx context.Context, cfg *config.Config) (messaging.Directory, error) {
	switch cfg.Directory.Backend {
	case config.DirectoryFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.Directory.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("firestore client failed: %w", err)
		}
		a.closers = append(a.closers, fsClient.Close)
		a.logger.Info("Directory initialized", "type", "firestore", "project", cfg.Directory.ProjectID)
		return fsdir.NewDirectory(fsClient, cfg.Directory.Collection, a.session, a.logger), nil
	default:
		client, err := rest.New(cfg.Directory.BaseURL, cfg.Directory.Resource, cfg.Directory.Timeout, a.session, a.logger)
		if err != nil {
			return nil, fmt.Errorf("rest directory: %w", err)
		}
		a.logger.Info("Directory initialized", "type", "rest", "base_url", cfg.Directory.BaseURL)
		return client, nil
	}
}

// signIn signs the session in with DEVICE_ACCESS_TOKEN.
func (a *app) signIn(ctx context.Context) error {
	accessToken := os.Getenv("DEVICE_ACCESS_TOKEN")
	if accessToken == "" {
		return errors.New("DEVICE_ACCESS_TOKEN is not set")
	}
	return a.session.SignIn(ctx, accessToken)
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("Shutdown step failed", "err", err)
		}
	}
}

func newSender(ctx context.Context, via string, cfg *config.Config, logger *slog.Logger) (messaging.Sender, error) {
	switch via {
	case "fcm":
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
		}
		client, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create fcm messaging client: %w", err)
		}
		return fcm.NewSender(client, "", logger), nil
	case "apns":
		key, err := os.ReadFile(cfg.APNS.P8KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read apns key: %w", err)
		}
		return apns.NewSender(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: string(key),
			Sandbox:      cfg.APNS.Sandbox,
		}, logger)
	case "web":
		if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
			return nil, errors.New("vapid keys are not configured")
		}
		return web.NewSender(cfg.Vapid, logger), nil
	default:
		return nil, fmt.Errorf("unknown delivery service %q", via)
	}
}
