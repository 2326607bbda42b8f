// --- File: messagingservice/service.go ---
package messagingservice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-device-messaging/internal/lifecycle"
	"github.com/tinywideclouds/go-device-messaging/messagingservice/config"
	"github.com/tinywideclouds/go-device-messaging/pkg/device"
	"github.com/tinywideclouds/go-device-messaging/pkg/listeners"
	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
)

var _ messaging.SessionListener = (*Service)(nil)

// Service is the application-facing entry point. It owns the token lifecycle
// manager and the listener registry, and reacts to session transitions.
type Service struct {
	cfg      *config.Config
	provider messaging.Provider
	session  messaging.Session
	manager  *lifecycle.Manager
	registry *listeners.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles the service. Nothing runs until Start.
func New(
	cfg *config.Config,
	provider messaging.Provider,
	directory messaging.Directory,
	cache messaging.LocalCache,
	session messaging.Session,
	logger *slog.Logger,
) *Service {
	manager := lifecycle.NewManager(lifecycle.Config{
		CacheKey:         cfg.Cache.Key,
		EnabledByDefault: cfg.EnabledByDefault,
	}, directory, cache, session, logger)

	return &Service{
		cfg:      cfg,
		provider: provider,
		session:  session,
		manager:  manager,
		registry: listeners.NewRegistry(logger),
		logger:   logger.With("component", "MessagingService"),
	}
}

// Start configures the provider, subscribes to the session and begins
// consuming provider events. When the session is already signed in the current
// token is registered; a failure there is logged and does not stop the service.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.logger.Info("Configuring delivery provider...", "platform", s.cfg.Platform)
	if err := s.provider.Configure(ctx, s.cfg.ChannelSettings()); err != nil {
		return fmt.Errorf("failed to configure provider: %w", err)
	}
	s.started = true

	s.session.AddListener(s)

	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(1)
	go s.consume(consumeCtx, s.provider.Events())

	if s.session.IsSignedIn() {
		if _, err := s.RegisterToken(ctx); err != nil {
			s.logger.Error("Initial device registration failed", "err", err)
		}
	}

	s.logger.Info("Service is now ready.")
	return nil
}

// Close unsubscribes from the session, stops the event consumer and closes
// the provider.
func (s *Service) Close() error {
	s.logger.Info("Shutting down service components...")
	s.session.RemoveListener(s)

	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	err := s.provider.Close()
	if err != nil {
		s.logger.Error("Provider shutdown failed.", "err", err)
	}
	s.wg.Wait()
	s.logger.Info("Service shutdown complete.")
	return err
}

// RegisterListener adds a notification listener and returns its handle.
func (s *Service) RegisterListener(cb listeners.Callback, opts listeners.Options) *listeners.Registration {
	return s.registry.Register(cb, opts)
}

// SubscribeListener adds a listener that is removed when ctx is done.
func (s *Service) SubscribeListener(ctx context.Context, cb listeners.Callback, opts listeners.Options) *listeners.Registration {
	return s.registry.Subscribe(ctx, cb, opts)
}

func (s *Service) UnregisterListener(reg *listeners.Registration) {
	s.registry.Unregister(reg)
}

// EnablePushNotifications records the user's opt-in and, for an already
// registered device, saves it remotely.
func (s *Service) EnablePushNotifications(ctx context.Context, enabled bool) (*device.Record, error) {
	return s.manager.SetEnabled(ctx, enabled)
}

// IsRegistered reports whether a saved device snapshot exists.
func (s *Service) IsRegistered(ctx context.Context) bool {
	return s.manager.Registered(ctx)
}

// Device returns the cached device record, or nil.
func (s *Service) Device(ctx context.Context) (*device.Record, error) {
	return s.manager.Current(ctx)
}

// RegisterToken fetches the provider's current token and saves it.
func (s *Service) RegisterToken(ctx context.Context) (*device.Record, error) {
	token, err := s.provider.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery token: %w", err)
	}
	return s.manager.HandleToken(ctx, token)
}

func (s *Service) DidSignIn(ctx context.Context) error {
	_, err := s.RegisterToken(ctx)
	return err
}

func (s *Service) WillSignOut(ctx context.Context) error {
	if !s.cfg.UnregisterOnSignOut {
		return nil
	}
	if err := s.manager.Unregister(ctx); err != nil {
		s.logger.Warn("Device unregister on sign-out failed", "err", err)
		return err
	}
	return nil
}

func (s *Service) DidSignOut(ctx context.Context) error {
	return s.manager.Reset(ctx)
}

func (s *Service) consume(ctx context.Context, events <-chan messaging.Event) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Service) handle(ctx context.Context, ev messaging.Event) {
	switch ev.Type {
	case messaging.EventToken:
		if _, err := s.manager.HandleToken(ctx, ev.Token); err != nil {
			s.logger.Error("Token refresh registration failed", "err", err)
		}
	case messaging.EventNotification, messaging.EventAction:
		if ev.Notification == nil {
			return
		}
		s.registry.Dispatch(ctx, ev.Notification)
	case messaging.EventError:
		s.logger.Error("Delivery provider reported an error", "err", ev.Err)
	default:
		s.logger.Warn("Ignoring unknown provider event", "type", ev.Type.String())
	}
}
