// Package web is the browser delivery adapter. It registers the background
// message handler under the channel scope and obtains tokens bound to that
// registration.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
	"github.com/tinywideclouds/go-device-messaging/pkg/provider"
)

var _ messaging.Provider = (*Provider)(nil)

// ErrNotConfigured is returned by Token before a successful Configure.
var ErrNotConfigured = errors.New("web provider is not configured")

// Registration is a service worker registration handle.
type Registration interface {
	Scope() string
}

// ServiceWorkers is the host's service worker container.
type ServiceWorkers interface {
	// Supported reports whether the host can run background message handlers.
	Supported() bool
	// GetRegistration returns the registration for scope, or nil if there is none.
	GetRegistration(ctx context.Context, scope string) (Registration, error)
	Register(ctx context.Context, scriptURL, scope string) (Registration, error)
}

// MessagingClient is the browser messaging SDK.
type MessagingClient interface {
	GetToken(ctx context.Context, reg Registration, vapidKey string) (string, error)
	OnMessage(func(*messaging.Notification))
	OnTokenRefresh(func(token string))
	OnNotificationClick(func(*messaging.Notification))
}

// Provider implements messaging.Provider for browsers.
type Provider struct {
	workers ServiceWorkers
	client  MessagingClient
	emitter *provider.Emitter
	logger  *slog.Logger
	now     func() time.Time

	mu           sync.Mutex
	registration Registration
	vapidKey     string
	configured   bool
	supported    bool
	hooked       bool
}

func New(workers ServiceWorkers, client MessagingClient, logger *slog.Logger) *Provider {
	logger = logger.With("component", "WebProvider")
	return &Provider{
		workers: workers,
		client:  client,
		emitter: provider.NewEmitter(provider.DefaultBuffer, logger),
		logger:  logger,
		now:     time.Now,
	}
}

// Configure registers the background handler, reusing an existing
// registration for the scope. It is a no-op on unsupported hosts.
func (p *Provider) Configure(ctx context.Context, cfg messaging.ChannelConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.supported = p.workers.Supported()
	if !p.supported {
		p.configured = true
		p.logger.Info("Push messaging is not supported by this host; continuing without it")
		return nil
	}

	scope := cfg.ScopePath()
	reg, err := p.workers.GetRegistration(ctx, scope)
	if err != nil {
		return fmt.Errorf("failed to look up service worker for %s: %w", scope, err)
	}
	if reg == nil {
		scriptURL, err := cfg.HandlerURL()
		if err != nil {
			return err
		}
		reg, err = p.workers.Register(ctx, scriptURL, scope)
		if err != nil {
			return fmt.Errorf("failed to register service worker %s: %w", scriptURL, err)
		}
		p.logger.Info("Registered background message handler", "scope", reg.Scope())
	} else {
		p.logger.Debug("Reusing background message handler", "scope", reg.Scope())
	}

	p.registration = reg
	p.vapidKey = cfg.VapidKey
	p.configured = true
	if !p.hooked {
		p.client.OnMessage(p.onMessage)
		p.client.OnNotificationClick(p.onClick)
		p.client.OnTokenRefresh(p.onTokenRefresh)
		p.hooked = true
	}
	return nil
}

// Token returns the token for the configured registration. It is "" on
// unsupported hosts.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	configured, supported, reg, vapid := p.configured, p.supported, p.registration, p.vapidKey
	p.mu.Unlock()

	if !configured {
		return "", ErrNotConfigured
	}
	if !supported {
		return "", nil
	}
	token, err := p.client.GetToken(ctx, reg, vapid)
	if err != nil {
		return "", fmt.Errorf("failed to get messaging token: %w", err)
	}
	return token, nil
}

func (p *Provider) Events() <-chan messaging.Event {
	return p.emitter.Events()
}

func (p *Provider) Close() error {
	p.emitter.Close()
	return nil
}

func (p *Provider) onMessage(n *messaging.Notification) {
	p.emitter.Notify(p.stamp(n))
}

func (p *Provider) onClick(n *messaging.Notification) {
	p.emitter.Action(p.stamp(n))
}

func (p *Provider) onTokenRefresh(token string) {
	p.logger.Debug("Messaging token refreshed")
	p.emitter.Token(token)
}

func (p *Provider) stamp(n *messaging.Notification) *messaging.Notification {
	if n != nil && n.ReceivedAt.IsZero() {
		n.ReceivedAt = p.now().UTC()
	}
	return n
}
