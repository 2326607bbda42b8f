// Package static is a headless delivery provider whose token is supplied by
// the host, for operators, test harnesses and devices registered out of band.
package static

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
	"github.com/tinywideclouds/go-device-messaging/pkg/provider"
)

var _ messaging.Provider = (*Provider)(nil)

type Provider struct {
	mu     sync.RWMutex
	token  string
	events *provider.Emitter
	logger *slog.Logger
}

func New(token string, logger *slog.Logger) *Provider {
	logger = logger.With("component", "StaticProvider")
	return &Provider{
		token:  token,
		events: provider.NewEmitter(provider.DefaultBuffer, logger),
		logger: logger,
	}
}

func (p *Provider) Configure(_ context.Context, cfg messaging.ChannelConfig) error {
	p.logger.Debug("Static provider configured", "scope", cfg.ScopePath())
	return nil
}

func (p *Provider) Token(_ context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token, nil
}

// SetToken replaces the token and announces it as a refresh.
func (p *Provider) SetToken(token string) {
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
	p.events.Token(token)
}

// Deliver injects an inbound notification, as a foreground message or, when
// n.Action is set, as a user action.
func (p *Provider) Deliver(n *messaging.Notification) bool {
	if n.Action != "" {
		return p.events.Action(n)
	}
	return p.events.Notify(n)
}

func (p *Provider) Events() <-chan messaging.Event {
	return p.events.Events()
}

func (p *Provider) Close() error {
	p.events.Close()
	return nil
}
