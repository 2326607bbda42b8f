// Package native is the native push delivery adapter. Registration needs the
// user's permission and reports the token asynchronously.
package native

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
	"github.com/tinywideclouds/go-device-messaging/pkg/provider"
)

var _ messaging.Provider = (*Provider)(nil)

// PermissionState is the platform's notification permission answer.
type PermissionState string

const (
	PermissionGranted             PermissionState = "granted"
	PermissionDenied              PermissionState = "denied"
	PermissionPrompt              PermissionState = "prompt"
	PermissionPromptWithRationale PermissionState = "prompt-with-rationale"
)

// Handlers are the callbacks the push plugin fires.
type Handlers struct {
	OnRegistration      func(token string)
	OnRegistrationError func(err error)
	OnNotification      func(n *messaging.Notification)
	OnAction            func(n *messaging.Notification)
}

// PushPlugin is the native push SDK.
type PushPlugin interface {
	CheckPermissions(ctx context.Context) (PermissionState, error)
	RequestPermissions(ctx context.Context) (PermissionState, error)
	// Register asks the platform for a token; it arrives via OnRegistration.
	Register(ctx context.Context) error
	SetHandlers(h Handlers)
}

type registration struct {
	token string
	err   error
}

// Provider implements messaging.Provider for native hosts.
type Provider struct {
	plugin  PushPlugin
	emitter *provider.Emitter
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	token   string
	waiters []chan registration
	hooked  bool
}

func New(plugin PushPlugin, logger *slog.Logger) *Provider {
	logger = logger.With("component", "NativeProvider")
	return &Provider{
		plugin:  plugin,
		emitter: provider.NewEmitter(provider.DefaultBuffer, logger),
		logger:  logger,
		now:     time.Now,
	}
}

// Configure installs the plugin callbacks. The channel scope has no meaning
// for native hosts.
func (p *Provider) Configure(_ context.Context, _ messaging.ChannelConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hooked {
		return nil
	}
	p.plugin.SetHandlers(Handlers{
		OnRegistration:      p.onRegistration,
		OnRegistrationError: p.onRegistrationError,
		OnNotification:      p.onNotification,
		OnAction:            p.onAction,
	})
	p.hooked = true
	return nil
}

// Token returns the known token, or runs permission → register and waits for
// the platform to report one.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	token := p.token
	p.mu.Unlock()
	if token != "" {
		return token, nil
	}

	if err := p.ensurePermission(ctx); err != nil {
		return "", err
	}

	// The waiter must exist before Register: the plugin may answer synchronously.
	wait := make(chan registration, 1)
	p.mu.Lock()
	p.waiters = append(p.waiters, wait)
	p.mu.Unlock()

	if err := p.plugin.Register(ctx); err != nil {
		p.dropWaiter(wait)
		return "", fmt.Errorf("failed to register for push: %w", err)
	}

	select {
	case r := <-wait:
		if r.err != nil {
			return "", fmt.Errorf("push registration failed: %w", r.err)
		}
		return r.token, nil
	case <-ctx.Done():
		p.dropWaiter(wait)
		return "", ctx.Err()
	}
}

func (p *Provider) Events() <-chan messaging.Event {
	return p.emitter.Events()
}

func (p *Provider) Close() error {
	p.emitter.Close()
	return nil
}

func (p *Provider) ensurePermission(ctx context.Context) error {
	state, err := p.plugin.CheckPermissions(ctx)
	if err != nil {
		return fmt.Errorf("failed to check push permission: %w", err)
	}
	if state == PermissionPrompt || state == PermissionPromptWithRationale {
		p.logger.Debug("Requesting push permission", "state", string(state))
		state, err = p.plugin.RequestPermissions(ctx)
		if err != nil {
			return fmt.Errorf("failed to request push permission: %w", err)
		}
	}
	if state != PermissionGranted {
		p.logger.Info("Push permission not granted", "state", string(state))
		return fmt.Errorf("%w (state %q)", messaging.ErrPermissionDenied, state)
	}
	return nil
}

func (p *Provider) onRegistration(token string) {
	p.mu.Lock()
	p.token = token
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w <- registration{token: token}
	}
	p.emitter.Token(token)
}

func (p *Provider) onRegistrationError(err error) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	p.logger.Warn("Push registration error", "err", err)
	for _, w := range waiters {
		w <- registration{err: err}
	}
	p.emitter.Fail(err)
}

func (p *Provider) onNotification(n *messaging.Notification) {
	p.emitter.Notify(p.stamp(n))
}

func (p *Provider) onAction(n *messaging.Notification) {
	p.emitter.Action(p.stamp(n))
}

func (p *Provider) stamp(n *messaging.Notification) *messaging.Notification {
	if n != nil && n.ReceivedAt.IsZero() {
		n.ReceivedAt = p.now().UTC()
	}
	return n
}

func (p *Provider) dropWaiter(wait chan registration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == wait {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}
