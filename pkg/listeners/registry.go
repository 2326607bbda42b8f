// Package listeners dispatches inbound notifications to application listeners,
// each with its own filter and preprocessing step.
package listeners

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
)

// Callback receives the preprocessed value of a notification.
type Callback func(ctx context.Context, value any)

// Options configure a registration. Zero values mean "always" and "identity".
type Options struct {
	// When decides, from the preprocessed value, whether the callback runs.
	When func(value any) bool
	// Preprocess transforms the notification before When and the callback see it.
	Preprocess func(n *messaging.Notification) (any, error)
}

// Registration is the handle returned by Register and accepted by Unregister.
type Registration struct {
	callback   Callback
	when       func(any) bool
	preprocess func(*messaging.Notification) (any, error)
}

// Registry is an ordered collection of listener registrations.
type Registry struct {
	mu      sync.RWMutex
	entries []*Registration
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("component", "ListenerRegistry"),
	}
}

// Register appends a listener and returns its handle.
func (r *Registry) Register(cb Callback, opts Options) *Registration {
	reg := &Registration{
		callback:   cb,
		when:       opts.When,
		preprocess: opts.Preprocess,
	}
	if reg.when == nil {
		reg.when = func(any) bool { return true }
	}
	if reg.preprocess == nil {
		reg.preprocess = func(n *messaging.Notification) (any, error) { return n, nil }
	}

	r.mu.Lock()
	r.entries = append(r.entries, reg)
	r.mu.Unlock()
	return reg
}

// Subscribe registers a listener for the lifetime of ctx. It is removed once
// ctx is done, so a screen or request scope cannot leak its listener.
func (r *Registry) Subscribe(ctx context.Context, cb Callback, opts Options) *Registration {
	reg := r.Register(cb, opts)
	context.AfterFunc(ctx, func() { r.Unregister(reg) })
	return reg
}

// Unregister removes reg. Unknown or nil handles are ignored.
func (r *Registry) Unregister(reg *Registration) {
	if reg == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e == reg {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Dispatch delivers n to every listener registered when the call started,
// in registration order. A failing listener does not stop the others.
func (r *Registry) Dispatch(ctx context.Context, n *messaging.Notification) {
	r.mu.RLock()
	snapshot := make([]*Registration, len(r.entries))
	copy(snapshot, r.entries)
	r.mu.RUnlock()

	for i, reg := range snapshot {
		if err := r.deliver(ctx, reg, n); err != nil {
			r.logger.Warn("Listener failed", "index", i, "notification_id", n.ID, "err", err)
		}
	}
}

func (r *Registry) deliver(ctx context.Context, reg *Registration, n *messaging.Notification) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener panicked: %v", p)
		}
	}()

	value, err := reg.preprocess(n)
	if err != nil {
		return fmt.Errorf("preprocess failed: %w", err)
	}
	if !reg.when(value) {
		return nil
	}
	reg.callback(ctx, value)
	return nil
}
