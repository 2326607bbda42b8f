// Package provider holds what the browser and native delivery adapters share.
package provider

import (
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
)

// DefaultBuffer is the event channel capacity used when none is given.
const DefaultBuffer = 16

// Emitter owns a provider's event channel. Emit never blocks and never panics
// after Close. Notifications are dropped when the consumer falls behind; token
// refreshes are not: the latest one is held back and delivered once there is room.
type Emitter struct {
	mu     sync.RWMutex
	events chan messaging.Event
	done   chan struct{}
	closed bool
	logger *slog.Logger

	pendingMu sync.Mutex
	pending   *messaging.Event
	flushing  bool
	wg        sync.WaitGroup
}

func NewEmitter(buffer int, logger *slog.Logger) *Emitter {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Emitter{
		events: make(chan messaging.Event, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Events is the receive side handed to consumers.
func (e *Emitter) Events() <-chan messaging.Event {
	return e.events
}

// Emit queues ev and reports whether it was accepted. A token event that finds
// the buffer full replaces any token still waiting for room.
func (e *Emitter) Emit(ev messaging.Event) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}

	if ev.Type == messaging.EventToken && e.holdToken(ev) {
		return true
	}
	select {
	case e.events <- ev:
		return true
	default:
	}

	if ev.Type == messaging.EventToken {
		e.coalesce(ev)
		return true
	}
	e.logger.Warn("Provider event dropped; consumer is not keeping up", "event", ev.Type.String())
	return false
}

// holdToken replaces the waiting token, if there is one, so a newer token is
// never delivered before an older one.
func (e *Emitter) holdToken(ev messaging.Event) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	if !e.flushing {
		return false
	}
	e.pending = &ev
	return true
}

// coalesce must be called with e.mu read-locked.
func (e *Emitter) coalesce(ev messaging.Event) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending = &ev
	if e.flushing {
		return
	}
	e.flushing = true
	e.wg.Add(1)
	go e.flush()
	e.logger.Debug("Token refresh held until the consumer catches up")
}

func (e *Emitter) flush() {
	defer e.wg.Done()
	for {
		e.pendingMu.Lock()
		ev := e.pending
		e.pending = nil
		if ev == nil {
			e.flushing = false
			e.pendingMu.Unlock()
			return
		}
		e.pendingMu.Unlock()

		select {
		case e.events <- *ev:
		case <-e.done:
			return
		}
	}
}

// Token, Notify, Action and Fail are shorthands for the four event types.
func (e *Emitter) Token(token string) bool {
	return e.Emit(messaging.Event{Type: messaging.EventToken, Token: token})
}

func (e *Emitter) Notify(n *messaging.Notification) bool {
	return e.Emit(messaging.Event{Type: messaging.EventNotification, Notification: n})
}

func (e *Emitter) Action(n *messaging.Notification) bool {
	return e.Emit(messaging.Event{Type: messaging.EventAction, Notification: n})
}

func (e *Emitter) Fail(err error) bool {
	return e.Emit(messaging.Event{Type: messaging.EventError, Err: err})
}

// Close closes the event channel. A held token is discarded. It is safe to
// call more than once.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.done)
	e.mu.Unlock()

	e.wg.Wait()
	close(e.events)
}
