// Package lifecycle keeps a device's delivery token registered with the
// directory for the signed-in account and mirrors the saved record in the
// local cache.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-device-messaging/pkg/device"
	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
)

// maxAttempts bounds the registration sequence: one attempt plus one retry
// after an ownership conflict.
const maxAttempts = 2

// SignInState is the part of the session the manager consults.
type SignInState interface {
	IsSignedIn() bool
}

// Config holds the manager's tunables.
type Config struct {
	// CacheKey is the local cache key of the device snapshot.
	CacheKey string
	// EnabledByDefault is the Enabled value given to newly created records.
	EnabledByDefault bool
}

// Manager decides, for a new provider token, which directory write to perform
// and keeps the cached snapshot consistent with the outcome.
type Manager struct {
	directory messaging.Directory
	cache     messaging.LocalCache
	session   SignInState
	cacheKey  string
	logger    *slog.Logger

	mu sync.Mutex
	// generation changes on every Reset; upserts started under an older
	// generation must not write the cache.
	generation uint64
	enabled    bool
}

func NewManager(cfg Config, directory messaging.Directory, cache messaging.LocalCache, session SignInState, logger *slog.Logger) *Manager {
	key := cfg.CacheKey
	if key == "" {
		key = device.SnapshotKey
	}
	return &Manager{
		directory: directory,
		cache:     cache,
		session:   session,
		cacheKey:  key,
		enabled:   cfg.EnabledByDefault,
		logger:    logger.With("component", "TokenLifecycleManager"),
	}
}

// HandleToken ensures the directory holds a record with token for the current
// account. An empty token, or a signed-out session, is a successful no-op that
// returns a nil record.
func (m *Manager) HandleToken(ctx context.Context, token string) (*device.Record, error) {
	if token == "" {
		m.logger.Debug("No delivery token available; nothing to register")
		return nil, nil
	}
	if !m.session.IsSignedIn() {
		m.logger.Debug("Signed out; deferring token registration")
		return nil, nil
	}
	return m.save(ctx, func(r *device.Record) { r.Token = token })
}

// SetEnabled records the opt-in preference and, when a device is already
// registered, pushes it to the directory.
func (m *Manager) SetEnabled(ctx context.Context, enabled bool) (*device.Record, error) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()

	current, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil || !m.session.IsSignedIn() {
		m.logger.Debug("Device not registered; preference applies to next registration", "enabled", enabled)
		return nil, nil
	}

	token := current.Token
	return m.save(ctx, func(r *device.Record) {
		r.Token = token
		r.Enabled = enabled
	})
}

// Registered reports whether a device snapshot is cached.
func (m *Manager) Registered(ctx context.Context) bool {
	current, err := m.Current(ctx)
	return err == nil && current != nil
}

// Current returns the cached device record, or nil when none is cached.
func (m *Manager) Current(ctx context.Context) (*device.Record, error) {
	data, err := m.cache.Read(ctx, m.cacheKey)
	if errors.Is(err, messaging.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		m.logger.Error("Failed to read device snapshot", "key", m.cacheKey, "err", err)
		return nil, fmt.Errorf("failed to read device snapshot: %w", err)
	}

	record, err := device.DecodeSnapshot(data)
	if err != nil {
		// A corrupt snapshot is as good as none; drop it so the next
		// registration resolves from the directory.
		m.logger.Warn("Discarding unreadable device snapshot", "err", err)
		if clearErr := m.clearSnapshot(ctx); clearErr != nil {
			return nil, clearErr
		}
		return nil, nil
	}
	return record, nil
}

// Reset forgets the registered device locally. It makes no remote call.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++

	if err := m.cache.Clear(ctx, m.cacheKey); err != nil {
		m.logger.Error("Failed to clear device snapshot on reset", "err", err)
		return fmt.Errorf("failed to clear device snapshot: %w", err)
	}
	m.logger.Info("Device registration reset")
	return nil
}

// Unregister deletes the cached device from the directory. It is best effort:
// the local snapshot is left for Reset to clear.
func (m *Manager) Unregister(ctx context.Context) error {
	current, err := m.Current(ctx)
	if err != nil || current == nil {
		return err
	}
	if err := m.directory.Delete(ctx, current); err != nil {
		if messaging.IsOwnershipConflict(err) {
			m.logger.Info("Device already gone from directory", "device_id", current.ID)
			return nil
		}
		m.logger.Warn("Failed to delete device from directory", "device_id", current.ID, "err", err)
		return fmt.Errorf("failed to delete device %s: %w", current.ID, err)
	}
	m.logger.Info("Device deleted from directory", "device_id", current.ID)
	return nil
}

// save runs resolve→apply→upsert→cache, retrying once from scratch when the
// directory reports an ownership conflict.
func (m *Manager) save(ctx context.Context, apply func(*device.Record)) (*device.Record, error) {
	m.mu.Lock()
	generation := m.generation
	m.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && !m.sameSession(generation) {
			m.logger.Info("Session changed before retry; abandoning registration", "attempt", attempt)
			return nil, nil
		}
		saved, err := m.attempt(ctx, apply, generation)
		if err == nil {
			return saved, nil
		}
		lastErr = err

		if !messaging.IsOwnershipConflict(err) {
			m.logger.Error("Device registration failed", "attempt", attempt, "err", err)
			return nil, err
		}
		if attempt == maxAttempts {
			m.logger.Error("Device registration rejected after retry", "attempt", attempt, "err", err)
			break
		}

		m.logger.Warn("Cached device no longer owned by account; retrying", "attempt", attempt, "err", err)
		if err := m.clearSnapshot(ctx); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("device registration failed after %d attempts: %w", maxAttempts, lastErr)
}

// sameSession reports whether no Reset happened since generation was read and
// the session is still signed in.
func (m *Manager) sameSession(generation uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return generation == m.generation && m.session.IsSignedIn()
}

func (m *Manager) attempt(ctx context.Context, apply func(*device.Record), generation uint64) (*device.Record, error) {
	m.mu.Lock()
	enabled := m.enabled
	m.mu.Unlock()

	working, err := m.resolve(ctx, apply, enabled)
	if err != nil {
		return nil, err
	}

	var saved *device.Record
	if working.IsNew() {
		saved, err = m.directory.Create(ctx, working.Fields())
		if err != nil {
			return nil, fmt.Errorf("failed to create device: %w", err)
		}
		m.logger.Info("Device created", "device_id", saved.ID)
	} else {
		saved, err = m.directory.Update(ctx, working)
		if err != nil {
			return nil, fmt.Errorf("failed to update device %s: %w", working.ID, err)
		}
		m.logger.Debug("Device updated", "device_id", saved.ID)
	}

	if err := m.writeSnapshot(ctx, saved, generation); err != nil {
		return nil, err
	}
	return saved, nil
}

// resolve picks the working record: cached snapshot, then directory lookup by
// token, then a new unsaved record.
func (m *Manager) resolve(ctx context.Context, apply func(*device.Record), enabled bool) (*device.Record, error) {
	cached, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		apply(cached)
		return cached, nil
	}

	wanted := &device.Record{}
	apply(wanted)

	found, err := m.directory.QueryByToken(ctx, wanted.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to query device by token: %w", err)
	}
	if found != nil {
		working := found.Clone()
		apply(working)
		return working, nil
	}

	working := &device.Record{Enabled: enabled}
	apply(working)
	return working, nil
}

func (m *Manager) writeSnapshot(ctx context.Context, saved *device.Record, generation uint64) error {
	data, err := device.EncodeSnapshot(saved)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if generation != m.generation || !m.session.IsSignedIn() {
		m.logger.Info("Session changed during registration; not caching device", "device_id", saved.ID)
		return nil
	}
	if err := m.cache.Write(ctx, m.cacheKey, data); err != nil {
		m.logger.Error("Failed to write device snapshot", "device_id", saved.ID, "err", err)
		return fmt.Errorf("failed to write device snapshot: %w", err)
	}
	return nil
}

func (m *Manager) clearSnapshot(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.cache.Clear(ctx, m.cacheKey); err != nil {
		m.logger.Error("Failed to clear device snapshot", "err", err)
		return fmt.Errorf("failed to clear device snapshot: %w", err)
	}
	return nil
}
