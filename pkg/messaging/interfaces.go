// Package messaging contains the public contracts shared by the device
// registration components: the remote directory, the local cache, the delivery
// provider and the session that drives them.
package messaging

import (
	"context"

	"github.com/tinywideclouds/go-device-messaging/pkg/device"
)

// Directory is the backend device directory.
type Directory interface {
	// Create saves a new device record and returns it with its assigned id.
	Create(ctx context.Context, fields device.WriteFields) (*device.Record, error)

	// QueryByToken returns the record registered with token, or nil when none exists.
	QueryByToken(ctx context.Context, token string) (*device.Record, error)

	// Update saves an existing record.
	Update(ctx context.Context, record *device.Record) (*device.Record, error)

	// Delete removes an existing record.
	Delete(ctx context.Context, record *device.Record) error
}

// LocalCache is durable key-value storage that survives process restarts.
type LocalCache interface {
	// Read returns the stored bytes, or ErrCacheMiss when the key is absent.
	Read(ctx context.Context, key string) ([]byte, error)
	// Write replaces the value stored under key.
	Write(ctx context.Context, key string, value []byte) error
	// Clear removes key. Clearing an absent key is not an error.
	Clear(ctx context.Context, key string) error
}

// Provider is a push-delivery channel adapter (browser or native).
type Provider interface {
	// Configure prepares the channel. It is called once before Token.
	Configure(ctx context.Context, cfg ChannelConfig) error
	// Token returns the current delivery token, or "" when the channel has none.
	Token(ctx context.Context) (string, error)
	// Events streams token refreshes, inbound notifications, actions and errors.
	// The channel is closed by Close.
	Events() <-chan Event
	Close() error
}

// Session is the authentication collaborator.
type Session interface {
	IsSignedIn() bool
	AddListener(l SessionListener)
	RemoveListener(l SessionListener)
}

// SessionListener receives sign-in state transitions.
type SessionListener interface {
	DidSignIn(ctx context.Context) error
	WillSignOut(ctx context.Context) error
	DidSignOut(ctx context.Context) error
}

// Sender delivers a single notification to a device token.
type Sender interface {
	Send(ctx context.Context, token string, n Notification) error
}
