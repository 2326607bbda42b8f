package bolt_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-device-messaging/internal/storage/bolt"
	"github.com/tinywideclouds/go-device-messaging/pkg/device"
	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.db")

	store, err := bolt.New(path)
	require.NoError(t, err)

	_, err = store.Read(ctx, device.SnapshotKey)
	assert.ErrorIs(t, err, messaging.ErrCacheMiss)

	want := &device.Record{ID: "D1", Token: "T1", Enabled: true}
	data, err := device.EncodeSnapshot(want)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, device.SnapshotKey, data))

	t.Run("survives reopen", func(t *testing.T) {
		require.NoError(t, store.Close())
		store, err = bolt.New(path)
		require.NoError(t, err)

		raw, err := store.Read(ctx, device.SnapshotKey)
		require.NoError(t, err)
		got, err := device.DecodeSnapshot(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx, device.SnapshotKey))
		require.NoError(t, store.Clear(ctx, device.SnapshotKey))

		_, err := store.Read(ctx, device.SnapshotKey)
		assert.ErrorIs(t, err, messaging.ErrCacheMiss)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, store.Write(cctx, "k", []byte("v")), context.Canceled)
	})

	require.NoError(t, store.Close())
}
