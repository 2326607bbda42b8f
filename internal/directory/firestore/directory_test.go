//go:build integration

package firestore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-device-messaging/internal/directory/firestore"
	"github.com/tinywideclouds/go-device-messaging/pkg/device"
	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// account is a switchable AccountSource.
type account struct{ id urn.URN }

func (a *account) Account() (urn.URN, bool) { return a.id, true }

func mustURN(t *testing.T, s string) urn.URN {
	t.Helper()
	u, err := urn.Parse(s)
	require.NoError(t, err)
	return u
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupSuite(t *testing.T) (context.Context, *fs.Directory, *account) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	projectID := "test-device-directory"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	owner := &account{id: mustURN(t, "urn:sm:user:"+uuid.NewString())}
	collection := "devices-" + uuid.NewString()
	return ctx, fs.NewDirectory(client, collection, owner, newTestLogger()), owner
}

func TestDirectory_Integration(t *testing.T) {
	ctx, dir, owner := setupSuite(t)

	t.Run("Device Lifecycle", func(t *testing.T) {
		created, err := dir.Create(ctx, device.WriteFields{Token: "token-1"})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		require.NotNil(t, created.Account)
		assert.Equal(t, owner.id.String(), created.Account.String())

		found, err := dir.QueryByToken(ctx, "token-1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, created.ID, found.ID)

		found.Token = "token-2"
		found.Enabled = true
		updated, err := dir.Update(ctx, found)
		require.NoError(t, err)
		assert.Equal(t, "token-2", updated.Token)
		assert.True(t, updated.Enabled)

		gone, err := dir.QueryByToken(ctx, "token-1")
		require.NoError(t, err)
		assert.Nil(t, gone)

		require.NoError(t, dir.Delete(ctx, updated))

		_, err = dir.Update(ctx, updated)
		require.Error(t, err)
		assert.True(t, messaging.IsOwnershipConflict(err), "updating a deleted device is a conflict")
	})

	t.Run("Foreign Owner", func(t *testing.T) {
		created, err := dir.Create(ctx, device.WriteFields{Token: "token-3"})
		require.NoError(t, err)

		original := owner.id
		owner.id = mustURN(t, "urn:sm:user:someone-else")
		t.Cleanup(func() { owner.id = original })

		_, err = dir.Update(ctx, created)
		var derr *messaging.DirectoryError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, messaging.ReasonInvalidOwner, derr.Reason)

		found, err := dir.QueryByToken(ctx, "token-3")
		require.NoError(t, err)
		assert.Nil(t, found, "query is scoped to the calling account")
	})
}
