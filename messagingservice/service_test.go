// --- File: messagingservice/service_test.go ---
package messagingservice_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-device-messaging/internal/session"
	"github.com/tinywideclouds/go-device-messaging/internal/storage/bolt"
	"github.com/tinywideclouds/go-device-messaging/messagingservice"
	"github.com/tinywideclouds/go-device-messaging/messagingservice/config"
	"github.com/tinywideclouds/go-device-messaging/pkg/device"
	"github.com/tinywideclouds/go-device-messaging/pkg/listeners"
	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
	"github.com/tinywideclouds/go-device-messaging/pkg/provider/static"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

var secret = []byte("service-test-secret")

const testAccount = "urn:sm:user:user-1"

// --- MOCKS ---

// memDirectory is an in-memory directory that records deletions.
type memDirectory struct {
	mu      sync.Mutex
	nextID  int
	records map[string]*device.Record
	deleted []string
}

func newMemDirectory() *memDirectory {
	return &memDirectory{records: make(map[string]*device.Record)}
}

func (d *memDirectory) Create(_ context.Context, fields device.WriteFields) (*device.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	account, err := urn.Parse(testAccount)
	if err != nil {
		return nil, err
	}
	d.nextID++
	r := &device.Record{ID: fmt.Sprintf("dev-%d", d.nextID), Account: &account, Token: fields.Token, Enabled: fields.Enabled}
	d.records[r.ID] = r
	return r.Clone(), nil
}

func (d *memDirectory) QueryByToken(_ context.Context, token string) (*device.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.records {
		if r.Token == token {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (d *memDirectory) Update(_ context.Context, record *device.Record) (*device.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.records[record.ID]
	if !ok {
		return nil, &messaging.DirectoryError{StatusCode: http.StatusNotFound, Reason: "not_found"}
	}
	existing.Token = record.Token
	existing.Enabled = record.Enabled
	return existing.Clone(), nil
}

func (d *memDirectory) Delete(_ context.Context, record *device.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.records, record.ID)
	d.deleted = append(d.deleted, record.ID)
	return nil
}

func (d *memDirectory) get(id string) *device.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.records[id].Clone()
}

func (d *memDirectory) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

func (d *memDirectory) deletedIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deleted...)
}

// --- Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func accessToken(t *testing.T) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   testAccount,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	require.NoError(t, err)
	return signed
}

type harness struct {
	svc       *messagingservice.Service
	provider  *static.Provider
	directory *memDirectory
	session   *session.TokenSession
}

func newHarness(t *testing.T, token string, mutate func(*config.Config)) *harness {
	t.Helper()
	logger := newTestLogger()

	cfg := &config.Config{
		Platform: config.PlatformNative,
		Cache:    config.CacheConfig{Key: device.SnapshotKey},
	}
	if mutate != nil {
		mutate(cfg)
	}

	store, err := bolt.New(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		provider:  static.New(token, logger),
		directory: newMemDirectory(),
		session:   session.New(logger, session.WithHMACSecret(secret)),
	}
	h.svc = messagingservice.New(cfg, h.provider, h.directory, store, h.session, logger)
	t.Cleanup(func() { _ = h.svc.Close() })
	return h
}

// --- TESTS ---

func TestService_StartWhileSignedInRegisters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "T1", nil)
	require.NoError(t, h.session.SignIn(ctx, accessToken(t)))

	require.NoError(t, h.svc.Start(ctx))

	assert.True(t, h.svc.IsRegistered(ctx))
	current, err := h.svc.Device(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "dev-1", current.ID)
	assert.Equal(t, "T1", current.Token)
	assert.False(t, current.Enabled)
}

func TestService_StartWhileSignedOutWaitsForSignIn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "T1", nil)

	require.NoError(t, h.svc.Start(ctx))
	assert.False(t, h.svc.IsRegistered(ctx))
	assert.Zero(t, h.directory.count())

	require.NoError(t, h.session.SignIn(ctx, accessToken(t)))
	assert.True(t, h.svc.IsRegistered(ctx))
	assert.Equal(t, 1, h.directory.count())
}

func TestService_SignOut(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - snapshot cleared, remote record kept", func(t *testing.T) {
		h := newHarness(t, "T1", nil)
		require.NoError(t, h.session.SignIn(ctx, accessToken(t)))
		require.NoError(t, h.svc.Start(ctx))
		require.True(t, h.svc.IsRegistered(ctx))

		require.NoError(t, h.session.SignOut(ctx))

		assert.False(t, h.svc.IsRegistered(ctx))
		assert.Equal(t, 1, h.directory.count())
		assert.Empty(t, h.directory.deletedIDs())
	})

	t.Run("Success - unregister on sign-out deletes remotely", func(t *testing.T) {
		h := newHarness(t, "T1", func(c *config.Config) { c.UnregisterOnSignOut = true })
		require.NoError(t, h.session.SignIn(ctx, accessToken(t)))
		require.NoError(t, h.svc.Start(ctx))

		require.NoError(t, h.session.SignOut(ctx))

		assert.False(t, h.svc.IsRegistered(ctx))
		assert.Equal(t, []string{"dev-1"}, h.directory.deletedIDs())
	})
}

func TestService_TokenRefreshUpdatesDevice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "T1", nil)
	require.NoError(t, h.session.SignIn(ctx, accessToken(t)))
	require.NoError(t, h.svc.Start(ctx))

	h.provider.SetToken("T2")

	assert.Eventually(t, func() bool {
		r := h.directory.get("dev-1")
		return r != nil && r.Token == "T2"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		current, err := h.svc.Device(ctx)
		return err == nil && current != nil && current.Token == "T2"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.directory.count())
}

func TestService_EnablePushNotifications(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "T1", nil)
	require.NoError(t, h.session.SignIn(ctx, accessToken(t)))
	require.NoError(t, h.svc.Start(ctx))

	saved, err := h.svc.EnablePushNotifications(ctx, true)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.True(t, saved.Enabled)
	assert.True(t, h.directory.get("dev-1").Enabled)
}

func TestService_NotificationsReachListeners(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "", nil)
	require.NoError(t, h.svc.Start(ctx))

	var mu sync.Mutex
	var got []string
	record := func(_ context.Context, v any) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, v.(*messaging.Notification).ID)
	}
	seen := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), got...)
	}

	h.svc.RegisterListener(record, listeners.Options{})
	actionsOnly := h.svc.RegisterListener(record, listeners.Options{
		When: func(v any) bool { return v.(*messaging.Notification).Action != "" },
	})

	require.True(t, h.provider.Deliver(&messaging.Notification{ID: "fg"}))
	require.True(t, h.provider.Deliver(&messaging.Notification{ID: "tap", Action: "open"}))

	assert.Eventually(t, func() bool { return len(seen()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"fg", "tap", "tap"}, seen())

	h.svc.UnregisterListener(actionsOnly)
	require.True(t, h.provider.Deliver(&messaging.Notification{ID: "tap2", Action: "open"}))
	assert.Eventually(t, func() bool { return len(seen()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "tap2", seen()[3])
}

func TestService_CloseStopsConsumer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "T1", nil)
	require.NoError(t, h.svc.Start(ctx))

	require.NoError(t, h.svc.Close())
	require.NoError(t, h.svc.Close())

	assert.False(t, h.provider.Deliver(&messaging.Notification{ID: "late"}))
	require.NoError(t, h.session.SignIn(ctx, accessToken(t)))
	assert.Zero(t, h.directory.count(), "a closed service no longer follows the session")
}

func TestService_ListenerOptionsAndScopedSubscription(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "", nil)
	require.NoError(t, h.svc.Start(ctx))

	titles := make(chan string, 4)
	scope, leave := context.WithCancel(ctx)
	h.svc.SubscribeListener(scope, func(_ context.Context, v any) {
		titles <- v.(string)
	}, listeners.Options{
		Preprocess: func(n *messaging.Notification) (any, error) { return n.Title, nil },
		When:       func(v any) bool { return v.(string) != "" },
	})

	require.True(t, h.provider.Deliver(&messaging.Notification{ID: "silent"}))
	require.True(t, h.provider.Deliver(&messaging.Notification{ID: "loud", Title: "Hello"}))

	select {
	case got := <-titles:
		assert.Equal(t, "Hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not called")
	}

	leave()
	time.Sleep(50 * time.Millisecond)
	require.True(t, h.provider.Deliver(&messaging.Notification{ID: "late", Title: "Bye"}))
	select {
	case got := <-titles:
		t.Fatalf("listener called after its scope ended: %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestService_StartRetriesAfterConfigureFailure(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	store, err := bolt.New(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	p := &flakyProvider{Provider: static.New("T1", logger), failures: 1}
	sess := session.New(logger, session.WithHMACSecret(secret))
	svc := messagingservice.New(&config.Config{Cache: config.CacheConfig{Key: device.SnapshotKey}},
		p, newMemDirectory(), store, sess, logger)
	t.Cleanup(func() { _ = svc.Close() })
	require.NoError(t, sess.SignIn(ctx, accessToken(t)))

	require.Error(t, svc.Start(ctx))
	assert.False(t, svc.IsRegistered(ctx))

	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, 2, p.configureCalls)
	assert.True(t, svc.IsRegistered(ctx))
}

// flakyProvider fails Configure a fixed number of times.
type flakyProvider struct {
	*static.Provider
	failures       int
	configureCalls int
}

func (f *flakyProvider) Configure(ctx context.Context, cfg messaging.ChannelConfig) error {
	f.configureCalls++
	if f.configureCalls <= f.failures {
		return errors.New("service worker registration failed")
	}
	return f.Provider.Configure(ctx, cfg)
}
