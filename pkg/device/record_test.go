package device_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-device-messaging/pkg/device"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

func mustAccount(t *testing.T, s string) *urn.URN {
	t.Helper()
	account, err := urn.Parse(s)
	require.NoError(t, err)
	return &account
}

func TestSnapshot_RoundTrip(t *testing.T) {
	saved := &device.Record{ID: "dev-1", Account: mustAccount(t, "urn:sm:user:acct-9"), Token: "T1", Enabled: true}

	data, err := device.EncodeSnapshot(saved)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"dev-1","account":"urn:sm:user:acct-9","token":"T1","enabled":true}`, string(data))

	restored, err := device.DecodeSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, saved.ID, restored.ID)
	assert.Equal(t, saved.Token, restored.Token)
	assert.Equal(t, saved.Enabled, restored.Enabled)
	require.NotNil(t, restored.Account)
	assert.Equal(t, "urn:sm:user:acct-9", restored.Account.String())
}

func TestSnapshot_Rejects(t *testing.T) {
	t.Run("Unsaved record cannot be cached", func(t *testing.T) {
		_, err := device.EncodeSnapshot(&device.Record{Token: "T1"})
		assert.Error(t, err)
	})

	t.Run("Nil record cannot be cached", func(t *testing.T) {
		_, err := device.EncodeSnapshot(nil)
		assert.Error(t, err)
	})

	t.Run("Corrupt snapshot", func(t *testing.T) {
		_, err := device.DecodeSnapshot([]byte(`{"id":`))
		assert.Error(t, err)
	})

	t.Run("Account that is not a urn", func(t *testing.T) {
		_, err := device.DecodeSnapshot([]byte(`{"id":"dev-1","account":"not-a-urn","token":"T1"}`))
		assert.Error(t, err)
	})

	t.Run("Snapshot without id", func(t *testing.T) {
		_, err := device.DecodeSnapshot([]byte(`{"token":"T1"}`))
		assert.Error(t, err)
	})
}

func TestWriteFields_OmitAccount(t *testing.T) {
	r := &device.Record{ID: "dev-1", Account: mustAccount(t, "urn:sm:user:acct-9"), Token: "T1", Enabled: true}

	body, err := json.Marshal(r.Fields())
	require.NoError(t, err)

	assert.JSONEq(t, `{"token":"T1","enabled":true}`, string(body))
}

func TestClone_IsIndependent(t *testing.T) {
	r := &device.Record{ID: "dev-1", Account: mustAccount(t, "urn:sm:user:acct-9"), Token: "T1"}
	c := r.Clone()
	c.Token = "T2"
	c.Account = nil

	assert.Equal(t, "T1", r.Token)
	assert.NotNil(t, r.Account)
	assert.Nil(t, (*device.Record)(nil).Clone())
}
