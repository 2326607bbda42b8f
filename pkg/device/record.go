// Package device contains the Device Record: the registration of one installed
// application instance for push delivery, and the codec for its cached snapshot.
package device

import (
	"encoding/json"
	"fmt"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// SnapshotKey is the fixed namespace key the cached snapshot is stored under.
const SnapshotKey = "firebase.device"

// Record identifies one installed application instance registered for push delivery.
type Record struct {
	// ID is assigned by the directory and is empty until the first successful create.
	ID string
	// Account is the owning account. It is set by the server and never written back.
	Account *urn.URN
	Token   string
	Enabled bool
}

// recordJSON is the wire and snapshot form of a Record.
type recordJSON struct {
	ID      string `json:"id,omitempty"`
	Account string `json:"account,omitempty"`
	Token   string `json:"token"`
	Enabled bool   `json:"enabled"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	w := recordJSON{ID: r.ID, Token: r.Token, Enabled: r.Enabled}
	if r.Account != nil {
		w.Account = r.Account.String()
	}
	return json.Marshal(w)
}

// UnmarshalJSON rejects an account that is not a valid URN.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Record{ID: w.ID, Token: w.Token, Enabled: w.Enabled}
	if w.Account != "" {
		account, err := urn.Parse(w.Account)
		if err != nil {
			return fmt.Errorf("invalid device account %q: %w", w.Account, err)
		}
		r.Account = &account
	}
	return nil
}

// WriteFields is the projection of a Record that is sent to the directory on write.
type WriteFields struct {
	Token   string `json:"token"`
	Enabled bool   `json:"enabled"`
}

// IsNew reports whether the record has never been saved remotely.
func (r *Record) IsNew() bool {
	return r.ID == ""
}

// Fields returns the writable fields of the record.
func (r *Record) Fields() WriteFields {
	return WriteFields{Token: r.Token, Enabled: r.Enabled}
}

// Clone returns a copy that can be mutated without affecting r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Account != nil {
		account := *r.Account
		c.Account = &account
	}
	return &c
}

// EncodeSnapshot serializes a saved record, id included, for the local cache.
func EncodeSnapshot(r *Record) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("cannot snapshot a nil device record")
	}
	if r.IsNew() {
		return nil, fmt.Errorf("cannot snapshot an unsaved device record")
	}
	return json.Marshal(r)
}

// DecodeSnapshot parses a cached snapshot back into a Record.
func DecodeSnapshot(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode device snapshot: %w", err)
	}
	if r.IsNew() {
		return nil, fmt.Errorf("device snapshot has no id")
	}
	return &r, nil
}
