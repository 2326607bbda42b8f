// Package firestore is the device directory backed by a Firestore collection.
// Ownership is enforced against the session's account on every write.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-device-messaging/pkg/device"
	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// DefaultCollection is the root collection holding device documents.
const DefaultCollection = "devices"

// AccountSource identifies the signed-in account.
type AccountSource interface {
	Account() (urn.URN, bool)
}

// Directory implements messaging.Directory using Google Cloud Firestore.
type Directory struct {
	client     *firestore.Client
	collection string
	accounts   AccountSource
	now        func() time.Time
	logger     *slog.Logger
}

func NewDirectory(client *firestore.Client, collection string, accounts AccountSource, logger *slog.Logger) *Directory {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Directory{
		client:     client,
		collection: collection,
		accounts:   accounts,
		now:        time.Now,
		logger:     logger.With("component", "FirestoreDirectory"),
	}
}

// deviceDoc is the stored representation. The document id is the record id
// and Account holds the owner's URN string.
type deviceDoc struct {
	Account   string    `firestore:"account"`
	Token     string    `firestore:"token"`
	Enabled   bool      `firestore:"enabled"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// record builds the Record for id. account is the caller's, which every
// returned document has already been matched against.
func (d deviceDoc) record(id string, account urn.URN) *device.Record {
	return &device.Record{ID: id, Account: &account, Token: d.Token, Enabled: d.Enabled}
}

func (s *Directory) Create(ctx context.Context, fields device.WriteFields) (*device.Record, error) {
	account, err := s.account()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	doc := deviceDoc{
		Account:   account.String(),
		Token:     fields.Token,
		Enabled:   fields.Enabled,
		UpdatedAt: s.now().UTC(),
	}
	if _, err := s.client.Collection(s.collection).Doc(id).Create(ctx, doc); err != nil {
		return nil, mapError(err)
	}
	s.logger.Debug("Device document created", "device_id", id)
	return doc.record(id, account), nil
}

// QueryByToken returns the account's device holding token, or nil.
func (s *Directory) QueryByToken(ctx context.Context, token string) (*device.Record, error) {
	account, err := s.account()
	if err != nil {
		return nil, err
	}

	iter := s.client.Collection(s.collection).
		Where("account", "==", account.String()).
		Where("token", "==", token).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("firestore query failed: %w", mapError(err))
		}

		var doc deviceDoc
		if err := snap.DataTo(&doc); err != nil {
			s.logger.Warn("Skipping unreadable device document", "device_id", snap.Ref.ID, "err", err)
			continue
		}
		return doc.record(snap.Ref.ID, account), nil
	}
}

func (s *Directory) Update(ctx context.Context, record *device.Record) (*device.Record, error) {
	account, err := s.account()
	if err != nil {
		return nil, err
	}
	if record.IsNew() {
		return nil, fmt.Errorf("cannot update a device record without an id")
	}

	ref := s.client.Collection(s.collection).Doc(record.ID)
	var saved deviceDoc
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := s.owned(tx, ref, account)
		if err != nil {
			return err
		}
		saved = *current
		saved.Token = record.Token
		saved.Enabled = record.Enabled
		saved.UpdatedAt = s.now().UTC()
		return tx.Set(ref, saved)
	})
	if err != nil {
		return nil, mapError(err)
	}
	return saved.record(record.ID, account), nil
}

func (s *Directory) Delete(ctx context.Context, record *device.Record) error {
	account, err := s.account()
	if err != nil {
		return err
	}
	if record.IsNew() {
		return fmt.Errorf("cannot delete a device record without an id")
	}

	ref := s.client.Collection(s.collection).Doc(record.ID)
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := s.owned(tx, ref, account); err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	return mapError(err)
}

// owned loads the document and checks it belongs to account.
func (s *Directory) owned(tx *firestore.Transaction, ref *firestore.DocumentRef, account urn.URN) (*deviceDoc, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return nil, &messaging.DirectoryError{StatusCode: http.StatusNotFound, Reason: "not_found", Message: "device does not exist"}
	}
	if err != nil {
		return nil, err
	}

	var doc deviceDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to read device document %s: %w", ref.ID, err)
	}
	if doc.Account != account.String() {
		return nil, &messaging.DirectoryError{StatusCode: http.StatusForbidden, Reason: messaging.ReasonInvalidOwner, Message: "device is owned by another account"}
	}
	return &doc, nil
}

func (s *Directory) account() (urn.URN, error) {
	var account urn.URN
	if s.accounts == nil {
		return account, &messaging.DirectoryError{StatusCode: http.StatusUnauthorized, Reason: "unauthenticated"}
	}
	account, ok := s.accounts.Account()
	if !ok {
		return account, &messaging.DirectoryError{StatusCode: http.StatusUnauthorized, Reason: "unauthenticated"}
	}
	return account, nil
}

// mapError turns Firestore status codes into directory errors so ownership
// conflicts are recognisable. Other errors pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var derr *messaging.DirectoryError
	if errors.As(err, &derr) {
		return err
	}
	var grpcErr interface{ GRPCStatus() *status.Status }
	if !errors.As(err, &grpcErr) {
		return err
	}
	st := grpcErr.GRPCStatus()
	switch st.Code() {
	case codes.NotFound:
		return &messaging.DirectoryError{StatusCode: http.StatusNotFound, Reason: "not_found", Message: st.Message()}
	case codes.PermissionDenied:
		return &messaging.DirectoryError{StatusCode: http.StatusForbidden, Reason: "forbidden", Message: st.Message()}
	case codes.Unauthenticated:
		return &messaging.DirectoryError{StatusCode: http.StatusUnauthorized, Reason: "unauthenticated", Message: st.Message()}
	}
	return err
}
