package kv

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	pfirestore "github.com/farmstall/api/internal/platform/firestore"
)

const defaultCollection = "kv"

type document struct {
	Key       string    `firestore:"key"`
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// FirestoreStore keeps one Firestore document per key. The JSON value is stored verbatim as a string field.
type FirestoreStore struct {
	docs  *pfirestore.Collection[document]
	clock func() time.Time
}

// FirestoreStoreOption customises a FirestoreStore.
type FirestoreStoreOption func(*FirestoreStore)

// WithClock overrides the clock used for updatedAt stamps.
func WithClock(clock func() time.Time) FirestoreStoreOption {
	return func(s *FirestoreStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewFirestoreStore constructs a store over the named collection.
func NewFirestoreStore(provider *pfirestore.Provider, collection string, opts ...FirestoreStoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("kv: firestore provider is required")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = defaultCollection
	}
	store := &FirestoreStore{
		docs:  pfirestore.NewCollection[document](provider, collection),
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Read implements Store.
func (s *FirestoreStore) Read(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	doc, err := s.docs.Get(ctx, documentID(key))
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return json.RawMessage(doc.Data.Value), true, nil
}

// Write implements Store.
func (s *FirestoreStore) Write(ctx context.Context, key string, value json.RawMessage) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := s.docs.Set(ctx, documentID(key), document{
		Key:       key,
		Value:     string(value),
		UpdatedAt: s.clock().UTC(),
	})
	return err
}

// Remove implements Store.
func (s *FirestoreStore) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.docs.Delete(ctx, documentID(key))
}

// documentID escapes path separators, which Firestore reads as subcollection boundaries.
func documentID(key string) string {
	return url.PathEscape(strings.TrimSpace(key))
}
