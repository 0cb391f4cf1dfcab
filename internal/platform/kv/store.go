package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Well-known slots shared by every device.
const (
	KeyUsers    = "users"
	KeyOrders   = "orders"
	KeyProducts = "products"
)

// Slots held per device namespace.
const (
	KeyCart        = "cart"
	KeyCurrentUser = "currentUser"
)

// ErrInvalidKey is returned when a key is empty after trimming.
var ErrInvalidKey = errors.New("kv: key is required")

// Store persists JSON documents under string keys. There are no transactions; callers serialise
// read-modify-write sequences with a Locker.
type Store interface {
	Read(ctx context.Context, key string) (json.RawMessage, bool, error)
	Write(ctx context.Context, key string, value json.RawMessage) error
	Remove(ctx context.Context, key string) error
}

// ReadJSON decodes the value stored under key into dst. It reports false when the key is absent.
// Undecodable values are reported through ErrCorrupt so callers can fall back to an empty collection.
func ReadJSON(ctx context.Context, store Store, key string, dst any) (bool, error) {
	raw, ok, err := store.Read(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, &CorruptError{Key: key, Err: err}
	}
	return true, nil
}

// WriteJSON encodes value and stores it under key.
func WriteJSON(ctx context.Context, store Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return store.Write(ctx, key, data)
}

// ErrCorrupt matches every CorruptError.
var ErrCorrupt = errors.New("kv: corrupt value")

// CorruptError describes a stored value that could not be decoded.
type CorruptError struct {
	Key string
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("kv: corrupt value at %q: %v", e.Key, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Is reports ErrCorrupt equivalence.
func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

// Scoped prefixes every key with a namespace, giving each device its own cart and session slots.
type Scoped struct {
	store     Store
	namespace string
}

// NewScoped wraps store so keys resolve to "<namespace>/<key>".
func NewScoped(store Store, namespace string) (*Scoped, error) {
	if store == nil {
		return nil, errors.New("kv: scoped store requires a backing store")
	}
	namespace = strings.Trim(strings.TrimSpace(namespace), "/")
	if namespace == "" {
		return nil, errors.New("kv: scoped store requires a namespace")
	}
	return &Scoped{store: store, namespace: namespace}, nil
}

// Namespace returns the key prefix.
func (s *Scoped) Namespace() string { return s.namespace }

// Key resolves a slot name to the key used in the backing store.
func (s *Scoped) Key(key string) string {
	return s.namespace + "/" + strings.TrimSpace(key)
}

// Read implements Store.
func (s *Scoped) Read(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	return s.store.Read(ctx, s.Key(key))
}

// Write implements Store.
func (s *Scoped) Write(ctx context.Context, key string, value json.RawMessage) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.store.Write(ctx, s.Key(key), value)
}

// Remove implements Store.
func (s *Scoped) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.store.Remove(ctx, s.Key(key))
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}

// ResolveKey returns the key a slot maps to in the backing store, so lock names stay unique across
// namespaces that share one Locker.
func ResolveKey(store Store, key string) string {
	if resolver, ok := store.(interface{ Key(string) string }); ok {
		return resolver.Key(key)
	}
	return strings.TrimSpace(key)
}
