package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// Collection provides typed document access to a single Firestore collection.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed accessor to the named collection.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Set upserts the given value under the provided document ID.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) (time.Time, error) {
	doc, err := c.documentRef(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	result, err := doc.Set(ctx, value)
	if err != nil {
		return time.Time{}, WrapError(c.op("set"), err)
	}
	return result.UpdateTime, nil
}

// Get fetches the document by ID and decodes it into the strongly typed entity.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := c.documentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	var data T
	if err := snapshot.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", id, err)
	}
	return Document[T]{ID: snapshot.Ref.ID, Data: data, UpdateTime: snapshot.UpdateTime}, nil
}

// Delete removes the document. Deleting a missing document is not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	doc, err := c.documentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Delete(ctx); err != nil {
		return WrapError(c.op("delete"), err)
	}
	return nil
}

func (c *Collection[T]) documentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

func (c *Collection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}
