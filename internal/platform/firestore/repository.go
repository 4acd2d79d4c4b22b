package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Decoder hydrates an entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

type QueryBuilder func(query firestore.Query) firestore.Query

// Collection gives typed access to one top-level collection.
type Collection[T any] struct {
	provider *Provider
	name     string
	decode   Decoder[T]
}

// NewCollection binds name to the provider. A nil decoder uses snapshot DataTo.
func NewCollection[T any](provider *Provider, name string, decode Decoder[T]) *Collection[T] {
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name), decode: decode}
}

func (c *Collection[T]) Name() string { return c.name }

// Doc returns the document reference for id.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("doc"), errors.New("firestore: document id is required"))
	}
	if c.provider == nil {
		return nil, WrapError(c.op("doc"), errors.New("firestore: provider is nil"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

// Get loads and decodes one document.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return zero, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return zero, WrapError(c.op("get"), err)
	}
	return c.decode(snap)
}

// Create writes payload under id and fails with a conflict when the document exists.
func (c *Collection[T]) Create(ctx context.Context, id string, payload any) error {
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, payload); err != nil {
		return WrapError(c.op("create"), err)
	}
	return nil
}

// Query runs the built query and decodes every result.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]T, error) {
	if c.provider == nil {
		return nil, WrapError(c.op("query"), errors.New("firestore: provider is nil"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(c.name).Query
	if build != nil {
		query = build(query)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		item, err := c.decode(snap)
		if err != nil {
			return nil, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
		}
		out = append(out, item)
	}
}

func (c *Collection[T]) op(action string) string {
	if c == nil || c.name == "" {
		return "firestore." + action
	}
	return c.name + "." + action
}

// StructDecoder decodes snapshots with firestore struct tags.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		err := snap.DataTo(&target)
		return target, err
	}
}
