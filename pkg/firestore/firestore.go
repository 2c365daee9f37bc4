// Package firestore provides gesture stores backed by a Firestore collection,
// one document per setting, observed with realtime listeners.
package firestore

import (
	"context"
	"fmt"
	"strconv"

	"cloud.google.com/go/firestore"
	"github.com/zoobzio/gesture"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection holds the setting documents.
const DefaultCollection = "gesture_preferences"

// valueField is the document field holding a setting's value.
const valueField = "value"

// Store keeps each setting as a document whose ID is the key and whose
// "value" field holds a bool (preferences) or an integer (secure settings).
type Store struct {
	client     *firestore.Client
	collection string
}

// Option configures a Store.
type Option func(*Store)

// WithCollection sets the collection. Defaults to DefaultCollection.
func WithCollection(name string) Option {
	return func(s *Store) {
		s.collection = name
	}
}

// New creates a Store for the given client.
func New(client *firestore.Client, opts ...Option) *Store {
	s := &Store{
		client:     client,
		collection: DefaultCollection,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bool implements gesture.Store. String values are parsed.
func (s *Store) Bool(ctx context.Context, key string) (bool, bool, error) {
	raw, ok, err := s.get(ctx, key)
	if err != nil || !ok {
		return false, false, err
	}
	switch v := raw.(type) {
	case bool:
		return v, true, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, false, fmt.Errorf("key %s: %w", key, err)
		}
		return b, true, nil
	default:
		return false, false, fmt.Errorf("key %s: %T is not a bool", key, raw)
	}
}

// Int implements gesture.SecureStore.
func (s *Store) Int(ctx context.Context, key string) (int, bool, error) {
	raw, ok, err := s.get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	switch v := raw.(type) {
	case int64:
		return int(v), true, nil
	case float64:
		if v != float64(int(v)) {
			return 0, false, fmt.Errorf("key %s: %v is not an integer", key, v)
		}
		return int(v), true, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false, fmt.Errorf("key %s: %w", key, err)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("key %s: %T is not an integer", key, raw)
	}
}

// SetBool implements gesture.Writer.
func (s *Store) SetBool(ctx context.Context, key string, v bool) error {
	return s.set(ctx, key, v)
}

// SetInt stores an int setting.
func (s *Store) SetInt(ctx context.Context, key string, v int) error {
	return s.set(ctx, key, int64(v))
}

// Delete implements gesture.Writer.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Collection(s.collection).Doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch listens to the collection and returns a channel that emits one Change
// per document added, modified or removed after Watch returns. Watch waits for
// the listener's first snapshot, which holds the existing documents and is not
// replayed. Firestore may fold rapid writes to one document into one snapshot.
func (s *Store) Watch(ctx context.Context) (<-chan gesture.Change, error) {
	snapshots := s.client.Collection(s.collection).Snapshots(ctx)
	if _, err := snapshots.Next(); err != nil {
		snapshots.Stop()
		return nil, fmt.Errorf("failed to listen to %s: %w", s.collection, err)
	}

	out := make(chan gesture.Change)

	go func() {
		defer close(out)
		defer snapshots.Stop()

		for {
			snap, err := snapshots.Next()
			if err != nil {
				// Listener errors are terminal, including cancellation.
				return
			}

			for _, dc := range snap.Changes {
				c := gesture.Change{Key: dc.Doc.Ref.ID}
				if dc.Kind == firestore.DocumentRemoved {
					c.Deleted = true
				} else {
					c.Value, _ = dc.Doc.Data()[valueField].(bool)
				}

				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *Store) get(ctx context.Context, key string) (any, bool, error) {
	snap, err := s.client.Collection(s.collection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	raw, ok := snap.Data()[valueField]
	if !ok {
		return nil, false, nil
	}
	return raw, true, nil
}

func (s *Store) set(ctx context.Context, key string, v any) error {
	_, err := s.client.Collection(s.collection).Doc(key).Set(ctx, map[string]any{
		valueField: v,
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

var (
	_ gesture.Store       = (*Store)(nil)
	_ gesture.SecureStore = (*Store)(nil)
	_ gesture.Writer      = (*Store)(nil)
)
