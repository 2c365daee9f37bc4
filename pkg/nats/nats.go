// Package nats provides gesture stores backed by a NATS JetStream key-value
// bucket.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/gesture"
)

// DefaultBucket is the bucket created by CreateBucket when none is named.
const DefaultBucket = "gesture"

// Store keeps preferences as "true"/"false" values and secure settings as
// decimal values, one bucket key per setting.
type Store struct {
	kv jetstream.KeyValue
}

// New creates a Store for the given bucket.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// CreateBucket creates or updates the named bucket and returns a Store for it.
func CreateBucket(ctx context.Context, js jetstream.JetStream, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "gesture preferences",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return New(kv), nil
}

// Bool implements gesture.Store.
func (s *Store) Bool(ctx context.Context, key string) (bool, bool, error) {
	raw, ok, err := s.get(ctx, key)
	if err != nil || !ok {
		return false, false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("key %s: %w", key, err)
	}
	return v, true, nil
}

// Int implements gesture.SecureStore.
func (s *Store) Int(ctx context.Context, key string) (int, bool, error) {
	raw, ok, err := s.get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("key %s: %w", key, err)
	}
	return v, true, nil
}

// SetBool implements gesture.Writer.
func (s *Store) SetBool(ctx context.Context, key string, v bool) error {
	if _, err := s.kv.PutString(ctx, key, strconv.FormatBool(v)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// SetInt stores an int setting.
func (s *Store) SetInt(ctx context.Context, key string, v int) error {
	if _, err := s.kv.PutString(ctx, key, strconv.Itoa(v)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete implements gesture.Writer.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch watches every key in the bucket and returns a channel that emits one
// Change per put, delete, or purge made after Watch returns. Existing values
// are not replayed.
func (s *Store) Watch(ctx context.Context) (<-chan gesture.Change, error) {
	watcher, err := s.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to watch bucket: %w", err)
	}

	out := make(chan gesture.Change)

	go func() {
		defer close(out)
		defer watcher.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}

				// nil marks the end of the initial values
				if entry == nil {
					continue
				}

				c := gesture.Change{Key: entry.Key()}
				switch entry.Operation() {
				case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
					c.Deleted = true
				default:
					c.Value, _ = strconv.ParseBool(string(entry.Value()))
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

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(entry.Value()), true, nil
}

var (
	_ gesture.Store       = (*Store)(nil)
	_ gesture.SecureStore = (*Store)(nil)
	_ gesture.Writer      = (*Store)(nil)
)
