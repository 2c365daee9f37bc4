// Package etcd provides gesture stores backed by etcd keys under a common
// prefix, observed with the native Watch API.
package etcd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/zoobzio/gesture"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultPrefix namespaces preference keys within the etcd keyspace.
const DefaultPrefix = "/gesture/"

// Store keeps preferences as "true"/"false" values and secure settings as
// decimal values, one etcd key per setting.
type Store struct {
	client *clientv3.Client
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix. Defaults to DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Store for the given client.
func New(client *clientv3.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
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
	if _, err := s.client.Put(ctx, s.prefix+key, strconv.FormatBool(v)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// SetInt stores an int setting.
func (s *Store) SetInt(ctx context.Context, key string, v int) error {
	if _, err := s.client.Put(ctx, s.prefix+key, strconv.Itoa(v)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete implements gesture.Writer.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Delete(ctx, s.prefix+key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch watches every key under the prefix and returns a channel that emits
// one Change per put or delete made after Watch returns. The watch starts at
// the revision read before returning, so no write after that point is missed.
func (s *Store) Watch(ctx context.Context) (<-chan gesture.Change, error) {
	// Get the current revision
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to read revision: %w", err)
	}

	watchChan := s.client.Watch(ctx, s.prefix,
		clientv3.WithPrefix(),
		clientv3.WithRev(resp.Header.Revision+1),
	)

	out := make(chan gesture.Change)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if watchResp.Err() != nil {
					continue
				}

				for _, event := range watchResp.Events {
					c := gesture.Change{Key: strings.TrimPrefix(string(event.Kv.Key), s.prefix)}
					if event.Type == clientv3.EventTypeDelete {
						c.Deleted = true
					} else {
						c.Value, _ = strconv.ParseBool(string(event.Kv.Value))
					}

					select {
					case out <- c:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	resp, err := s.client.Get(ctx, s.prefix+key)
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

var (
	_ gesture.Store       = (*Store)(nil)
	_ gesture.SecureStore = (*Store)(nil)
	_ gesture.Writer      = (*Store)(nil)
)
