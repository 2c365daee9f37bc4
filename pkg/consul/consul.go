// Package consul provides gesture stores backed by Consul KV, observed with
// blocking queries.
package consul

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/gesture"
)

// DefaultPrefix namespaces preference keys within Consul KV.
const DefaultPrefix = "gesture/"

// retryDelay spaces out blocking queries after a failed one.
const retryDelay = time.Second

// Store keeps preferences as "true"/"false" values and secure settings as
// decimal values, one KV pair per setting.
type Store struct {
	kv     *api.KV
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
func New(client *api.Client, opts ...Option) *Store {
	s := &Store{
		kv:     client.KV(),
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
	return s.put(ctx, key, strconv.FormatBool(v))
}

// SetInt stores an int setting.
func (s *Store) SetInt(ctx context.Context, key string, v int) error {
	return s.put(ctx, key, strconv.Itoa(v))
}

// Delete implements gesture.Writer.
func (s *Store) Delete(ctx context.Context, key string) error {
	opts := (&api.WriteOptions{}).WithContext(ctx)
	if _, err := s.kv.Delete(s.prefix+key, opts); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch lists the keys under the prefix and returns a channel that emits a
// Change for every key whose value is modified or removed after Watch
// returns. Changes are found by comparing each key's ModifyIndex across
// blocking queries, so several writes to one key between two queries are
// reported once. Changes within one query are emitted in modify order,
// removals last.
func (s *Store) Watch(ctx context.Context) (<-chan gesture.Change, error) {
	pairs, meta, err := s.kv.List(s.prefix, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.prefix, err)
	}

	out := make(chan gesture.Change)

	go func() {
		defer close(out)

		lastIndex := meta.LastIndex
		known := s.indexes(pairs)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			opts := (&api.QueryOptions{WaitIndex: lastIndex}).WithContext(ctx)
			pairs, meta, err := s.kv.List(s.prefix, opts)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(retryDelay):
				}
				continue
			}

			// An index that moves backwards means the raft state was reset.
			if meta.LastIndex < lastIndex {
				lastIndex = 0
				continue
			}
			if meta.LastIndex == lastIndex {
				continue
			}
			lastIndex = meta.LastIndex

			next := s.indexes(pairs)
			for _, c := range s.diff(known, next, pairs) {
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
			known = next
		}
	}()

	return out, nil
}

// indexes maps each key, without the prefix, to its ModifyIndex.
func (s *Store) indexes(pairs api.KVPairs) map[string]uint64 {
	m := make(map[string]uint64, len(pairs))
	for _, p := range pairs {
		m[strings.TrimPrefix(p.Key, s.prefix)] = p.ModifyIndex
	}
	return m
}

// diff returns the changes between two listings.
func (s *Store) diff(prev, next map[string]uint64, pairs api.KVPairs) []gesture.Change {
	modified := make(api.KVPairs, 0, len(pairs))
	for _, p := range pairs {
		key := strings.TrimPrefix(p.Key, s.prefix)
		if idx, ok := prev[key]; !ok || idx != p.ModifyIndex {
			modified = append(modified, p)
		}
	}
	sort.Slice(modified, func(i, j int) bool {
		return modified[i].ModifyIndex < modified[j].ModifyIndex
	})

	changes := make([]gesture.Change, 0, len(modified))
	for _, p := range modified {
		c := gesture.Change{Key: strings.TrimPrefix(p.Key, s.prefix)}
		c.Value, _ = strconv.ParseBool(string(p.Value))
		changes = append(changes, c)
	}

	var removed []string
	for key := range prev {
		if _, ok := next[key]; !ok {
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)
	for _, key := range removed {
		changes = append(changes, gesture.Change{Key: key, Deleted: true})
	}
	return changes
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	pair, _, err := s.kv.Get(s.prefix+key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if pair == nil {
		return "", false, nil
	}
	return string(pair.Value), true, nil
}

func (s *Store) put(ctx context.Context, key, value string) error {
	pair := &api.KVPair{Key: s.prefix + key, Value: []byte(value)}
	if _, err := s.kv.Put(pair, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

var (
	_ gesture.Store       = (*Store)(nil)
	_ gesture.SecureStore = (*Store)(nil)
	_ gesture.Writer      = (*Store)(nil)
)
