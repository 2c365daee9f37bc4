// Package badger provides gesture stores backed by an embedded Badger
// database. Changes are observed with DB.Subscribe on the store's key prefix.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/zoobzio/gesture"
)

// DefaultPrefix namespaces preference keys within the database.
const DefaultPrefix = "gesture/"

// syncKey is written under the prefix by Watch to confirm the subscription is
// live. It is never reported as a change.
const syncKey = "\x00watch"

const syncInterval = 10 * time.Millisecond

// Store keeps preferences as "true"/"false" values and secure settings as
// decimal ints under a key prefix.
type Store struct {
	db     *badgerdb.DB
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

// New creates a Store over an open database. The caller owns db.
func New(db *badgerdb.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens a database at dir, or an in-memory one when dir is empty.
func Open(dir string) (*badgerdb.DB, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return db, nil
}

// Bool implements gesture.Store.
func (s *Store) Bool(_ context.Context, key string) (bool, bool, error) {
	raw, ok, err := s.get(key)
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
func (s *Store) Int(_ context.Context, key string) (int, bool, error) {
	raw, ok, err := s.get(key)
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
func (s *Store) SetBool(_ context.Context, key string, v bool) error {
	return s.set(key, strconv.FormatBool(v))
}

// SetInt stores an int setting.
func (s *Store) SetInt(_ context.Context, key string, v int) error {
	return s.set(key, strconv.Itoa(v))
}

// Delete implements gesture.Writer.
func (s *Store) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(s.key(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch subscribes to writes under the prefix and returns a channel that
// emits one Change per written key, in commit order. Watch returns only once
// the subscription is live: every write committed after it returns is
// reported.
func (s *Store) Watch(ctx context.Context) (<-chan gesture.Change, error) {
	ctx, cancel := context.WithCancel(ctx)

	out := make(chan gesture.Change)
	ready := make(chan struct{})
	errc := make(chan error, 1)
	marker := s.prefix + syncKey

	var synced atomic.Bool
	cb := func(list *badgerdb.KVList) error {
		for _, kv := range list.Kv {
			key := string(kv.Key)
			if key == marker {
				if !synced.Swap(true) {
					close(ready)
				}
				continue
			}
			// Writes ahead of the marker predate Watch returning.
			if !synced.Load() {
				continue
			}

			c := gesture.Change{Key: strings.TrimPrefix(key, s.prefix)}
			if len(kv.Value) == 0 {
				c.Deleted = true
			} else {
				c.Value, _ = strconv.ParseBool(string(kv.Value))
			}

			select {
			case out <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	go func() {
		defer close(out)
		defer cancel()
		errc <- s.db.Subscribe(ctx, cb, []pb.Match{{Prefix: []byte(s.prefix)}})
	}()

	if err := s.sync(ctx, marker, ready, errc); err != nil {
		cancel()
		return nil, err
	}

	return out, nil
}

// sync writes the marker until the subscription reports it, then removes it.
func (s *Store) sync(ctx context.Context, marker string, ready <-chan struct{}, errc <-chan error) error {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		if err := s.set(strings.TrimPrefix(marker, s.prefix), "1"); err != nil {
			return err
		}
		select {
		case <-ready:
			return s.Delete(ctx, strings.TrimPrefix(marker, s.prefix))
		case err := <-errc:
			if err == nil {
				err = errors.New("subscription ended")
			}
			return fmt.Errorf("failed to subscribe: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Store) key(key string) []byte {
	return []byte(s.prefix + key)
}

func (s *Store) get(key string) (string, bool, error) {
	var raw string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		raw = string(v)
		return nil
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return raw, true, nil
}

func (s *Store) set(key, value string) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(s.key(key), []byte(value))
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
