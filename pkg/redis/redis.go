// Package redis provides gesture stores backed by Redis strings, observed
// through keyspace notifications.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/gesture"
)

// DefaultPrefix namespaces preference keys within the Redis database.
const DefaultPrefix = "gesture:"

// removals are keyspace events after which the key no longer holds a value.
var removals = map[string]bool{
	"del":         true,
	"unlink":      true,
	"expired":     true,
	"evicted":     true,
	"getdel":      true,
	"rename_from": true,
	"move_from":   true,
}

// metadata are keyspace events that leave the value untouched.
var metadata = map[string]bool{
	"expire":  true,
	"persist": true,
	"new":     true,
}

// Store keeps preferences as "true"/"false" strings and secure settings as
// decimal strings under a key prefix.
//
// Watch requires Redis to have keyspace notifications enabled:
//
//	CONFIG SET notify-keyspace-events KEA
//
// Or in redis.conf:
//
//	notify-keyspace-events KEA
//
// EnableKeyspaceEvents does the former.
type Store struct {
	client *redis.Client
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
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnableKeyspaceEvents turns on the keyspace notifications Watch relies on.
func (s *Store) EnableKeyspaceEvents(ctx context.Context) error {
	if err := s.client.ConfigSet(ctx, "notify-keyspace-events", "KEA").Err(); err != nil {
		return fmt.Errorf("failed to enable keyspace notifications: %w", err)
	}
	return nil
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
	if err := s.client.Set(ctx, s.prefix+key, strconv.FormatBool(v), 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// SetInt stores an int setting.
func (s *Store) SetInt(ctx context.Context, key string, v int) error {
	if err := s.client.Set(ctx, s.prefix+key, strconv.Itoa(v), 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete implements gesture.Writer.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch subscribes to keyspace notifications for the prefix and returns a
// channel that emits one Change per write or removal. Any event that changes
// a value is reported, whatever command caused it; Value is filled when the
// new value parses as a bool. The subscription is
// confirmed before Watch returns.
func (s *Store) Watch(ctx context.Context) (<-chan gesture.Change, error) {
	channelPrefix := fmt.Sprintf("__keyspace@%d__:", s.client.Options().DB)
	pubsub := s.client.PSubscribe(ctx, channelPrefix+s.prefix+"*")

	// Verify subscription worked
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace notifications: %w", err)
	}

	out := make(chan gesture.Change)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				key := strings.TrimPrefix(msg.Channel, channelPrefix+s.prefix)
				c := gesture.Change{Key: key}
				switch {
				case removals[msg.Payload]:
					c.Deleted = true
				case metadata[msg.Payload]:
					continue
				default:
					// Value is best effort; keys holding non-bool values
					// are still reported.
					v, found, err := s.Bool(ctx, key)
					if err == nil {
						c.Value, c.Deleted = v, !found
					}
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
	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return raw, true, nil
}

var (
	_ gesture.Store       = (*Store)(nil)
	_ gesture.SecureStore = (*Store)(nil)
	_ gesture.Writer      = (*Store)(nil)
)
