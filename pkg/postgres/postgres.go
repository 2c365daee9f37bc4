// Package postgres provides gesture stores backed by a PostgreSQL table,
// observed through LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/gesture"
)

const (
	// DefaultTable holds one row per setting.
	DefaultTable = "gesture_preferences"

	// DefaultChannel is the notification channel the trigger publishes on.
	DefaultChannel = "gesture_preferences_changed"
)

// Store keeps each setting as a (key, value) text row. Preferences are stored
// as "true"/"false" and secure settings as decimal text.
//
// Watch requires a trigger that sends the changed key as the payload on the
// store's channel. Migrate creates the table and trigger:
//
//	CREATE TABLE gesture_preferences (key TEXT PRIMARY KEY, value TEXT NOT NULL);
//
//	CREATE FUNCTION gesture_preferences_notify() RETURNS trigger AS $$
//	BEGIN
//	    IF TG_OP = 'DELETE' THEN
//	        PERFORM pg_notify('gesture_preferences_changed', OLD.key);
//	    ELSE
//	        PERFORM pg_notify('gesture_preferences_changed', NEW.key);
//	    END IF;
//	    RETURN NULL;
//	END;
//	$$ LANGUAGE plpgsql;
//
//	CREATE TRIGGER gesture_preferences_notify
//	    AFTER INSERT OR UPDATE OR DELETE ON gesture_preferences
//	    FOR EACH ROW EXECUTE FUNCTION gesture_preferences_notify();
type Store struct {
	pool    *pgxpool.Pool
	table   string
	channel string
}

// Option configures a Store.
type Option func(*Store)

// WithTable sets the table name. Defaults to DefaultTable.
func WithTable(table string) Option {
	return func(s *Store) {
		s.table = table
	}
}

// WithChannel sets the notification channel. Defaults to DefaultChannel.
func WithChannel(channel string) Option {
	return func(s *Store) {
		s.channel = channel
	}
}

// New creates a Store over the given pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:    pool,
		table:   DefaultTable,
		channel: DefaultChannel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the table, notify function and trigger if needed.
func (s *Store) Migrate(ctx context.Context) error {
	table := pgx.Identifier{s.table}.Sanitize()
	fn := pgx.Identifier{s.table + "_notify"}.Sanitize()
	channel := "'" + strings.ReplaceAll(s.channel, "'", "''") + "'"

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE OR REPLACE FUNCTION %[2]s() RETURNS trigger AS $$
		BEGIN
			IF TG_OP = 'DELETE' THEN
				PERFORM pg_notify(%[3]s, OLD.key);
			ELSE
				PERFORM pg_notify(%[3]s, NEW.key);
			END IF;
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS %[2]s ON %[1]s;
		CREATE TRIGGER %[2]s
			AFTER INSERT OR UPDATE OR DELETE ON %[1]s
			FOR EACH ROW EXECUTE FUNCTION %[2]s();
	`, table, fn, channel))
	if err != nil {
		return fmt.Errorf("failed to migrate %s: %w", s.table, err)
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
	return s.set(ctx, key, strconv.FormatBool(v))
}

// SetInt stores an int setting.
func (s *Store) SetInt(ctx context.Context, key string, v int) error {
	return s.set(ctx, key, strconv.Itoa(v))
}

// Delete implements gesture.Writer.
func (s *Store) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", pgx.Identifier{s.table}.Sanitize())
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch listens on the store's channel and returns a channel that emits one
// Change per notified key. LISTEN is in effect before Watch returns.
func (s *Store) Watch(ctx context.Context) (<-chan gesture.Change, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	// Start listening
	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize())
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", s.channel, err)
	}

	out := make(chan gesture.Change)

	go func() {
		defer close(out)
		// The connection still holds the LISTEN; drop it rather than return it
		// to the pool.
		defer func() {
			_ = conn.Conn().Close(context.Background())
			conn.Release()
		}()

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if conn.Conn().IsClosed() {
					return
				}
				continue
			}

			key := notification.Payload
			v, found, err := s.Bool(ctx, key)
			if err != nil && ctx.Err() != nil {
				return
			}

			select {
			case out <- gesture.Change{Key: key, Value: v, Deleted: err == nil && !found}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	var raw string
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", pgx.Identifier{s.table}.Sanitize())
	err := s.pool.QueryRow(ctx, query, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return raw, true, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, pgx.Identifier{s.table}.Sanitize())
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

var (
	_ gesture.Store       = (*Store)(nil)
	_ gesture.SecureStore = (*Store)(nil)
	_ gesture.Writer      = (*Store)(nil)
)
