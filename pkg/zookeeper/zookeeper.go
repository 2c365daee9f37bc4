// Package zookeeper provides gesture stores backed by ZooKeeper znodes, one
// child of a root node per setting, observed with child and data watches.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/zoobzio/gesture"
)

// DefaultRoot is the parent node of the setting nodes.
const DefaultRoot = "/gesture"

// Store keeps preferences as "true"/"false" node data and secure settings as
// decimal node data under a root node.
type Store struct {
	conn *zk.Conn
	root string
}

// Option configures a Store.
type Option func(*Store)

// WithRoot sets the root node. Defaults to DefaultRoot.
func WithRoot(root string) Option {
	return func(s *Store) {
		s.root = path.Clean(root)
	}
}

// New creates a Store for the given connection.
func New(conn *zk.Conn, opts ...Option) *Store {
	s := &Store{
		conn: conn,
		root: DefaultRoot,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
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
	return s.put(key, strconv.FormatBool(v))
}

// SetInt stores an int setting.
func (s *Store) SetInt(_ context.Context, key string, v int) error {
	return s.put(key, strconv.Itoa(v))
}

// Delete implements gesture.Writer.
func (s *Store) Delete(_ context.Context, key string) error {
	err := s.conn.Delete(s.node(key), -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch arms a child watch on the root and a data watch on every setting node,
// then returns a channel that emits one Change per node created, changed or
// deleted after Watch returns. Watches are one-shot and re-armed as they fire,
// so several writes to one node between a fire and its re-arm are reported
// once, with the latest value.
func (s *Store) Watch(ctx context.Context) (<-chan gesture.Change, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}

	events := make(chan zk.Event)
	relay := func(ch <-chan zk.Event) {
		go func() {
			select {
			case e, ok := <-ch:
				if !ok {
					return
				}
				select {
				case events <- e:
				case <-ctx.Done():
				}
			case <-ctx.Done():
			}
		}()
	}

	children, _, childCh, err := s.conn.ChildrenW(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", s.root, err)
	}
	relay(childCh)

	known := make(map[string]bool, len(children))
	for _, key := range children {
		_, _, dataCh, err := s.conn.GetW(s.node(key))
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to watch %s: %w", key, err)
		}
		relay(dataCh)
		known[key] = true
	}

	out := make(chan gesture.Change)

	go func() {
		defer close(out)

		for {
			var e zk.Event
			select {
			case <-ctx.Done():
				return
			case e = <-events:
			}

			if e.Type == zk.EventNotWatching {
				return
			}

			var changes []gesture.Change
			if e.Path == s.root {
				// Re-arm and pick up nodes created since the last listing
				children, _, childCh, err := s.conn.ChildrenW(s.root)
				if err != nil {
					return
				}
				relay(childCh)

				sort.Strings(children)
				for _, key := range children {
					if known[key] {
						continue
					}
					c, ch, ok := s.read(key)
					if !ok {
						continue
					}
					relay(ch)
					known[key] = true
					changes = append(changes, c)
				}
			} else {
				key := strings.TrimPrefix(e.Path, s.root+"/")
				if e.Type == zk.EventNodeDeleted {
					delete(known, key)
					changes = append(changes, gesture.Change{Key: key, Deleted: true})
				} else if c, ch, ok := s.read(key); ok {
					relay(ch)
					changes = append(changes, c)
				} else {
					delete(known, key)
					changes = append(changes, gesture.Change{Key: key, Deleted: true})
				}
			}

			for _, c := range changes {
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

// read returns the change for key's current data and re-arms its data watch.
// ok is false if the node is gone.
func (s *Store) read(key string) (gesture.Change, <-chan zk.Event, bool) {
	data, _, ch, err := s.conn.GetW(s.node(key))
	if err != nil {
		return gesture.Change{}, nil, false
	}
	c := gesture.Change{Key: key}
	c.Value, _ = strconv.ParseBool(string(data))
	return c, ch, true
}

func (s *Store) get(key string) (string, bool, error) {
	data, _, err := s.conn.Get(s.node(key))
	if errors.Is(err, zk.ErrNoNode) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(data), true, nil
}

func (s *Store) put(key, value string) error {
	node := s.node(key)
	for {
		_, err := s.conn.Set(node, []byte(value), -1)
		if err == nil {
			return nil
		}
		if !errors.Is(err, zk.ErrNoNode) {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}

		if err := s.ensureRoot(); err != nil {
			return err
		}
		_, err = s.conn.Create(node, []byte(value), 0, zk.WorldACL(zk.PermAll))
		if err == nil {
			return nil
		}
		// Created concurrently; set it instead
		if !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}
}

// ensureRoot creates the root node and its parents if they are missing.
func (s *Store) ensureRoot() error {
	node := ""
	for _, part := range strings.Split(strings.Trim(s.root, "/"), "/") {
		node += "/" + part
		_, err := s.conn.Create(node, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create %s: %w", node, err)
		}
	}
	return nil
}

func (s *Store) node(key string) string {
	return s.root + "/" + key
}

var (
	_ gesture.Store       = (*Store)(nil)
	_ gesture.SecureStore = (*Store)(nil)
	_ gesture.Writer      = (*Store)(nil)
)
