// Package file provides gesture stores backed by a JSON or YAML document on
// disk. Changes are observed with fsnotify and reported per key.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/zoobzio/gesture"
)

// Store reads and writes preferences held in a single flat document, for
// example:
//
//	{"gesture_chop_chop": true, "gesture_ir_silencer": false}
//
// The same type serves as a SecureStore for int settings such as doze_enabled.
// A missing file is an empty document.
type Store struct {
	path  string
	codec gesture.Codec
	perm  os.FileMode

	// mu serializes read-modify-write cycles from this process.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithCodec overrides the codec chosen from the file extension.
func WithCodec(c gesture.Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

// WithPerm sets the permissions used when the document is written.
// Defaults to 0600.
func WithPerm(perm os.FileMode) Option {
	return func(s *Store) {
		s.perm = perm
	}
}

// New creates a Store for the document at path.
func New(path string, opts ...Option) *Store {
	path = filepath.Clean(path)
	s := &Store{
		path:  path,
		codec: gesture.CodecFor(path),
		perm:  0o600,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// Bool implements gesture.Store.
func (s *Store) Bool(_ context.Context, key string) (bool, bool, error) {
	doc, err := s.read()
	if err != nil {
		return false, false, err
	}
	raw, ok := doc[key]
	if !ok {
		return false, false, nil
	}
	v, err := asBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("key %s: %w", key, err)
	}
	return v, true, nil
}

// Int implements gesture.SecureStore.
func (s *Store) Int(_ context.Context, key string) (int, bool, error) {
	doc, err := s.read()
	if err != nil {
		return 0, false, err
	}
	raw, ok := doc[key]
	if !ok {
		return 0, false, nil
	}
	v, err := asInt(raw)
	if err != nil {
		return 0, false, fmt.Errorf("key %s: %w", key, err)
	}
	return v, true, nil
}

// SetBool implements gesture.Writer.
func (s *Store) SetBool(_ context.Context, key string, v bool) error {
	return s.update(func(doc map[string]any) { doc[key] = v })
}

// SetInt stores an int setting.
func (s *Store) SetInt(_ context.Context, key string, v int) error {
	return s.update(func(doc map[string]any) { doc[key] = v })
}

// Delete implements gesture.Writer.
func (s *Store) Delete(_ context.Context, key string) error {
	return s.update(func(doc map[string]any) { delete(doc, key) })
}

// Watch begins watching the document and returns a channel that emits one
// Change per key whose value differs between successive versions of the
// document. Keys within one version are emitted in sorted order.
//
// The parent directory is watched rather than the file, so documents replaced
// by rename, as this Store writes them, are still followed.
func (s *Store) Watch(ctx context.Context) (<-chan gesture.Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.path, err)
	}

	snapshot, err := s.read()
	if err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan gesture.Change)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != s.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}

				doc, ok := s.readForWatch()
				if !ok {
					continue
				}
				changes := diff(snapshot, doc)
				snapshot = doc

				for _, c := range changes {
					select {
					case out <- c:
					case <-ctx.Done():
						return
					}
				}

			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Continue watching despite errors
			}
		}
	}()

	return out, nil
}

// readForWatch reads the document for the watch loop. A zero-length file is a
// write in progress and is skipped, as is a document that does not decode.
func (s *Store) readForWatch() (map[string]any, bool) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, true
	}
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return nil, false
	}
	doc, err := s.decode(data)
	if err != nil {
		return nil, false
	}
	return doc, true
}

func (s *Store) read() (map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return s.decode(data)
}

func (s *Store) decode(data []byte) (map[string]any, error) {
	doc := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := s.codec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// update applies fn to the current document and replaces the file atomically.
func (s *Store) update(fn func(map[string]any)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	fn(doc)

	data, err := s.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Chmod(name, s.perm); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to chmod %s: %w", name, err)
	}
	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// diff returns the per-key changes between two versions of a document.
func diff(old, cur map[string]any) []gesture.Change {
	keys := make([]string, 0, len(old)+len(cur))
	for k := range cur {
		keys = append(keys, k)
	}
	for k := range old {
		if _, ok := cur[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var changes []gesture.Change
	for _, k := range keys {
		prev, had := old[k]
		next, has := cur[k]
		switch {
		case !has:
			changes = append(changes, gesture.Change{Key: k, Deleted: true})
		case !had || !reflect.DeepEqual(prev, next):
			v, _ := asBool(next)
			changes = append(changes, gesture.Change{Key: k, Value: v})
		}
	}
	return changes
}

func asBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("not a bool: %q", v)
		}
		return b, nil
	default:
		n, err := asInt(raw)
		if err != nil {
			return false, fmt.Errorf("not a bool: %v", raw)
		}
		return n != 0, nil
	}
}

func asInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("not an int: %v", v)
		}
		return int(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("not an int: %q", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}

var (
	_ gesture.Store       = (*Store)(nil)
	_ gesture.SecureStore = (*Store)(nil)
	_ gesture.Writer      = (*Store)(nil)
)
