// Package kubernetes provides gesture stores backed by a ConfigMap for
// preferences and a Secret for secure settings, observed with the Watch API.
package kubernetes

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/zoobzio/gesture"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
)

// DefaultName names the ConfigMap and Secret when no other name is given.
const DefaultName = "gesture-preferences"

// resyncDelay spaces out reconnects after a failed resync.
const resyncDelay = time.Second

// Store keeps preferences as "true"/"false" entries of a ConfigMap and secure
// settings as decimal entries of a Secret. Both objects are created on first
// write.
type Store struct {
	client    kubernetes.Interface
	namespace string
	name      string
	secret    string
}

// Option configures a Store.
type Option func(*Store)

// WithName sets the ConfigMap name. Defaults to DefaultName.
func WithName(name string) Option {
	return func(s *Store) {
		s.name = name
	}
}

// WithSecret sets the Secret name. Defaults to DefaultName.
func WithSecret(name string) Option {
	return func(s *Store) {
		s.secret = name
	}
}

// New creates a Store in namespace.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Store {
	s := &Store{
		client:    client,
		namespace: namespace,
		name:      DefaultName,
		secret:    DefaultName,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bool implements gesture.Store.
func (s *Store) Bool(ctx context.Context, key string) (bool, bool, error) {
	data, _, err := s.data(ctx)
	if err != nil {
		return false, false, err
	}
	raw, ok := data[key]
	if !ok {
		return false, false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("key %s: %w", key, err)
	}
	return v, true, nil
}

// Int implements gesture.SecureStore.
func (s *Store) Int(ctx context.Context, key string) (int, bool, error) {
	secret, err := s.client.CoreV1().Secrets(s.namespace).Get(ctx, s.secret, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read secret %s: %w", s.secret, err)
	}
	raw, ok := secret.Data[key]
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, false, fmt.Errorf("key %s: %w", key, err)
	}
	return v, true, nil
}

// SetBool implements gesture.Writer.
func (s *Store) SetBool(ctx context.Context, key string, v bool) error {
	return s.update(ctx, func(data map[string]string) {
		data[key] = strconv.FormatBool(v)
	})
}

// Delete implements gesture.Writer.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.update(ctx, func(data map[string]string) {
		delete(data, key)
	})
}

// SetInt stores an int setting in the Secret.
func (s *Store) SetInt(ctx context.Context, key string, v int) error {
	secrets := s.client.CoreV1().Secrets(s.namespace)
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		secret, err := secrets.Get(ctx, s.secret, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			_, err = secrets.Create(ctx, &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{Name: s.secret, Namespace: s.namespace},
				Data:       map[string][]byte{key: []byte(strconv.Itoa(v))},
			}, metav1.CreateOptions{})
			return err
		}
		if err != nil {
			return err
		}
		secret = secret.DeepCopy()
		if secret.Data == nil {
			secret.Data = map[string][]byte{}
		}
		secret.Data[key] = []byte(strconv.Itoa(v))
		_, err = secrets.Update(ctx, secret, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Watch watches the ConfigMap and returns a channel that emits one Change per
// key whose entry was added, changed or removed after Watch returns. Entries
// are compared by value, so rewriting an entry unchanged is not reported.
// Deleting the ConfigMap removes every key. When the server ends the watch it
// is restarted, and anything changed in between is reported from a fresh read.
func (s *Store) Watch(ctx context.Context) (<-chan gesture.Change, error) {
	data, rv, err := s.data(ctx)
	if err != nil {
		return nil, err
	}
	w, err := s.watch(ctx, rv)
	if err != nil {
		return nil, err
	}

	out := make(chan gesture.Change)

	go func() {
		defer close(out)

		prev := data
		for {
			var ok bool
			prev, ok = s.forward(ctx, w, prev, out)
			w.Stop()
			if !ok || ctx.Err() != nil {
				return
			}

			// Watch ended; resync and start again
			for {
				next, rv, err := s.data(ctx)
				if err == nil {
					if !send(ctx, out, diff(prev, next)) {
						return
					}
					prev = next
					if w, err = s.watch(ctx, rv); err == nil {
						break
					}
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(resyncDelay):
				}
			}
		}
	}()

	return out, nil
}

// forward emits the changes carried by w until it ends. It returns the last
// data seen and false if the context ended first.
func (s *Store) forward(ctx context.Context, w watch.Interface, prev map[string]string, out chan<- gesture.Change) (map[string]string, bool) {
	for {
		select {
		case <-ctx.Done():
			return prev, false
		case event, ok := <-w.ResultChan():
			if !ok {
				return prev, true
			}

			var next map[string]string
			switch event.Type {
			case watch.Added, watch.Modified:
				cm, ok := event.Object.(*corev1.ConfigMap)
				if !ok {
					continue
				}
				next = cm.Data
			case watch.Deleted:
				next = nil
			case watch.Error:
				return prev, true
			default:
				continue
			}

			if !send(ctx, out, diff(prev, next)) {
				return prev, false
			}
			prev = next
		}
	}
}

func (s *Store) watch(ctx context.Context, rv string) (watch.Interface, error) {
	w, err := s.client.CoreV1().ConfigMaps(s.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector:   fields.OneTermEqualSelector("metadata.name", s.name).String(),
		ResourceVersion: rv,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start watch: %w", err)
	}
	return w, nil
}

// data returns the ConfigMap entries and resource version. A missing
// ConfigMap has no entries.
func (s *Store) data(ctx context.Context) (map[string]string, string, error) {
	cm, err := s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read configmap %s: %w", s.name, err)
	}
	return cm.Data, cm.ResourceVersion, nil
}

func (s *Store) update(ctx context.Context, fn func(map[string]string)) error {
	configMaps := s.client.CoreV1().ConfigMaps(s.namespace)
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		cm, err := configMaps.Get(ctx, s.name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			data := map[string]string{}
			fn(data)
			_, err = configMaps.Create(ctx, &corev1.ConfigMap{
				ObjectMeta: metav1.ObjectMeta{Name: s.name, Namespace: s.namespace},
				Data:       data,
			}, metav1.CreateOptions{})
			return err
		}
		if err != nil {
			return err
		}
		cm = cm.DeepCopy()
		if cm.Data == nil {
			cm.Data = map[string]string{}
		}
		fn(cm.Data)
		_, err = configMaps.Update(ctx, cm, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update configmap %s: %w", s.name, err)
	}
	return nil
}

// diff returns one change per entry that differs, in key order.
func diff(prev, next map[string]string) []gesture.Change {
	keys := make([]string, 0, len(prev)+len(next))
	for k := range next {
		keys = append(keys, k)
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var changes []gesture.Change
	for _, k := range keys {
		old, had := prev[k]
		cur, has := next[k]
		switch {
		case !has:
			changes = append(changes, gesture.Change{Key: k, Deleted: true})
		case !had || old != cur:
			v, _ := strconv.ParseBool(cur)
			changes = append(changes, gesture.Change{Key: k, Value: v})
		}
	}
	return changes
}

func send(ctx context.Context, out chan<- gesture.Change, changes []gesture.Change) bool {
	for _, c := range changes {
		select {
		case out <- c:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

var (
	_ gesture.Store       = (*Store)(nil)
	_ gesture.SecureStore = (*Store)(nil)
	_ gesture.Writer      = (*Store)(nil)
)
