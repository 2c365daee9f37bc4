package gesture

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func TestMemoryStore_ReadsInitialValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(map[string]bool{PrefIRSilencer: true})

	v, ok, err := store.Bool(ctx, PrefIRSilencer)
	if err != nil || !ok || !v {
		t.Errorf("expected true/found, got %v/%v (err %v)", v, ok, err)
	}

	if _, ok, _ := store.Bool(ctx, PrefPickUp); ok {
		t.Error("expected unwritten key to be absent")
	}
}

func TestMemoryStore_CopiesInitialMap(t *testing.T) {
	initial := map[string]bool{PrefChopChop: false}
	store := NewMemoryStore(initial)
	initial[PrefChopChop] = true

	if v, _, _ := store.Bool(context.Background(), PrefChopChop); v {
		t.Error("expected store to be isolated from caller's map")
	}
}

func TestMemoryStore_DeliversWritesInOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	store := NewMemoryStore(nil)
	changes, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	_ = store.SetBool(ctx, PrefPickUp, false)
	_ = store.SetBool(ctx, "unrelated_key", true)
	_ = store.Delete(ctx, PrefPickUp)

	expected := []Change{
		{Key: PrefPickUp, Value: false},
		{Key: "unrelated_key", Value: true},
		{Key: PrefPickUp, Deleted: true},
	}
	for i, want := range expected {
		select {
		case got := <-changes:
			if got != want {
				t.Errorf("change %d: expected %+v, got %+v", i, want, got)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for change %d", i)
		}
	}
}

func TestMemoryStore_FansOutToEverySubscriber(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	store := NewMemoryStore(nil)
	a, _ := store.Watch(ctx)
	b, _ := store.Watch(ctx)

	_ = store.SetBool(ctx, PrefFlipToMute, true)

	for i, ch := range []<-chan Change{a, b} {
		select {
		case got := <-ch:
			if got.Key != PrefFlipToMute {
				t.Errorf("subscriber %d: unexpected key %q", i, got.Key)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout", i)
		}
	}
}

func TestMemoryStore_ClosesOnContextCancel(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())

	changes, _ := store.Watch(ctx)
	cancel()

	select {
	case _, ok := <-changes:
		if ok {
			t.Error("expected channel to be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for channel close")
	}

	// Writes after unsubscribe must not block or panic.
	_ = store.SetBool(context.Background(), PrefChopChop, false)
}

func TestMemoryStore_Close(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	changes, _ := store.Watch(ctx)
	store.Close()

	if _, ok := <-changes; ok {
		t.Error("expected channel to be closed")
	}

	late, _ := store.Watch(ctx)
	if _, ok := <-late; ok {
		t.Error("expected watch after close to return a closed channel")
	}
}

func TestMemoryStore_CloseReleasesWatchers(t *testing.T) {
	store := NewMemoryStore(nil)
	baseline := runtime.NumGoroutine()

	// Contexts that are never canceled.
	for i := 0; i < 8; i++ {
		if _, err := store.Watch(context.Background()); err != nil {
			t.Fatalf("Watch() error = %v", err)
		}
	}
	if runtime.NumGoroutine() < baseline+8 {
		t.Fatalf("expected a cleanup goroutine per watcher")
	}

	store.Close()
	store.Close()

	if !waitFor(t, time.Second, func() bool { return runtime.NumGoroutine() <= baseline }) {
		t.Errorf("expected watcher goroutines to exit after Close, have %d want <= %d", runtime.NumGoroutine(), baseline)
	}
}

func TestMemorySecureStore(t *testing.T) {
	ctx := context.Background()
	secure := NewMemorySecureStore(map[string]int{SecureDozeEnabled: 0})

	if v, ok, _ := secure.Int(ctx, SecureDozeEnabled); !ok || v != 0 {
		t.Errorf("expected 0/found, got %d/%v", v, ok)
	}

	secure.SetInt(SecureDozeEnabled, 1)
	if v, _, _ := secure.Int(ctx, SecureDozeEnabled); v != 1 {
		t.Errorf("expected 1, got %d", v)
	}

	secure.Delete(SecureDozeEnabled)
	if _, ok, _ := secure.Int(ctx, SecureDozeEnabled); ok {
		t.Error("expected key to be deleted")
	}
}
