package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/zoobzio/gesture"
	gtesting "github.com/zoobzio/gesture/testing"
)

func setupRedis(t *testing.T) *Store {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})
	t.Cleanup(func() {
		client.Close()
	})

	s := New(client)
	if err := s.EnableKeyspaceEvents(ctx); err != nil {
		t.Fatalf("EnableKeyspaceEvents() error = %v", err)
	}
	return s
}

func receive(t *testing.T, ch <-chan gesture.Change) gesture.Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for change")
	}
	return gesture.Change{}
}

func TestStore_ReadWrite(t *testing.T) {
	s := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, ok, err := s.Bool(ctx, gesture.PrefChopChop); err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	if err := s.SetBool(ctx, gesture.PrefChopChop, false); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	v, ok, err := s.Bool(ctx, gesture.PrefChopChop)
	if err != nil || !ok || v {
		t.Errorf("expected (false, true, nil), got (%v, %v, %v)", v, ok, err)
	}

	raw, err := s.client.Get(ctx, DefaultPrefix+gesture.PrefChopChop).Result()
	if err != nil || raw != "false" {
		t.Errorf("expected raw value \"false\", got %q (%v)", raw, err)
	}

	if err := s.SetInt(ctx, gesture.SecureDozeEnabled, 0); err != nil {
		t.Fatalf("SetInt() error = %v", err)
	}
	if gesture.IsDozeEnabled(ctx, s) {
		t.Error("expected doze disabled")
	}
}

func TestStore_Watch_EmitsOnChange(t *testing.T) {
	s := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := s.SetBool(ctx, gesture.PrefIRSilencer, true); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	c := receive(t, ch)
	if c != (gesture.Change{Key: gesture.PrefIRSilencer, Value: true}) {
		t.Errorf("unexpected change %+v", c)
	}

	if err := s.Delete(ctx, gesture.PrefIRSilencer); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	c = receive(t, ch)
	if c != (gesture.Change{Key: gesture.PrefIRSilencer, Deleted: true}) {
		t.Errorf("expected delete, got %+v", c)
	}
}

func TestStore_Watch_IgnoresOtherKeys(t *testing.T) {
	s := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := s.client.Set(ctx, "unrelated", "1", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetBool(ctx, gesture.PrefPickUp, false); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}

	c := receive(t, ch)
	if c.Key != gesture.PrefPickUp {
		t.Errorf("expected %s, got %+v", gesture.PrefPickUp, c)
	}
}

func TestStore_Watch_ClosesOnContextCancel(t *testing.T) {
	s := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestStore_WithSettings(t *testing.T) {
	s := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	notifier := &gtesting.CountingNotifier{}
	settings := gesture.New(s, s, notifier)
	if err := settings.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := s.SetBool(ctx, gesture.PrefFlipToMute, true); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	if !gtesting.WaitForFlag(t, settings, gesture.PrefFlipToMute, true, 5*time.Second) {
		t.Fatal("expected flip to mute enabled")
	}
	if !gtesting.WaitForNotifications(t, notifier, 1, time.Second) {
		t.Error("expected a notification")
	}
}

func TestStore_Watch_ReportsOtherWriteCommands(t *testing.T) {
	s := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := s.client.Incr(ctx, DefaultPrefix+"launch_count").Err(); err != nil {
		t.Fatalf("incr: %v", err)
	}
	c := receive(t, ch)
	if c.Key != "launch_count" || c.Deleted {
		t.Errorf("unexpected change after incr %+v", c)
	}

	if err := s.client.Append(ctx, DefaultPrefix+"ringtone", "chime").Err(); err != nil {
		t.Fatalf("append: %v", err)
	}
	c = receive(t, ch)
	if c.Key != "ringtone" || c.Deleted {
		t.Errorf("unexpected change after append %+v", c)
	}

	if err := s.client.Set(ctx, DefaultPrefix+gesture.PrefPickUp, "true", time.Minute).Err(); err != nil {
		t.Fatalf("set with ttl: %v", err)
	}
	c = receive(t, ch)
	if c != (gesture.Change{Key: gesture.PrefPickUp, Value: true}) {
		t.Errorf("unexpected change after set %+v", c)
	}

	if err := s.client.Rename(ctx, DefaultPrefix+gesture.PrefPickUp, DefaultPrefix+gesture.PrefIRWakeup).Err(); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got := map[string]gesture.Change{}
	for i := 0; i < 2; i++ {
		c = receive(t, ch)
		got[c.Key] = c
	}
	if !got[gesture.PrefPickUp].Deleted {
		t.Errorf("expected rename source reported deleted, got %+v", got[gesture.PrefPickUp])
	}
	if got[gesture.PrefIRWakeup] != (gesture.Change{Key: gesture.PrefIRWakeup, Value: true}) {
		t.Errorf("expected rename target reported, got %+v", got[gesture.PrefIRWakeup])
	}
}

func TestStore_WithSettings_ForwardsUntrackedKeys(t *testing.T) {
	s := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	notifier := &gtesting.CountingNotifier{}
	propagator := &gtesting.RecordingPropagator{}
	settings := gesture.New(s, s, notifier).Propagator(propagator)
	if err := settings.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := s.client.Set(ctx, DefaultPrefix+"unrelated_key", "foo", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !gtesting.WaitFor(t, 5*time.Second, func() bool { return len(propagator.Keys()) == 1 }) {
		t.Fatalf("expected unrelated_key forwarded, got %v", propagator.Keys())
	}
	if keys := propagator.Keys(); keys[0] != "unrelated_key" {
		t.Errorf("expected unrelated_key, got %v", keys)
	}
	if notifier.Count() != 0 {
		t.Errorf("expected no notification, got %d", notifier.Count())
	}
}
