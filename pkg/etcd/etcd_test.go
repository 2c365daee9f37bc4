package etcd

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcetcd "github.com/testcontainers/testcontainers-go/modules/etcd"
	"github.com/zoobzio/gesture"
	gtesting "github.com/zoobzio/gesture/testing"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func setupEtcd(t *testing.T) *Store {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := tcetcd.Run(ctx, "gcr.io/etcd-development/etcd:v3.5.21")
	if err != nil {
		t.Fatalf("failed to start etcd container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ClientEndpoint(ctx)
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	return New(client)
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
	s := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
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

	resp, err := s.client.Get(ctx, DefaultPrefix+gesture.PrefChopChop)
	if err != nil || len(resp.Kvs) != 1 || string(resp.Kvs[0].Value) != "false" {
		t.Errorf("expected raw value \"false\", got %v (%v)", resp, err)
	}

	if err := s.SetInt(ctx, gesture.SecureDozeEnabled, 0); err != nil {
		t.Fatalf("SetInt() error = %v", err)
	}
	if gesture.IsDozeEnabled(ctx, s) {
		t.Error("expected doze disabled")
	}

	if _, err := s.client.Put(ctx, DefaultPrefix+gesture.PrefPickUp, "maybe"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, _, err := s.Bool(ctx, gesture.PrefPickUp); err == nil {
		t.Error("expected parse error for non-bool value")
	}
}

func TestStore_Watch_EmitsOnChange(t *testing.T) {
	s := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
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

func TestStore_Watch_ReportsEveryWriteInOrder(t *testing.T) {
	s := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writes := []bool{false, true, false}
	for _, v := range writes {
		if err := s.SetBool(ctx, gesture.PrefFlipToMute, v); err != nil {
			t.Fatalf("SetBool() error = %v", err)
		}
	}
	for i, want := range writes {
		c := receive(t, ch)
		if c != (gesture.Change{Key: gesture.PrefFlipToMute, Value: want}) {
			t.Errorf("write %d: unexpected change %+v", i, c)
		}
	}
}

func TestStore_Watch_IgnoresOtherKeys(t *testing.T) {
	s := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if _, err := s.client.Put(ctx, "/other/key", "1"); err != nil {
		t.Fatalf("put: %v", err)
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
	s := setupEtcd(t)
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
	s := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	notifier := &gtesting.CountingNotifier{}
	propagator := &gtesting.RecordingPropagator{}
	settings := gesture.New(s, s, notifier).Propagator(propagator)
	if err := settings.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := s.SetBool(ctx, gesture.PrefLiftToSilence, true); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	if !gtesting.WaitForFlag(t, settings, gesture.PrefLiftToSilence, true, 5*time.Second) {
		t.Fatal("expected lift to silence enabled")
	}
	if !gtesting.WaitForNotifications(t, notifier, 1, time.Second) {
		t.Error("expected a notification")
	}

	if _, err := s.client.Put(ctx, DefaultPrefix+"unrelated_key", "foo"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if !gtesting.WaitFor(t, 5*time.Second, func() bool { return len(propagator.Keys()) == 1 }) {
		t.Fatalf("expected unrelated_key forwarded, got %v", propagator.Keys())
	}
	if notifier.Count() != 1 {
		t.Errorf("expected untracked key not to notify, got %d notifications", notifier.Count())
	}
}
