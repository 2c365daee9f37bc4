package kubernetes

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/gesture"
	gtesting "github.com/zoobzio/gesture/testing"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

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

func configMap(data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: DefaultName, Namespace: "default"},
		Data:       data,
	}
}

func TestStore_ReadWrite(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	s := New(client, "default")

	if _, ok, err := s.Bool(ctx, gesture.PrefChopChop); err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	if err := s.SetBool(ctx, gesture.PrefChopChop, false); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	if err := s.SetBool(ctx, gesture.PrefPickUp, true); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	v, ok, err := s.Bool(ctx, gesture.PrefChopChop)
	if err != nil || !ok || v {
		t.Errorf("expected (false, true, nil), got (%v, %v, %v)", v, ok, err)
	}

	cm, err := client.CoreV1().ConfigMaps("default").Get(ctx, DefaultName, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cm.Data[gesture.PrefChopChop] != "false" || cm.Data[gesture.PrefPickUp] != "true" {
		t.Errorf("unexpected configmap data %v", cm.Data)
	}

	if err := s.Delete(ctx, gesture.PrefChopChop); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := s.Bool(ctx, gesture.PrefChopChop); ok {
		t.Error("expected key removed")
	}
}

func TestStore_Int(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	s := New(client, "default", WithSecret("gesture-secure"))

	if !gesture.IsDozeEnabled(ctx, s) {
		t.Error("expected doze enabled without a secret")
	}

	if err := s.SetInt(ctx, gesture.SecureDozeEnabled, 0); err != nil {
		t.Fatalf("SetInt() error = %v", err)
	}
	if gesture.IsDozeEnabled(ctx, s) {
		t.Error("expected doze disabled")
	}

	secret, err := client.CoreV1().Secrets("default").Get(ctx, "gesture-secure", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(secret.Data[gesture.SecureDozeEnabled]) != "0" {
		t.Errorf("expected raw value 0, got %q", secret.Data[gesture.SecureDozeEnabled])
	}
}

func TestStore_ParseError(t *testing.T) {
	ctx := context.Background()
	s := New(fake.NewSimpleClientset(configMap(map[string]string{gesture.PrefIRWakeup: "maybe"})), "default")

	if _, _, err := s.Bool(ctx, gesture.PrefIRWakeup); err == nil {
		t.Error("expected parse error")
	}
}

func TestStore_Watch_EmitsOnChange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := New(fake.NewSimpleClientset(configMap(map[string]string{gesture.PrefPickUp: "true"})), "default")

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

	if err := s.client.CoreV1().ConfigMaps("default").Delete(ctx, DefaultName, metav1.DeleteOptions{}); err != nil {
		t.Fatalf("delete configmap: %v", err)
	}
	c = receive(t, ch)
	if c != (gesture.Change{Key: gesture.PrefPickUp, Deleted: true}) {
		t.Errorf("expected remaining key deleted with the configmap, got %+v", c)
	}
}

func TestStore_Watch_ResyncsAfterWatchEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset()
	first := watch.NewFake()
	var calls atomic.Int32
	client.PrependWatchReactor("configmaps", func(k8stesting.Action) (bool, watch.Interface, error) {
		if calls.Add(1) == 1 {
			return true, first, nil
		}
		return false, nil, nil
	})
	s := New(client, "default")

	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	go first.Modify(configMap(map[string]string{gesture.PrefChopChop: "false"}))
	c := receive(t, ch)
	if c != (gesture.Change{Key: gesture.PrefChopChop}) {
		t.Errorf("unexpected change %+v", c)
	}

	// Written while the first watch is still open but not seen by it.
	if err := s.SetBool(ctx, gesture.PrefFlipToMute, true); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	first.Stop()

	c = receive(t, ch)
	if c != (gesture.Change{Key: gesture.PrefChopChop, Deleted: true}) {
		t.Errorf("expected resync to report the missing key, got %+v", c)
	}
	c = receive(t, ch)
	if c != (gesture.Change{Key: gesture.PrefFlipToMute, Value: true}) {
		t.Errorf("expected resync to report the new key, got %+v", c)
	}

	if err := s.SetBool(ctx, gesture.PrefLiftToSilence, true); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	c = receive(t, ch)
	if c != (gesture.Change{Key: gesture.PrefLiftToSilence, Value: true}) {
		t.Errorf("expected change from the restarted watch, got %+v", c)
	}
}

func TestStore_Watch_ClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(fake.NewSimpleClientset(), "default")

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

func TestDiff(t *testing.T) {
	prev := map[string]string{
		gesture.PrefChopChop:   "true",
		gesture.PrefPickUp:     "true",
		gesture.PrefIRSilencer: "true",
	}
	next := map[string]string{
		gesture.PrefChopChop: "false",
		gesture.PrefPickUp:   "true",
		"unrelated_key":      "foo",
	}

	got := diff(prev, next)
	want := []gesture.Change{
		{Key: gesture.PrefChopChop},
		{Key: gesture.PrefIRSilencer, Deleted: true},
		{Key: "unrelated_key"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d changes, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestStore_WithSettings(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := New(fake.NewSimpleClientset(), "default")
	notifier := &gtesting.CountingNotifier{}
	propagator := &gtesting.RecordingPropagator{}
	settings := gesture.New(s, s, notifier).Propagator(propagator)
	if err := settings.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := s.SetBool(ctx, gesture.PrefFlipToMute, true); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}
	if !gtesting.WaitForFlag(t, settings, gesture.PrefFlipToMute, true, 5*time.Second) {
		t.Fatal("expected flip to mute enabled")
	}

	if err := s.update(ctx, func(data map[string]string) { data["unrelated_key"] = "foo" }); err != nil {
		t.Fatalf("update() error = %v", err)
	}
	if !gtesting.WaitFor(t, 5*time.Second, func() bool { return len(propagator.Keys()) == 1 }) {
		t.Fatalf("expected unrelated_key forwarded, got %v", propagator.Keys())
	}
	if notifier.Count() != 1 {
		t.Errorf("expected one notification, got %d", notifier.Count())
	}
}
