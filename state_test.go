package gesture

import "testing"

func TestState_String_Loading(t *testing.T) {
	if s := StateLoading.String(); s != "loading" {
		t.Errorf("expected 'loading', got %q", s)
	}
}

func TestState_String_Watching(t *testing.T) {
	if s := StateWatching.String(); s != "watching" {
		t.Errorf("expected 'watching', got %q", s)
	}
}

func TestState_String_Stopped(t *testing.T) {
	if s := StateStopped.String(); s != "stopped" {
		t.Errorf("expected 'stopped', got %q", s)
	}
}

func TestState_String_Unknown(t *testing.T) {
	unknown := State(999)
	if s := unknown.String(); s != "unknown" {
		t.Errorf("expected 'unknown', got %q", s)
	}
}

func TestState_Values(t *testing.T) {
	if StateLoading != 0 {
		t.Errorf("expected StateLoading=0, got %d", StateLoading)
	}
	if StateWatching != 1 {
		t.Errorf("expected StateWatching=1, got %d", StateWatching)
	}
	if StateStopped != 2 {
		t.Errorf("expected StateStopped=2, got %d", StateStopped)
	}
}
