package api

import (
	"path/filepath"
	"testing"
)

func TestLoadRegisterStateMissingFileIsUnregistered(t *testing.T) {
	state, err := LoadRegisterState(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("LoadRegisterState: %v", err)
	}
	if state.Registered {
		t.Error("expected a missing file to yield an unregistered state")
	}
}

func TestSaveAndLoadRegisterStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "register.json")
	want := &RegisterState{
		AuthToken:  "tok",
		NodeID:     "vmark-node-test",
		VmarkID:    "vmark-1",
		ListenIP:   "10.0.0.5",
		Port:       9000,
		Registered: true,
	}
	if err := SaveRegisterState(path, want); err != nil {
		t.Fatalf("SaveRegisterState: %v", err)
	}

	got, err := LoadRegisterState(path)
	if err != nil {
		t.Fatalf("LoadRegisterState: %v", err)
	}
	if *got != *want {
		t.Errorf("got %+v, want %+v", *got, *want)
	}
}

func TestNewAuthTokenAndPINAreNonEmpty(t *testing.T) {
	token, err := NewAuthToken()
	if err != nil {
		t.Fatalf("NewAuthToken: %v", err)
	}
	if len(token) < 32 {
		t.Errorf("expected a long token, got %q", token)
	}

	pin, err := NewPIN()
	if err != nil {
		t.Fatalf("NewPIN: %v", err)
	}
	if len(pin) != 4 {
		t.Errorf("expected a 4-digit PIN, got %q", pin)
	}
}
