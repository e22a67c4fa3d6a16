package identity

import (
	"errors"
	"testing"
)

func TestNew_EmptySalt(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrEmptySalt) {
		t.Fatalf("New(\"\") error = %v, want ErrEmptySalt", err)
	}
}

func TestObfuscate_Deterministic(t *testing.T) {
	o, err := New("test-salt")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	first := o.Obfuscate("user-42")
	second := o.Obfuscate("user-42")
	if first != second {
		t.Errorf("same input diverged: %q vs %q", first, second)
	}
	if first == "user-42" {
		t.Error("digest equals the raw input")
	}
	if first == "" {
		t.Error("digest is empty")
	}
}

func TestObfuscate_DistinctInputs(t *testing.T) {
	o, err := New("test-salt")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if o.Obfuscate("user-a") == o.Obfuscate("user-b") {
		t.Error("different inputs produced the same digest")
	}
}

func TestObfuscate_SaltChangesDigest(t *testing.T) {
	first, err := New("salt-one")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	second, err := New("salt-two")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if first.Obfuscate("user-42") == second.Obfuscate("user-42") {
		t.Error("different salts produced the same digest")
	}
}
