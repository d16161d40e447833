package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFilePortRoundTripAcrossInstances(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	ctx := context.Background()

	if _, err := NewFilePort(dir, 0).Read(ctx, KeyCharacterMap); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any write, got %v", err)
	}
	if err := NewFilePort(dir, 0).Write(ctx, KeyCharacterMap, []byte(`{"characters":[]}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := NewFilePort(dir, 0).Read(ctx, KeyCharacterMap)
	if err != nil {
		t.Fatalf("Read from a fresh port failed: %v", err)
	}
	if string(got) != `{"characters":[]}` {
		t.Errorf("unexpected value %q", got)
	}

	port := NewFilePort(dir, 0)
	if err := port.Clear(ctx, KeyCharacterMap); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := port.Clear(ctx, KeyCharacterMap); err != nil {
		t.Fatalf("Clear of a missing key failed: %v", err)
	}
	if _, err := port.Read(ctx, KeyCharacterMap); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestFilePortQuotaCountsOtherKeys(t *testing.T) {
	dir := t.TempDir()
	port := NewFilePort(dir, 10)
	ctx := context.Background()
	if err := port.Write(ctx, "a", []byte("12345")); err != nil {
		t.Fatalf("Write a failed: %v", err)
	}
	if err := port.Write(ctx, "b", []byte("123456")); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("oversized value must not be stored")
	}
	if err := port.Write(ctx, "a", []byte("1234567890")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
}

func TestFilePortRejectsPathKeys(t *testing.T) {
	port := NewFilePort(t.TempDir(), 0)
	for _, key := range []string{"", "../x", "a/b", ".hidden"} {
		if err := port.Write(context.Background(), key, []byte("1")); err == nil {
			t.Errorf("key %q: expected error", key)
		}
	}
}
