package persist

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T, maxBytes int) (*RedisPort, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	port, err := NewRedisPort("redis://"+s.Addr(), maxBytes)
	if err != nil {
		t.Fatalf("failed to create redis port: %v", err)
	}
	t.Cleanup(func() { _ = port.Close() })
	return port, s
}

func TestNewRedisPort(t *testing.T) {
	port, _ := setupTestRedis(t, 0)
	if err := port.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRedisPortRoundTrip(t *testing.T) {
	port, s := setupTestRedis(t, 0)
	ctx := context.Background()

	if err := port.Write(ctx, KeyCharacterMap, []byte(`{"characters":[]}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !s.Exists("charmap:" + KeyCharacterMap) {
		t.Fatalf("expected prefixed key in redis")
	}

	got, err := port.Read(ctx, KeyCharacterMap)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != `{"characters":[]}` {
		t.Errorf("unexpected value %q", got)
	}

	if err := port.Clear(ctx, KeyCharacterMap); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := port.Read(ctx, KeyCharacterMap); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestRedisPortMissingKey(t *testing.T) {
	port, _ := setupTestRedis(t, 0)
	if _, err := port.Read(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisPortQuota(t *testing.T) {
	port, s := setupTestRedis(t, 16)
	err := port.Write(context.Background(), KeyCharacterMap, []byte(strings.Repeat("x", 17)))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if s.Exists("charmap:" + KeyCharacterMap) {
		t.Errorf("oversized value must not be stored")
	}
}

func TestMemoryPortQuotaCountsOtherKeys(t *testing.T) {
	port := NewMemoryPort(10)
	ctx := context.Background()
	if err := port.Write(ctx, "a", []byte("12345")); err != nil {
		t.Fatalf("Write a failed: %v", err)
	}
	if err := port.Write(ctx, "b", []byte("123456")); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	// Overwriting a key only counts its new size.
	if err := port.Write(ctx, "a", []byte("1234567890")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
}
