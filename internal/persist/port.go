// Package persist writes the in-memory dataset back to the cache port and the
// durable user-data sink on a debounce.
package persist

import (
	"context"
	"errors"
	"sync"
)

// Cache keys.
const (
	KeyCharacterMap = "characterMapData"
	KeyTimeline     = "timelineData"
)

var (
	ErrNotFound      = errors.New("persist: key not found")
	ErrQuotaExceeded = errors.New("persist: storage quota exceeded")
)

// Port is a named-key byte store standing in for browser storage.
type Port interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
	Clear(ctx context.Context, key string) error
}

// MemoryPort keeps values in process. A positive quota caps the total size
// of all stored values.
type MemoryPort struct {
	mu     sync.Mutex
	values map[string][]byte
	quota  int
}

func NewMemoryPort(quota int) *MemoryPort {
	return &MemoryPort{values: make(map[string][]byte), quota: quota}
}

func (p *MemoryPort) Read(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (p *MemoryPort) Write(_ context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quota > 0 {
		total := len(value)
		for k, v := range p.values {
			if k != key {
				total += len(v)
			}
		}
		if total > p.quota {
			return ErrQuotaExceeded
		}
	}
	p.values[key] = append([]byte(nil), value...)
	return nil
}

func (p *MemoryPort) Clear(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
	return nil
}
