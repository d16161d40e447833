package app

import (
	"sync"
	"time"
)

// Warning is a user-facing notice raised outside any request, such as a
// full cache.
type Warning struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Warnings keeps the most recent notices.
type Warnings struct {
	mu    sync.Mutex
	items []Warning
	size  int
	now   func() time.Time
}

func NewWarnings(size int) *Warnings {
	if size <= 0 {
		size = 20
	}
	return &Warnings{size: size, now: time.Now}
}

func (w *Warnings) Add(message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, Warning{Message: message, At: w.now()})
	if over := len(w.items) - w.size; over > 0 {
		w.items = append([]Warning(nil), w.items[over:]...)
	}
}

// List returns the notices oldest first.
func (w *Warnings) List() []Warning {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Warning{}, w.items...)
}
