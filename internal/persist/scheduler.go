package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const writeTimeout = 30 * time.Second

type Options struct {
	// Delay is the debounce window.
	Delay time.Duration
	// QuotaWarnInterval is the minimum gap between two quota warnings.
	QuotaWarnInterval time.Duration
	// CanWriteDurable enables the durable sink; without it the scheduler
	// only writes the cache.
	CanWriteDurable bool
	// Warn receives user-facing warnings. Optional.
	Warn func(message string)
}

// Scheduler debounces snapshots: only the last one scheduled inside the
// delay window is written.
type Scheduler struct {
	logger *zap.Logger
	cache  Port
	sink   DurableSink
	opts   Options
	now    func() time.Time

	mu            sync.Mutex
	timer         *time.Timer
	generation    uint64
	pending       *Snapshot
	lastQuotaWarn time.Time
	closed        bool

	writeMu  sync.Mutex
	inflight sync.WaitGroup
}

func NewScheduler(logger *zap.Logger, cache Port, sink DurableSink, opts Options) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	if opts.QuotaWarnInterval <= 0 {
		opts.QuotaWarnInterval = 5 * time.Second
	}
	return &Scheduler{
		logger: logger,
		cache:  cache,
		sink:   sink,
		opts:   opts,
		now:    time.Now,
	}
}

// CanWriteDurable reports whether writes reach the durable sink.
func (s *Scheduler) CanWriteDurable() bool {
	return s.opts.CanWriteDurable && s.sink != nil
}

// Schedule replaces the pending snapshot and restarts the debounce timer.
func (s *Scheduler) Schedule(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = &snap
	s.generation++
	gen := s.generation
	if s.timer != nil && s.timer.Stop() {
		s.inflight.Done()
	}
	s.inflight.Add(1)
	s.timer = time.AfterFunc(s.opts.Delay, func() {
		defer s.inflight.Done()
		s.fire(gen)
	})
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.pending == nil {
		s.mu.Unlock()
		return
	}
	snap := *s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_ = s.Write(ctx, snap)
}

// Flush writes the pending snapshot now, if there is one.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	snap := s.pending
	s.pending = nil
	s.generation++
	if s.timer != nil {
		if s.timer.Stop() {
			// The callback will never run; release its slot.
			s.inflight.Done()
		}
		s.timer = nil
	}
	s.mu.Unlock()

	if snap == nil {
		return nil
	}
	return s.Write(ctx, *snap)
}

// Close flushes, stops accepting snapshots and waits for running writes.
func (s *Scheduler) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
	return err
}

// Write performs one persistence cycle. Cache and durable failures are
// logged; the returned error joins them for callers that care.
func (s *Scheduler) Write(ctx context.Context, snap Snapshot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var errs []error
	if err := s.writeCache(ctx, snap); err != nil {
		errs = append(errs, err)
	}

	if s.CanWriteDurable() {
		if err := s.sink.Save(ctx, BuildUserPayload(snap)); err != nil {
			s.logger.Warn("durable save failed; will retry on next change", zap.Error(err))
			errs = append(errs, fmt.Errorf("durable sink: %w", err))
		} else {
			s.logger.Debug("durable save complete",
				zap.Int("relationships", len(snap.Dataset.Relationships)),
				zap.Int("images", len(snap.Dataset.CharacterImages)),
			)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) writeCache(ctx context.Context, snap Snapshot) error {
	if s.cache == nil {
		return nil
	}
	doc, err := json.Marshal(CacheDocument(snap))
	if err != nil {
		return fmt.Errorf("marshal cache document: %w", err)
	}
	if err := s.cache.Write(ctx, KeyCharacterMap, doc); err != nil {
		return s.cacheFailure(err)
	}
	if snap.Timeline != nil {
		tl, err := json.Marshal(snap.Timeline)
		if err != nil {
			return fmt.Errorf("marshal timeline: %w", err)
		}
		if err := s.cache.Write(ctx, KeyTimeline, tl); err != nil {
			return s.cacheFailure(err)
		}
	}
	return nil
}

func (s *Scheduler) cacheFailure(err error) error {
	if !errors.Is(err, ErrQuotaExceeded) {
		s.logger.Error("cache write failed", zap.Error(err))
		return fmt.Errorf("cache: %w", err)
	}
	s.logger.Warn("cache quota exceeded", zap.Error(err))

	s.mu.Lock()
	now := s.now()
	notify := s.lastQuotaWarn.IsZero() || now.Sub(s.lastQuotaWarn) >= s.opts.QuotaWarnInterval
	if notify {
		s.lastQuotaWarn = now
	}
	s.mu.Unlock()

	if notify && s.opts.Warn != nil {
		msg := "Cache storage is full. Edits are kept in memory"
		if s.CanWriteDurable() {
			msg += " and still saved to the user data file."
		} else {
			msg += " only and will be lost on restart."
		}
		s.opts.Warn(msg)
	}
	return fmt.Errorf("cache: %w", err)
}
