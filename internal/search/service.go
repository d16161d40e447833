package search

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Backend is an external index such as MeiliIndex.
type Backend interface {
	Searcher
	Indexer
}

// Service is the facade that tries the external backend first and falls
// back to the in-memory index, which is always kept current.
type Service struct {
	backend  Backend
	fallback *MemoryIndex
	logger   *zap.Logger
	inflight sync.WaitGroup

	mu      sync.Mutex
	pending []Record
	queued  bool
	running bool
}

// NewService creates a search service. backend may be nil.
func NewService(backend Backend, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{backend: backend, fallback: NewMemoryIndex(), logger: logger}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if s.backend != nil && s.backend.Healthy() {
		results, total, err := s.backend.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("search backend failed, using memory index", zap.Error(err))
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("memory search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Index refreshes the memory index synchronously and pushes the records to
// the backend in the background. One worker pushes at a time and always
// sends the newest records, so older snapshots never land last.
func (s *Service) Index(records []Record) {
	if err := s.fallback.ReplaceAll(context.Background(), records); err != nil {
		s.logger.Warn("memory index characters", zap.Int("count", len(records)), zap.Error(err))
	}
	if s.backend == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending, s.queued = records, true
	if s.running {
		return
	}
	s.running = true
	s.inflight.Add(1)
	go s.push()
}

func (s *Service) push() {
	defer s.inflight.Done()
	for {
		s.mu.Lock()
		if !s.queued {
			s.running = false
			s.mu.Unlock()
			return
		}
		records := s.pending
		s.pending, s.queued = nil, false
		s.mu.Unlock()

		if !s.backend.Healthy() {
			continue
		}
		if err := s.backend.ReplaceAll(context.Background(), records); err != nil {
			s.logger.Warn("index characters", zap.Int("count", len(records)), zap.Error(err))
		}
	}
}

// Wait blocks until background indexing has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
