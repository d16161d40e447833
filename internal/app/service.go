package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"charmap/api/internal/aiextract"
	"charmap/api/internal/dataset"
	"charmap/api/internal/export"
	"charmap/api/internal/gitrepo"
	"charmap/api/internal/images"
	"charmap/api/internal/ledger"
	"charmap/api/internal/merge"
	"charmap/api/internal/persist"
	"charmap/api/internal/search"
	"charmap/api/internal/timeline"
)

type scheduler interface {
	Schedule(persist.Snapshot)
	CanWriteDurable() bool
	Flush(ctx context.Context) error
}

type userDataStore interface {
	Load(ctx context.Context) ([]byte, error)
	Merge(ctx context.Context, fields map[string]json.RawMessage) ([]byte, error)
}

type historyReader interface {
	History(limit int) ([]gitrepo.CommitInfo, error)
	ContentAt(hash string) ([]byte, error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	Index(records []search.Record)
}

type rosterRenderer interface {
	Roster(ctx context.Context, data export.RosterData) (*export.Result, error)
}

type loader interface {
	Load(ctx context.Context) (LoadResult, error)
}

// Options wires a Service. Only Engine and Loader are required.
type Options struct {
	Logger             *zap.Logger
	Engine             *merge.Engine
	Loader             loader
	Scheduler          scheduler
	UserStore          userDataStore
	Images             images.Store
	Extractor          aiextract.Extractor
	Search             searchIndex
	History            historyReader
	PDF                rosterRenderer
	Warnings           *Warnings
	DefaultTagCategory string
	RosterTitle        string
}

// Service owns the reconciled dataset. Every operation takes mu for its
// read-compute-replace and schedules a persistence write on success.
type Service struct {
	logger    *zap.Logger
	engine    *merge.Engine
	loader    loader
	scheduler scheduler
	userStore userDataStore
	images    images.Store
	extractor aiextract.Extractor
	search    searchIndex
	history   historyReader
	pdf       rosterRenderer
	warnings  *Warnings

	defaultTagCategory string
	rosterTitle        string
	now                func() time.Time

	mu       sync.Mutex
	data     dataset.Dataset
	ledger   *ledger.Ledger
	timeline *timeline.Book
	fallback bool
	reason   string
	stats    merge.Stats
	loadedAt time.Time
}

func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Engine == nil {
		opts.Engine = merge.NewEngine(opts.Logger.Named("merge"), nil)
	}
	if opts.Extractor == nil {
		opts.Extractor = aiextract.Disabled{}
	}
	if opts.Warnings == nil {
		opts.Warnings = NewWarnings(0)
	}
	if opts.DefaultTagCategory == "" {
		opts.DefaultTagCategory = "外貌"
	}
	if opts.RosterTitle == "" {
		opts.RosterTitle = "角色名冊"
	}
	return &Service{
		logger:             opts.Logger,
		engine:             opts.Engine,
		loader:             opts.Loader,
		scheduler:          opts.Scheduler,
		userStore:          opts.UserStore,
		images:             opts.Images,
		extractor:          opts.Extractor,
		search:             opts.Search,
		history:            opts.History,
		pdf:                opts.PDF,
		warnings:           opts.Warnings,
		defaultTagCategory: opts.DefaultTagCategory,
		rosterTitle:        opts.RosterTitle,
		now:                time.Now,
		data:               dataset.Empty(),
		ledger:             ledger.New(nil, nil),
		timeline:           timeline.NewBook(timeline.NewData()),
	}
}

// Load reconciles the sources and replaces the in-memory state. It does not
// schedule a write; nothing has been edited yet.
func (s *Service) Load(ctx context.Context) error {
	if s.loader == nil {
		return nil
	}
	res, err := s.loader.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.data = res.Result.Dataset
	s.ledger = res.Result.Ledger
	if s.ledger == nil {
		s.ledger = ledger.New(nil, nil)
	}
	s.timeline = timeline.NewBook(res.Timeline)
	s.fallback = res.Fallback
	s.reason = res.Reason
	s.stats = res.Result.Stats
	s.loadedAt = s.now()
	records := s.searchRecords()
	s.mu.Unlock()

	if res.Fallback {
		s.warnings.Add("Could not load the project data; showing the default dataset.")
	}
	s.index(records)
	s.logger.Info("dataset loaded",
		zap.Int("characters", len(res.Result.Dataset.Characters)),
		zap.Int("relationships", len(res.Result.Dataset.Relationships)),
		zap.Int("images", len(res.Result.Dataset.CharacterImages)),
		zap.Bool("fallback", res.Fallback),
	)
	return nil
}

// Reload writes out any pending edit before re-reading the sources, so the
// re-merge sees it.
func (s *Service) Reload(ctx context.Context) error {
	if s.scheduler != nil {
		if err := s.scheduler.Flush(ctx); err != nil {
			s.logger.Warn("flush before reload failed", zap.Error(err))
		}
	}
	return s.Load(ctx)
}

// DataView is the reconciled dataset as served to the client.
type DataView struct {
	dataset.Dataset
	DeletedRelationshipIDs []string    `json:"deletedRelationshipIds"`
	DeletedImageIDs        []string    `json:"deletedImageIds"`
	Fallback               bool        `json:"fallback"`
	FallbackReason         string      `json:"fallbackReason,omitempty"`
	CanWriteDurable        bool        `json:"canWriteDurable"`
	Stats                  merge.Stats `json:"stats"`
	LoadedAt               time.Time   `json:"loadedAt"`
	Warnings               []Warning   `json:"warnings"`
}

func (s *Service) Data() DataView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DataView{
		Dataset:                s.data.Clone(),
		DeletedRelationshipIDs: s.ledger.RelationshipIDs(),
		DeletedImageIDs:        s.ledger.ImageIDs(),
		Fallback:               s.fallback,
		FallbackReason:         s.reason,
		CanWriteDurable:        s.CanWriteDurable(),
		Stats:                  s.stats,
		LoadedAt:               s.loadedAt,
		Warnings:               s.warnings.List(),
	}
}

// Dataset returns a copy of the reconciled dataset.
func (s *Service) Dataset() dataset.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

func (s *Service) CanWriteDurable() bool {
	return s.scheduler != nil && s.scheduler.CanWriteDurable()
}

// Flush writes any pending snapshot immediately.
func (s *Service) Flush(ctx context.Context) error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Flush(ctx)
}

// commitLocked installs next as the current dataset and schedules the write.
// Callers hold mu.
func (s *Service) commitLocked(next dataset.Dataset) {
	next.Normalize()
	s.data = next
	s.changedLocked()
}

// changedLocked schedules a write of the current state and refreshes the
// search index. Callers hold mu.
func (s *Service) changedLocked() {
	if s.scheduler != nil {
		s.scheduler.Schedule(s.snapshotLocked())
	}
	s.index(s.searchRecords())
}

func (s *Service) snapshotLocked() persist.Snapshot {
	tl := s.timeline.Data()
	return persist.Snapshot{
		Dataset:                s.data.Clone(),
		DeletedRelationshipIDs: s.ledger.RelationshipIDs(),
		DeletedImageIDs:        s.ledger.ImageIDs(),
		Timeline:               &tl,
	}
}

func (s *Service) searchRecords() []search.Record {
	labels := s.data.TagLabels()
	records := make([]search.Record, 0, len(s.data.Characters))
	for _, c := range s.data.Characters {
		tags := make([]string, 0, len(c.TagIDs))
		for _, id := range c.TagIDs {
			if label, ok := labels[id]; ok {
				tags = append(tags, label)
			}
		}
		records = append(records, search.Record{ID: c.ID, Name: c.Name, Notes: c.Notes, Tags: tags})
	}
	return records
}

func (s *Service) index(records []search.Record) {
	if s.search != nil {
		s.search.Index(records)
	}
}
