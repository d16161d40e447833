package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"charmap/api/internal/dataset"
	"charmap/api/internal/ledger"
	"charmap/api/internal/merge"
	"charmap/api/internal/persist"
	"charmap/api/internal/source"
	"charmap/api/internal/store"
	"charmap/api/internal/timeline"
)

const userTimelineKey = "timelineData"

type userLoader interface {
	Load(ctx context.Context) ([]byte, error)
}

// LoadResult is one reconciliation of the three sources. Fallback is set
// when the seed dataset replaced them; Reason says why.
type LoadResult struct {
	Result   merge.Result
	Timeline timeline.Data
	Fallback bool
	Reason   string
}

// Loader fetches the project, user and cache sources and reconciles them.
type Loader struct {
	project source.Fetcher
	user    userLoader
	cache   persist.Port
	engine  *merge.Engine
	logger  *zap.Logger
}

func NewLoader(project source.Fetcher, user userLoader, cache persist.Port, engine *merge.Engine, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{project: project, user: user, cache: cache, engine: engine, logger: logger}
}

type rawSources struct {
	project       []byte
	user          []byte
	userErr       error
	cache         []byte
	cacheTimeline []byte
}

// Load never fails on bad data: a broken project or cache source yields the
// seed dataset. The error is non-nil only when ctx ends first.
func (l *Loader) Load(ctx context.Context) (LoadResult, error) {
	raw, err := l.fetch(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return LoadResult{}, ctxErr
	}
	if err != nil {
		return l.fallback(fmt.Sprintf("project data unavailable: %v", err)), nil
	}

	project, err := dataset.DecodeDataset(raw.project)
	if err != nil {
		return l.fallback(fmt.Sprintf("project data unreadable: %v", err)), nil
	}

	var cache *dataset.CacheData
	if len(bytes.TrimSpace(raw.cache)) > 0 {
		decoded, err := dataset.DecodeCache(raw.cache)
		if err != nil {
			return l.fallback(fmt.Sprintf("cache unreadable: %v", err)), nil
		}
		cache = &decoded
	}

	user := l.decodeUser(raw)
	result := l.engine.Reconcile(merge.Sources{Project: project, User: user, Cache: cache})
	return LoadResult{
		Result:   result,
		Timeline: l.decodeTimeline(raw),
	}, nil
}

func (l *Loader) fetch(ctx context.Context) (rawSources, error) {
	var raw rawSources
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		data, err := l.project.Fetch(gctx)
		if err != nil {
			return err
		}
		raw.project = data
		return nil
	})
	if l.user != nil {
		g.Go(func() error {
			raw.user, raw.userErr = l.user.Load(gctx)
			return nil
		})
	}
	if l.cache != nil {
		g.Go(func() error {
			raw.cache = l.readCache(gctx, persist.KeyCharacterMap)
			raw.cacheTimeline = l.readCache(gctx, persist.KeyTimeline)
			return nil
		})
	}

	err := g.Wait()
	return raw, err
}

// readCache treats an unreachable cache like an empty one.
func (l *Loader) readCache(ctx context.Context, key string) []byte {
	data, err := l.cache.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, persist.ErrNotFound) {
			l.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}
	return data
}

func (l *Loader) decodeUser(raw rawSources) dataset.UserData {
	if raw.userErr != nil {
		if !errors.Is(raw.userErr, store.ErrNotFound) {
			l.logger.Warn("user data unavailable, continuing without it", zap.Error(raw.userErr))
		}
		return dataset.UserData{}
	}
	user, err := dataset.DecodeUserData(raw.user)
	if err != nil {
		l.logger.Warn("user data unreadable, continuing without it", zap.Error(err))
		return dataset.UserData{}
	}
	return user
}

// decodeTimeline prefers the durable copy over the cached one.
func (l *Loader) decodeTimeline(raw rawSources) timeline.Data {
	if raw.userErr == nil && len(raw.user) > 0 {
		if doc, err := store.ParseDocument(raw.user); err == nil {
			if tl, ok := l.parseTimeline(doc[userTimelineKey]); ok {
				return tl
			}
		}
	}
	if tl, ok := l.parseTimeline(raw.cacheTimeline); ok {
		return tl
	}
	return timeline.NewData()
}

func (l *Loader) parseTimeline(raw json.RawMessage) (timeline.Data, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return timeline.Data{}, false
	}
	var tl timeline.Data
	if err := json.Unmarshal(trimmed, &tl); err != nil {
		l.logger.Warn("timeline unreadable, ignoring it", zap.Error(err))
		return timeline.Data{}, false
	}
	return tl, true
}

func (l *Loader) fallback(reason string) LoadResult {
	l.logger.Warn("falling back to seed dataset", zap.String("reason", reason))
	result := l.engine.Reconcile(merge.Sources{Project: dataset.Seed()})
	result.Ledger = ledger.New(nil, nil)
	return LoadResult{
		Result:   result,
		Timeline: timeline.NewData(),
		Fallback: true,
		Reason:   reason,
	}
}
