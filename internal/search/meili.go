package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxCharacters = "charmap_characters"

var errUnhealthy = errors.New("meilisearch unhealthy")

// MeiliIndex implements Searcher and Indexer via Meilisearch.
type MeiliIndex struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	indexed mapset.Set[string]
}

// NewMeiliIndex creates a Meilisearch client and configures the character
// index. An unreachable server is not an error; the health loop picks it up
// once it comes back.
func NewMeiliIndex(url, apiKey string, logger *zap.Logger) *MeiliIndex {
	return newMeiliIndex(meili.New(url, meili.WithAPIKey(apiKey)), logger, 10*time.Second)
}

func newMeiliIndex(client meili.ServiceManager, logger *zap.Logger, interval time.Duration) *MeiliIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MeiliIndex{
		client:  client,
		logger:  logger,
		done:    make(chan struct{}),
		indexed: mapset.NewSet[string](),
	}
	if _, err := client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}
	go m.healthLoop(interval)
	return m
}

func (m *MeiliIndex) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxCharacters,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxCharacters), zap.Error(err))
	}

	index := m.client.Index(idxCharacters)
	filterable := []interface{}{"tags"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.Error(err))
	}
	searchable := []string{"name", "tags", "notes"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.Error(err))
	}
}

func (m *MeiliIndex) healthLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *MeiliIndex) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *MeiliIndex) Healthy() bool {
	return m.healthy.Load()
}

func (m *MeiliIndex) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}
	sr := &meili.SearchRequest{
		IndexUID:              idxCharacters,
		Query:                 q.Text,
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"name", "notes"},
		AttributesToCrop:      []string{"notes"},
		CropLength:            30,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if tag := strings.TrimSpace(q.Tag); tag != "" {
		sr.Filter = fmt.Sprintf("tags = %q", tag)
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0)
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

// ReplaceAll upserts every record and removes characters indexed by an
// earlier call that are no longer present.
func (m *MeiliIndex) ReplaceAll(_ context.Context, records []Record) error {
	if !m.healthy.Load() {
		return errUnhealthy
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current := mapset.NewThreadUnsafeSet[string]()
	for _, r := range records {
		current.Add(r.ID)
	}
	if len(records) > 0 {
		if _, err := m.client.Index(idxCharacters).AddDocuments(records, nil); err != nil {
			return fmt.Errorf("index characters: %w", err)
		}
	}
	for _, id := range m.indexed.ToSlice() {
		if current.Contains(id) {
			continue
		}
		if _, err := m.client.Index(idxCharacters).DeleteDocument(id, nil); err != nil {
			return fmt.Errorf("delete character %s from index: %w", id, err)
		}
	}
	m.indexed = mapset.NewSet[string](current.ToSlice()...)
	return nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:      decodeString(hit, "id"),
		Name:    firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name")),
		Snippet: firstNonBlank(decodeFormattedString(hit, "notes"), decodeString(hit, "notes")),
		Tags:    decodeStrings(hit, "tags"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeStrings(hit meili.Hit, key string) []string {
	out := []string{}
	raw, ok := hit[key]
	if !ok {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return []string{}
	}
	return out
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
