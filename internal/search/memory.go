package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// MemoryIndex is an in-process substring index used when Meilisearch is not
// configured or not reachable. Name matches rank above tag matches, which
// rank above notes matches.
type MemoryIndex struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

func (m *MemoryIndex) Healthy() bool {
	return true
}

func (m *MemoryIndex) ReplaceAll(_ context.Context, records []Record) error {
	cp := make([]Record, len(records))
	for i, r := range records {
		r.Tags = append([]string(nil), r.Tags...)
		cp[i] = r
	}
	m.mu.Lock()
	m.records = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, q Query) ([]Result, int, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	tag := strings.ToLower(strings.TrimSpace(q.Tag))
	if text == "" && tag == "" {
		return nil, 0, nil
	}

	type scored struct {
		rank   int
		order  int
		result Result
	}

	m.mu.RLock()
	hits := make([]scored, 0)
	for i, r := range m.records {
		if tag != "" && !hasTag(r.Tags, tag) {
			continue
		}
		rank, snippet := 0, ""
		switch {
		case text == "":
			rank, snippet = 3, excerpt(r.Notes, "")
		case strings.Contains(strings.ToLower(r.Name), text):
			rank, snippet = 0, excerpt(r.Notes, "")
		case hasTagContaining(r.Tags, text):
			rank, snippet = 1, excerpt(r.Notes, "")
		case strings.Contains(strings.ToLower(r.Notes), text):
			rank, snippet = 2, excerpt(r.Notes, text)
		default:
			continue
		}
		hits = append(hits, scored{rank: rank, order: i, result: Result{
			ID:      r.ID,
			Name:    r.Name,
			Snippet: snippet,
			Tags:    append([]string{}, r.Tags...),
		}})
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		return hits[i].order < hits[j].order
	})

	total := len(hits)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-start)
	for _, h := range hits[start:end] {
		results = append(results, h.result)
	}
	return results, total, nil
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.ToLower(t) == want {
			return true
		}
	}
	return false
}

func hasTagContaining(tags []string, text string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), text) {
			return true
		}
	}
	return false
}

const snippetRunes = 60

// excerpt returns up to snippetRunes runes of notes, centred on the first
// occurrence of text when given.
func excerpt(notes, text string) string {
	runes := []rune(notes)
	if len(runes) <= snippetRunes {
		return notes
	}
	start := 0
	if text != "" {
		if idx := strings.Index(strings.ToLower(notes), text); idx >= 0 {
			start = utf8.RuneCountInString(notes[:idx]) - snippetRunes/4
		}
	}
	if start < 0 {
		start = 0
	}
	if start+snippetRunes > len(runes) {
		start = len(runes) - snippetRunes
	}
	out := string(runes[start : start+snippetRunes])
	if start > 0 {
		out = "…" + out
	}
	if start+snippetRunes < len(runes) {
		out += "…"
	}
	return out
}
