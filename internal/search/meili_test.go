package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeiliIndexUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	idx := newMeiliIndex(meili.New(srv.URL), nil, time.Hour)
	defer idx.Close()

	assert.False(t, idx.Healthy())
	_, _, err := idx.Search(context.Background(), Query{Text: "aria"})
	assert.True(t, errors.Is(err, errUnhealthy))
	assert.True(t, errors.Is(idx.ReplaceAll(context.Background(), sampleRecords()), errUnhealthy))
	idx.Close()
}

func TestHitToResultPrefersFormatted(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"c1"`),
		"name":       json.RawMessage(`"Aria"`),
		"notes":      json.RawMessage(`"bard"`),
		"tags":       json.RawMessage(`["Human"]`),
		"_formatted": json.RawMessage(`{"name":"<mark>Aria</mark>","notes":"  "}`),
	}
	got := hitToResult(hit)
	require.Equal(t, "c1", got.ID)
	assert.Equal(t, "<mark>Aria</mark>", got.Name)
	assert.Equal(t, "bard", got.Snippet)
	assert.Equal(t, []string{"Human"}, got.Tags)
}
