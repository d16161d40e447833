package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *Service) {
	t.Helper()
	svc, _ := newTestService(t, opts)
	server := httptest.NewServer(NewHTTPServer(svc, "*", nil).Handler())
	t.Cleanup(server.Close)
	return server, svc
}

func doJSON(t *testing.T, method, url, body string, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestHealthAndRequestID(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, payload["ok"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/health", "", http.Header{"X-Request-Id": {"abc"}})
	assert.Equal(t, "abc", resp.Header.Get("X-Request-ID"))
}

func TestGetDataServesReconciledView(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/data", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, payload["characters"], 2)
	assert.Equal(t, []any{}, payload["deletedRelationshipIds"])
	assert.Equal(t, false, payload["fallback"])
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestCharacterRoutes(t *testing.T) {
	server, svc := newTestServer(t, Options{})

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/characters", `{"name":"Carol"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := payload["id"].(string)
	require.NotEmpty(t, id)

	resp, _ = doJSON(t, http.MethodPut, server.URL+"/api/characters/"+id, `{"name":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, server.URL+"/api/characters/"+id+"/avatar-position", `{"x":0.5,"y":0.25}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/characters/"+id, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, svc.Dataset().Characters, 2)

	resp, payload = doJSON(t, http.MethodDelete, server.URL+"/api/characters/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", payload["code"])
}

func TestRelationshipRoutes(t *testing.T) {
	server, svc := newTestServer(t, Options{})

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/relationships", `{"source":"c1","target":"c2","label":"sibling","direction":"both"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, payload["relationships"], 2)

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/relationships/r1", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"r1"}, svc.Data().DeletedRelationshipIDs)
}

func TestInvalidBody(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/relationships", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_BODY", payload["code"])
}

func TestSaveMetadataRequiresLocalOrigin(t *testing.T) {
	users := &fakeUserStore{}
	server, _ := newTestServer(t, Options{UserStore: users})

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/save-metadata", `{"a":1}`, http.Header{"Origin": {"https://example.com"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", payload["code"])
	assert.Nil(t, users.merged)

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/save-metadata", `{"a":1}`, http.Header{"Origin": {"http://localhost:5173"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, payload["success"])
	assert.Contains(t, users.merged, "a")
}

func TestExportSetsAttachment(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	resp, err := http.Get(server.URL + "/api/export/characters")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var bundle map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bundle))
	assert.Contains(t, bundle, "characters")
	assert.Contains(t, bundle, "deletedRelationshipIds")
}

func TestRosterPDFUnavailable(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/export/roster.pdf", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "PDF_UNAVAILABLE", payload["code"])
}

func TestTimelineRoutes(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/timeline/events", `{"title":"Coronation","startYear":4,"size":"large","characterIds":["c1"]}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := payload["id"].(string)
	require.NotEmpty(t, id)

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/timeline/events?q=alice&size=large,small", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, payload["events"], 1)

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/timeline/events?minYear=10", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, payload["events"])

	resp, _ = doJSON(t, http.MethodPut, server.URL+"/api/timeline/settings", `{"gameStartYear":300}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/timeline/events/"+id, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPatch, server.URL+"/api/data", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
