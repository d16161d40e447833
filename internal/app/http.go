package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"charmap/api/internal/config"
	"charmap/api/internal/dataset"
	"charmap/api/internal/export"
	"charmap/api/internal/search"
	"charmap/api/internal/timeline"
)

const maxBodyBytes = 32 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "canWriteDurable": s.service.CanWriteDurable()})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	parts = parts[1:]

	switch parts[0] {
	case "data":
		if len(parts) == 1 && r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, s.service.Data())
			return
		}
	case "user-data":
		if len(parts) == 1 && r.Method == http.MethodGet {
			raw, err := s.service.UserData(r.Context())
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, raw)
			return
		}
	case "save-metadata":
		if len(parts) == 1 && r.Method == http.MethodPost {
			s.handleSaveMetadata(w, r)
			return
		}
	case "upload-image":
		if len(parts) == 1 && r.Method == http.MethodPost {
			var body UploadRequest
			if !decodeOrFail(w, r, &body) {
				return
			}
			stored, err := s.service.UploadImage(r.Context(), body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "path": stored.URL, "thumbnailUrl": stored.ThumbnailURL})
			return
		}
	case "reload":
		if len(parts) == 1 && r.Method == http.MethodPost {
			if err := s.service.Reload(r.Context()); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, s.service.Data())
			return
		}
	case "reset":
		if len(parts) == 1 && r.Method == http.MethodPost {
			s.service.Reset()
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	case "characters":
		s.handleCharacters(w, r, parts[1:])
		return
	case "relationships":
		s.handleRelationships(w, r, parts[1:])
		return
	case "images":
		s.handleImages(w, r, parts[1:])
		return
	case "tag-categories":
		s.handleTagCategories(w, r, parts[1:])
		return
	case "tags":
		s.handleTags(w, r, parts[1:])
		return
	case "extract":
		if len(parts) == 1 && r.Method == http.MethodPost {
			var body struct {
				Text string `json:"text"`
			}
			if !decodeOrFail(w, r, &body) {
				return
			}
			result, err := s.service.ApplyExtraction(r.Context(), body.Text)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
			return
		}
	case "search":
		if len(parts) == 1 && r.Method == http.MethodGet {
			q := r.URL.Query()
			writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
				Text:   q.Get("q"),
				Tag:    q.Get("tag"),
				Limit:  queryInt(q.Get("limit"), 20),
				Offset: queryInt(q.Get("offset"), 0),
			}))
			return
		}
	case "history":
		s.handleHistory(w, r, parts[1:])
		return
	case "export":
		s.handleExport(w, r, parts[1:])
		return
	case "import":
		s.handleImport(w, r, parts[1:])
		return
	case "timeline":
		s.handleTimeline(w, r, parts[1:])
		return
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// handleSaveMetadata accepts writes only from the local machine.
func (s *HTTPServer) handleSaveMetadata(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Host
	}
	if !config.IsLocalOrigin(origin) {
		s.logger.Warn("rejected non-local metadata write", zap.String("origin", origin))
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Writes are only accepted from localhost", nil)
		return
	}
	var fields map[string]json.RawMessage
	if !decodeOrFail(w, r, &fields) {
		return
	}
	if err := s.service.SaveMetadata(r.Context(), fields); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleCharacters(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		if !decodeOrFail(w, r, &body) {
			return
		}
		writeJSON(w, http.StatusCreated, s.service.AddCharacter(body.Name))
		return
	}

	id := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPut:
			var body dataset.Character
			if !decodeOrFail(w, r, &body) {
				return
			}
			body.ID = id
			s.respond(w, r, http.StatusOK)(s.service.UpdateCharacter(body))
		case http.MethodDelete:
			s.respondOK(w, r, s.service.DeleteCharacter(id))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	switch {
	case parts[1] == "avatar" && r.Method == http.MethodPut:
		var body AvatarCrop
		if !decodeOrFail(w, r, &body) {
			return
		}
		s.respond(w, r, http.StatusOK)(s.service.SetAvatar(r.Context(), id, body))
	case parts[1] == "avatar-position" && r.Method == http.MethodPut:
		var body dataset.Point
		if !decodeOrFail(w, r, &body) {
			return
		}
		s.respond(w, r, http.StatusOK)(s.service.SetAvatarPosition(id, body))
	case parts[1] == "images" && r.Method == http.MethodPost:
		var body ImageUpload
		if !decodeOrFail(w, r, &body) {
			return
		}
		s.respond(w, r, http.StatusCreated)(s.service.AddImage(r.Context(), id, body))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleRelationships(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body RelationshipInput
		if !decodeOrFail(w, r, &body) {
			return
		}
		created, err := s.service.SaveRelationship(body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"relationships": created})
	case len(parts) == 0 && r.Method == http.MethodPut:
		var body struct {
			Relationships []dataset.Relationship `json:"relationships"`
		}
		if !decodeOrFail(w, r, &body) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"relationships": s.service.ReplaceRelationships(body.Relationships)})
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.respondOK(w, r, s.service.DeleteRelationship(parts[0]))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleImages(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 1 && parts[0] == "consolidate" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.ConsolidateImages())
		return
	}
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	id := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodPut:
		var body dataset.CharacterImage
		if !decodeOrFail(w, r, &body) {
			return
		}
		body.ID = id
		s.respond(w, r, http.StatusOK)(s.service.UpdateImage(body))
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.respondOK(w, r, s.service.DeleteImage(id))
	case len(parts) == 2 && parts[1] == "suggest-tags" && r.Method == http.MethodPost:
		s.respond(w, r, http.StatusOK)(s.service.SuggestImageTags(r.Context(), id))
	case len(parts) == 2 && parts[1] == "tags" && r.Method == http.MethodPost:
		var body ImageTagsInput
		if !decodeOrFail(w, r, &body) {
			return
		}
		s.respond(w, r, http.StatusOK)(s.service.ApplyImageTags(id, body))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleTagCategories(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"tagCategories": s.service.TagCategories()})
	case len(parts) == 0 && r.Method == http.MethodPut:
		var body struct {
			TagCategories []dataset.TagCategory `json:"tagCategories"`
		}
		if !decodeOrFail(w, r, &body) {
			return
		}
		categories, err := s.service.ReplaceTagCategories(body.TagCategories)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tagCategories": categories})
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body CategoryInput
		if !decodeOrFail(w, r, &body) {
			return
		}
		s.respond(w, r, http.StatusCreated)(s.service.AddCategory(body))
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.respondOK(w, r, s.service.DeleteCategory(parts[0]))
	case len(parts) == 2 && parts[1] == "tags" && r.Method == http.MethodPost:
		var body struct {
			Label string `json:"label"`
		}
		if !decodeOrFail(w, r, &body) {
			return
		}
		s.respond(w, r, http.StatusCreated)(s.service.AddTag(parts[0], body.Label))
	case len(parts) == 3 && parts[1] == "tags" && r.Method == http.MethodDelete:
		s.respondOK(w, r, s.service.DeleteTag(parts[0], parts[2]))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleTags(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	switch {
	case len(parts) == 0:
		var body struct {
			Label    string `json:"label"`
			Category string `json:"category"`
		}
		if !decodeOrFail(w, r, &body) {
			return
		}
		s.respond(w, r, http.StatusOK)(s.service.FindOrCreateTag(body.Label, body.Category))
	case len(parts) == 1 && parts[0] == "extract":
		var body struct {
			Text       string `json:"text"`
			CategoryID string `json:"categoryId"`
		}
		if !decodeOrFail(w, r, &body) {
			return
		}
		added, err := s.service.ExtractTagsInto(r.Context(), body.Text, body.CategoryID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tags": added})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if len(parts) == 1 {
		raw, err := s.service.HistoryContent(parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, raw)
		return
	}
	commits, err := s.service.History(queryInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet || len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	var (
		result *export.Result
		err    error
	)
	switch parts[0] {
	case "characters":
		result, err = s.service.ExportCharacters()
	case "tags":
		result, err = s.service.ExportTags()
	case "roster.pdf":
		result, err = s.service.RosterPDF(r.Context())
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// Return as downloadable file
	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.Write(result.Data)
}

func (s *HTTPServer) handleImport(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodPost || len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read body", nil)
		return
	}
	switch parts[0] {
	case "characters":
		s.respond(w, r, http.StatusOK)(s.service.ImportCharacters(raw))
	case "tags":
		s.respond(w, r, http.StatusOK)(s.service.ImportTags(raw))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTimeline(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.Timeline())
		return
	}

	switch parts[0] {
	case "settings":
		if len(parts) == 1 && r.Method == http.MethodPut {
			var body struct {
				GameStartYear int `json:"gameStartYear"`
			}
			if !decodeOrFail(w, r, &body) {
				return
			}
			s.respond(w, r, http.StatusOK)(s.service.SetGameStartYear(body.GameStartYear))
			return
		}
	case "events":
		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"events": s.service.TimelineEvents(timelineFilter(r))})
			return
		case len(parts) == 1 && r.Method == http.MethodPost:
			var body timeline.Event
			if !decodeOrFail(w, r, &body) {
				return
			}
			body.ID = ""
			s.respond(w, r, http.StatusCreated)(s.service.SaveTimelineEvent(body))
			return
		case len(parts) == 2 && r.Method == http.MethodPut:
			var body timeline.Event
			if !decodeOrFail(w, r, &body) {
				return
			}
			body.ID = parts[1]
			s.respond(w, r, http.StatusOK)(s.service.SaveTimelineEvent(body))
			return
		case len(parts) == 2 && r.Method == http.MethodDelete:
			s.respondOK(w, r, s.service.DeleteTimelineEvent(parts[1]))
			return
		}
	case "tags":
		switch {
		case len(parts) == 1 && r.Method == http.MethodPost:
			var body struct {
				Label string `json:"label"`
				Color string `json:"color"`
			}
			if !decodeOrFail(w, r, &body) {
				return
			}
			s.respond(w, r, http.StatusCreated)(s.service.AddTimelineTag(body.Label, body.Color))
			return
		case len(parts) == 2 && r.Method == http.MethodDelete:
			s.respondOK(w, r, s.service.DeleteTimelineTag(parts[1]))
			return
		}
	case "locations":
		switch {
		case len(parts) == 1 && r.Method == http.MethodPost:
			var body struct {
				Label       string `json:"label"`
				ParentID    string `json:"parentId"`
				Description string `json:"description"`
			}
			if !decodeOrFail(w, r, &body) {
				return
			}
			s.respond(w, r, http.StatusCreated)(s.service.AddTimelineLocation(body.Label, body.ParentID, body.Description))
			return
		case len(parts) == 2 && r.Method == http.MethodDelete:
			s.respondOK(w, r, s.service.DeleteTimelineLocation(parts[1]))
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// timelineFilter reads ?minYear=&maxYear=&size=&character=&location=&tag=&q=.
// List parameters may repeat or be comma separated.
func timelineFilter(r *http.Request) timeline.Filter {
	q := r.URL.Query()
	f := timeline.Filter{
		CharacterIDs: queryList(q["character"]),
		Locations:    queryList(q["location"]),
		TagIDs:       queryList(q["tag"]),
		Query:        q.Get("q"),
	}
	if v, err := strconv.Atoi(q.Get("minYear")); err == nil {
		f.MinYear = &v
	}
	if v, err := strconv.Atoi(q.Get("maxYear")); err == nil {
		f.MaxYear = &v
	}
	for _, size := range queryList(q["size"]) {
		f.Sizes = append(f.Sizes, timeline.Size(size))
	}
	return f
}

func queryList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func queryInt(raw string, fallback int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// respond returns a writer for a (value, error) pair so handlers can pass a
// service call straight through.
func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int) func(any, error) {
	return func(payload any, err error) {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, status, payload)
	}
}

func (s *HTTPServer) respondOK(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError && code == "SERVER_ERROR" {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func decodeOrFail(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	}
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
