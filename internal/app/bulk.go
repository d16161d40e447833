package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"charmap/api/internal/dataset"
	"charmap/api/internal/export"
	"charmap/api/internal/gitrepo"
	"charmap/api/internal/search"
	"charmap/api/internal/store"
)

func (s *Service) ExportCharacters() (*export.Result, error) {
	s.mu.Lock()
	bundle := export.NewCharacterBundle(s.data, s.ledger.RelationshipIDs())
	s.mu.Unlock()
	raw, err := export.Encode(bundle)
	if err != nil {
		return nil, err
	}
	return &export.Result{Data: raw, Filename: export.CharactersFilename, MimeType: "application/json"}, nil
}

func (s *Service) ExportTags() (*export.Result, error) {
	s.mu.Lock()
	bundle := export.NewTagBundle(s.data.TagCategories)
	s.mu.Unlock()
	raw, err := export.Encode(bundle)
	if err != nil {
		return nil, err
	}
	return &export.Result{Data: raw, Filename: export.TagsFilename, MimeType: "application/json"}, nil
}

type ImportResult struct {
	Characters      int `json:"characters"`
	Relationships   int `json:"relationships"`
	CharacterImages int `json:"characterImages"`
	TagCategories   int `json:"tagCategories"`
}

// ImportCharacters replaces characters, relationships and images with the
// bundle's. Ledger arrays present in the file replace the ledger's; ids of
// imported records never stay ledgered.
func (s *Service) ImportCharacters(raw []byte) (ImportResult, error) {
	bundle, err := export.DecodeCharacterBundle(raw)
	if err != nil {
		return ImportResult{}, importError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var relIDs, imgIDs []string
	if bundle.HasDeletedRelationshipIDs {
		relIDs = orEmpty(bundle.DeletedRelationshipIDs)
	}
	if bundle.HasDeletedImageIDs {
		imgIDs = orEmpty(bundle.DeletedImageIDs)
	}
	s.ledger.Replace(relIDs, imgIDs)
	s.ledger.RestoreRelationship(relationshipIDs(bundle.Relationships)...)
	for _, img := range bundle.CharacterImages {
		s.ledger.RestoreImage(img.ID)
	}

	next := s.data.Clone()
	next.Characters = bundle.Characters
	next.Relationships = bundle.Relationships
	next.CharacterImages = bundle.CharacterImages
	s.commitLocked(next)
	return ImportResult{
		Characters:      len(next.Characters),
		Relationships:   len(next.Relationships),
		CharacterImages: len(next.CharacterImages),
	}, nil
}

func (s *Service) ImportTags(raw []byte) (ImportResult, error) {
	bundle, err := export.DecodeTagBundle(raw)
	if err != nil {
		return ImportResult{}, importError(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.data.Clone()
	next.TagCategories = s.stampAll(bundle.TagCategories)
	s.commitLocked(next)
	return ImportResult{TagCategories: len(next.TagCategories)}, nil
}

func importError(err error) error {
	if errors.Is(err, export.ErrInvalidBundle) {
		return validationError("Import file is not valid", map[string]any{"reason": err.Error()})
	}
	return err
}

// Reset empties every collection and the ledger. The timeline is kept.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.Reset()
	s.commitLocked(dataset.Empty())
}

// RosterPDF prints the character roster.
func (s *Service) RosterPDF(ctx context.Context) (*export.Result, error) {
	if s.pdf == nil {
		return nil, domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not configured", nil)
	}
	s.mu.Lock()
	roster := export.BuildRoster(s.rosterTitle, s.data, s.now())
	s.mu.Unlock()

	result, err := s.pdf.Roster(ctx, roster)
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "Chromium is not available for PDF export", nil)
	}
	return result, err
}

// Search queries the character index.
func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) History(limit int) ([]gitrepo.CommitInfo, error) {
	if s.history == nil {
		return []gitrepo.CommitInfo{}, nil
	}
	return s.history.History(limit)
}

// HistoryContent returns the user document as of one commit.
func (s *Service) HistoryContent(hash string) (json.RawMessage, error) {
	if s.history == nil {
		return nil, notFound("Commit", hash)
	}
	raw, err := s.history.ContentAt(hash)
	if errors.Is(err, gitrepo.ErrNoHistory) {
		return nil, notFound("Commit", hash)
	}
	if err != nil {
		s.logger.Debug("history lookup failed", zap.String("hash", hash), zap.Error(err))
		return nil, notFound("Commit", hash)
	}
	return json.RawMessage(raw), nil
}

// UserData returns the raw durable document, or {} when there is none.
func (s *Service) UserData(ctx context.Context) (json.RawMessage, error) {
	if s.userStore == nil {
		return json.RawMessage(`{}`), nil
	}
	raw, err := s.userStore.Load(ctx)
	if errors.Is(err, store.ErrNotFound) || (err == nil && strings.TrimSpace(string(raw)) == "") {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// SaveMetadata shallow-merges fields into the durable document.
func (s *Service) SaveMetadata(ctx context.Context, fields map[string]json.RawMessage) error {
	if s.userStore == nil {
		return domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "No user data store configured", nil)
	}
	if len(fields) == 0 {
		return validationError("Body must be a non-empty JSON object", nil)
	}
	_, err := s.userStore.Merge(ctx, fields)
	return err
}

func orEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
