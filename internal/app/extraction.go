package app

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"charmap/api/internal/aiextract"
	"charmap/api/internal/dataset"
	"charmap/api/internal/util"
)

type ExtractionResult struct {
	Characters    []dataset.Character    `json:"characters"`
	Relationships []dataset.Relationship `json:"relationships"`
	Dropped       int                    `json:"dropped"`
}

// ApplyExtraction asks the extractor for characters and relationships in
// text. Names already known (exact match) are reused; relationships whose
// endpoints do not resolve are dropped, and ones whose signature exists are
// skipped.
func (s *Service) ApplyExtraction(ctx context.Context, text string) (ExtractionResult, error) {
	if strings.TrimSpace(text) == "" {
		return ExtractionResult{}, validationError("Text is required", map[string]any{"field": "text"})
	}
	parsed, err := s.extractor.ParseText(ctx, text)
	if err != nil {
		return ExtractionResult{}, s.aiError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.data.Clone()
	ids := make(map[string]string, len(next.Characters)+len(parsed.Characters))
	for _, c := range next.Characters {
		if _, ok := ids[c.Name]; !ok {
			ids[c.Name] = c.ID
		}
	}

	result := ExtractionResult{Characters: []dataset.Character{}, Relationships: []dataset.Relationship{}}
	for _, pc := range parsed.Characters {
		name := strings.TrimSpace(pc.Name)
		if name == "" {
			continue
		}
		if _, ok := ids[name]; ok {
			continue
		}
		c := dataset.Character{ID: util.NewID(), Name: name, Notes: "", TagIDs: []string{}}
		ids[name] = c.ID
		next.Characters = append(next.Characters, c)
		result.Characters = append(result.Characters, c)
	}

	signatures := make(map[string]struct{}, len(next.Relationships))
	for _, r := range next.Relationships {
		signatures[dataset.RelationshipSignature(r)] = struct{}{}
	}
	for _, pr := range parsed.Relationships {
		source, okSource := ids[strings.TrimSpace(pr.Source)]
		target, okTarget := ids[strings.TrimSpace(pr.Target)]
		label := strings.TrimSpace(pr.Label)
		if !okSource || !okTarget || label == "" {
			s.logger.Debug("dropping unresolved relationship",
				zap.String("source", pr.Source),
				zap.String("target", pr.Target),
				zap.String("label", pr.Label),
			)
			result.Dropped++
			continue
		}
		r := dataset.Relationship{ID: util.NewID(), Source: source, Target: target, Label: label, ArrowStyle: dataset.ArrowStyleArrow}
		sig := dataset.RelationshipSignature(r)
		if _, dup := signatures[sig]; dup {
			continue
		}
		signatures[sig] = struct{}{}
		next.Relationships = append(next.Relationships, r)
		result.Relationships = append(result.Relationships, r)
	}

	if len(result.Characters) > 0 || len(result.Relationships) > 0 {
		s.commitLocked(next)
	}
	return result, nil
}

// SuggestImageTags shows one gallery image and the tag taxonomy to the
// vision model. Nothing is changed.
func (s *Service) SuggestImageTags(ctx context.Context, imageID string) (aiextract.TagSuggestion, error) {
	s.mu.Lock()
	idx, ok := s.data.FindImage(imageID)
	var url string
	if ok {
		url = s.data.CharacterImages[idx].ImageDataURL
	}
	taxonomy := make([]aiextract.TaxonomyEntry, 0, len(s.data.TagCategories))
	for _, cat := range s.data.TagCategories {
		labels := make([]string, len(cat.Tags))
		for i, tag := range cat.Tags {
			labels[i] = tag.Label
		}
		taxonomy = append(taxonomy, aiextract.TaxonomyEntry{Category: cat.Name, Tags: labels})
	}
	s.mu.Unlock()
	if !ok {
		return aiextract.TagSuggestion{}, notFound("Image", imageID)
	}

	raw, err := s.readImage(ctx, url)
	if err != nil {
		return aiextract.TagSuggestion{}, err
	}
	suggestion, err := s.extractor.SuggestImageTags(ctx, aiextract.Image{MIMEType: http.DetectContentType(raw), Data: raw}, taxonomy)
	if err != nil {
		return aiextract.TagSuggestion{}, s.aiError(err)
	}
	return suggestion, nil
}

// ImageTagsInput accepts tag suggestions for an image. Existing labels are
// looked up across all categories; new labels are created in Category, or
// the default target category when empty.
type ImageTagsInput struct {
	Existing []string `json:"existingTags"`
	New      []string `json:"newTags"`
	Category string   `json:"category"`
}

func (s *Service) ApplyImageTags(imageID string, in ImageTagsInput) (dataset.CharacterImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.data.FindImage(imageID)
	if !ok {
		return dataset.CharacterImage{}, notFound("Image", imageID)
	}

	byLabel := make(map[string]string)
	for _, cat := range s.data.TagCategories {
		for _, tag := range cat.Tags {
			key := strings.ToLower(tag.Label)
			if _, seen := byLabel[key]; !seen {
				byLabel[key] = tag.ID
			}
		}
	}

	tagIDs := append([]string{}, s.data.CharacterImages[idx].TagIDs...)
	add := func(id string) {
		if !slices.Contains(tagIDs, id) {
			tagIDs = append(tagIDs, id)
		}
	}
	for _, label := range in.Existing {
		if id, ok := byLabel[strings.ToLower(strings.TrimSpace(label))]; ok {
			add(id)
		}
	}
	for _, label := range in.New {
		if strings.TrimSpace(label) == "" {
			continue
		}
		res, err := s.findOrCreateTagLocked(label, in.Category)
		if err != nil {
			return dataset.CharacterImage{}, err
		}
		add(res.Tag.ID)
	}

	next := s.data.Clone()
	next.CharacterImages[idx].TagIDs = tagIDs
	s.commitLocked(next)
	return next.CharacterImages[idx], nil
}

// ExtractTagsInto adds the labels found in text to a category, skipping
// labels it already holds.
func (s *Service) ExtractTagsInto(ctx context.Context, text, categoryID string) ([]dataset.Tag, error) {
	if strings.TrimSpace(text) == "" || categoryID == "" {
		return nil, validationError("Text and a target category are required", nil)
	}
	s.mu.Lock()
	_, ok := s.data.FindCategory(categoryID)
	s.mu.Unlock()
	if !ok {
		return nil, notFound("Category", categoryID)
	}

	labels, err := s.extractor.ExtractTags(ctx, text)
	if err != nil {
		return nil, s.aiError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTagsLocked(categoryID, labels)
}

func (s *Service) aiError(err error) error {
	switch {
	case errors.Is(err, aiextract.ErrNotConfigured):
		return domainError(http.StatusServiceUnavailable, "AI_NOT_CONFIGURED", "No AI provider is configured", nil)
	case errors.Is(err, aiextract.ErrInvalidKey):
		s.logger.Warn("AI provider rejected the API key", zap.Error(err))
		return domainError(http.StatusBadGateway, "AI_UNAVAILABLE", "The AI provider rejected the API key", map[string]any{"reason": "invalid_key"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		s.logger.Warn("AI request failed", zap.Error(err))
		return domainError(http.StatusBadGateway, "AI_UNAVAILABLE", "The AI service request failed", nil)
	}
}
