package app

import (
	"strings"

	"charmap/api/internal/dataset"
	"charmap/api/internal/util"
)

const (
	defaultCategoryName  = "新類別"
	defaultCategoryColor = "#8b5cf6"
)

var categoryPalette = []string{
	"#3b82f6",
	"#ef4444",
	"#f97316",
	"#10b981",
	"#8b5cf6",
	"#06b6d4",
	"#d946ef",
	"#64748b",
}

// TagResult is the outcome of FindOrCreateTag.
type TagResult struct {
	Tag             dataset.Tag `json:"tag"`
	CategoryID      string      `json:"categoryId"`
	Created         bool        `json:"created"`
	CategoryCreated bool        `json:"categoryCreated"`
}

func (s *Service) TagCategories() []dataset.TagCategory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone().TagCategories
}

// FindOrCreateTag matches label within the named category ignoring case.
// A missing category is created; an empty name means the default
// AI target category.
func (s *Service) FindOrCreateTag(label, categoryName string) (TagResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.findOrCreateTagLocked(label, categoryName)
	if err != nil {
		return TagResult{}, err
	}
	if res.Created {
		s.changedLocked()
	}
	return res, nil
}

func (s *Service) findOrCreateTagLocked(label, categoryName string) (TagResult, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return TagResult{}, validationError("Tag label is required", map[string]any{"field": "label"})
	}
	categoryName = strings.TrimSpace(categoryName)
	if categoryName == "" {
		categoryName = s.defaultTagCategory
	}

	res := TagResult{}
	ci := -1
	for i, cat := range s.data.TagCategories {
		if strings.EqualFold(cat.Name, categoryName) {
			ci = i
			break
		}
	}
	if ci < 0 {
		s.data.TagCategories = append(s.data.TagCategories, dataset.TagCategory{
			ID:            util.NewID(),
			Name:          categoryName,
			Color:         defaultCategoryColor,
			Tags:          []dataset.Tag{},
			SelectionMode: dataset.SelectionMultiple,
		})
		ci = len(s.data.TagCategories) - 1
		res.CategoryCreated = true
		res.Created = true
	}

	cat := &s.data.TagCategories[ci]
	res.CategoryID = cat.ID
	for _, tag := range cat.Tags {
		if strings.EqualFold(tag.Label, label) {
			res.Tag = tag
			return res, nil
		}
	}
	tag := dataset.Tag{ID: util.NewID(), Label: label, Color: cat.Color}
	cat.Tags = append(cat.Tags, tag)
	res.Tag = tag
	res.Created = true
	return res, nil
}

// ReplaceTagCategories swaps the taxonomy, as the category manager does
// after reordering or renaming.
func (s *Service) ReplaceTagCategories(categories []dataset.TagCategory) ([]dataset.TagCategory, error) {
	for _, cat := range categories {
		if strings.TrimSpace(cat.Name) == "" {
			return nil, validationError("Category name is required", map[string]any{"id": cat.ID})
		}
		if cat.SelectionMode != "" && cat.SelectionMode != dataset.SelectionSingle && cat.SelectionMode != dataset.SelectionMultiple {
			return nil, validationError("Unknown selection mode", map[string]any{"selectionMode": cat.SelectionMode})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.data.Clone()
	next.TagCategories = s.stampAll(categories)
	s.commitLocked(next)
	return next.Clone().TagCategories, nil
}

type CategoryInput struct {
	Name          string `json:"name"`
	Color         string `json:"color"`
	SelectionMode string `json:"selectionMode"`
}

func (s *Service) AddCategory(in CategoryInput) (dataset.TagCategory, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = defaultCategoryName
	}
	mode := in.SelectionMode
	if mode == "" {
		mode = dataset.SelectionMultiple
	}
	if mode != dataset.SelectionSingle && mode != dataset.SelectionMultiple {
		return dataset.TagCategory{}, validationError("Unknown selection mode", map[string]any{"selectionMode": mode})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	color := in.Color
	if color == "" {
		color = categoryPalette[len(s.data.TagCategories)%len(categoryPalette)]
	}
	cat := dataset.TagCategory{ID: util.NewID(), Name: name, Color: color, Tags: []dataset.Tag{}, SelectionMode: mode}
	next := s.data.Clone()
	next.TagCategories = append(next.TagCategories, cat)
	s.commitLocked(next)
	return cat, nil
}

// DeleteCategory drops the category and its tags. Characters and images
// keep the dangling tag ids; they simply stop rendering.
func (s *Service) DeleteCategory(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.data.FindCategory(id)
	if !ok {
		return notFound("Category", id)
	}
	next := s.data.Clone()
	next.TagCategories = append(next.TagCategories[:idx], next.TagCategories[idx+1:]...)
	s.commitLocked(next)
	return nil
}

func (s *Service) AddTag(categoryID, label string) (dataset.Tag, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return dataset.Tag{}, validationError("Tag label is required", map[string]any{"field": "label"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.data.FindCategory(categoryID)
	if !ok {
		return dataset.Tag{}, notFound("Category", categoryID)
	}
	next := s.data.Clone()
	tag := dataset.Tag{ID: util.NewID(), Label: label, Color: next.TagCategories[idx].Color}
	next.TagCategories[idx].Tags = append(next.TagCategories[idx].Tags, tag)
	s.commitLocked(next)
	return tag, nil
}

func (s *Service) DeleteTag(categoryID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.data.FindCategory(categoryID)
	if !ok {
		return notFound("Category", categoryID)
	}
	next := s.data.Clone()
	cat := &next.TagCategories[idx]
	tags := make([]dataset.Tag, 0, len(cat.Tags))
	for _, tag := range cat.Tags {
		if tag.ID != tagID {
			tags = append(tags, tag)
		}
	}
	if len(tags) == len(cat.Tags) {
		return notFound("Tag", tagID)
	}
	cat.Tags = tags
	s.commitLocked(next)
	return nil
}

// addTagsLocked adds the labels absent from the category, compared ignoring
// case, and returns the new tags.
func (s *Service) addTagsLocked(categoryID string, labels []string) ([]dataset.Tag, error) {
	idx, ok := s.data.FindCategory(categoryID)
	if !ok {
		return nil, notFound("Category", categoryID)
	}
	next := s.data.Clone()
	cat := &next.TagCategories[idx]
	seen := make(map[string]struct{}, len(cat.Tags))
	for _, tag := range cat.Tags {
		seen[strings.ToLower(tag.Label)] = struct{}{}
	}
	added := []dataset.Tag{}
	for _, label := range labels {
		label = strings.TrimSpace(label)
		key := strings.ToLower(label)
		if label == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		tag := dataset.Tag{ID: util.NewID(), Label: label, Color: cat.Color}
		cat.Tags = append(cat.Tags, tag)
		added = append(added, tag)
	}
	if len(added) > 0 {
		s.commitLocked(next)
	}
	return added, nil
}

func (s *Service) stampAll(categories []dataset.TagCategory) []dataset.TagCategory {
	out := make([]dataset.TagCategory, len(categories))
	for i, cat := range categories {
		if cat.ID == "" {
			cat.ID = util.NewID()
		}
		cat.Tags = append([]dataset.Tag{}, cat.Tags...)
		for j := range cat.Tags {
			if cat.Tags[j].ID == "" {
				cat.Tags[j].ID = util.NewID()
			}
		}
		out[i] = s.engine.StampCategory(cat)
	}
	return out
}
