package merge

import (
	"charmap/api/internal/dataset"
)

// mergeCategories takes the cached taxonomy wholesale when it has any
// categories, otherwise the project's.
func (e *Engine) mergeCategories(project, cached []dataset.TagCategory) []dataset.TagCategory {
	src := project
	if len(cached) > 0 {
		src = cached
	}
	out := make([]dataset.TagCategory, len(src))
	for i, cat := range src {
		out[i] = e.StampCategory(cat)
	}
	return out
}

// StampCategory copies the category color onto its tags and fills a missing
// selection mode.
func (e *Engine) StampCategory(cat dataset.TagCategory) dataset.TagCategory {
	tags := make([]dataset.Tag, len(cat.Tags))
	for i, tag := range cat.Tags {
		tag.Color = cat.Color
		tags[i] = tag
	}
	cat.Tags = tags
	if cat.SelectionMode == "" {
		cat.SelectionMode = dataset.SelectionMultiple
		if e.legacySingle.Contains(cat.Name) {
			cat.SelectionMode = dataset.SelectionSingle
		}
	}
	return cat
}
