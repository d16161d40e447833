package merge

import (
	"charmap/api/internal/dataset"
	"charmap/api/internal/ledger"
)

// orderedImages is an insertion-ordered map: overwriting a key replaces the
// value but keeps the key's first position.
type orderedImages struct {
	keys   []string
	values map[string]dataset.CharacterImage
}

func newOrderedImages(capacity int) *orderedImages {
	return &orderedImages{
		keys:   make([]string, 0, capacity),
		values: make(map[string]dataset.CharacterImage, capacity),
	}
}

func (o *orderedImages) get(key string) (dataset.CharacterImage, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *orderedImages) set(key string, img dataset.CharacterImage) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = img
}

func (o *orderedImages) list() []dataset.CharacterImage {
	out := make([]dataset.CharacterImage, 0, len(o.keys))
	for _, k := range o.keys {
		out = append(out, o.values[k])
	}
	return out
}

func mergeImages(project, user []dataset.CharacterImage, book *ledger.Ledger, stats *Stats) []dataset.CharacterImage {
	byID := newOrderedImages(len(project) + len(user))
	for _, batch := range [][]dataset.CharacterImage{project, user} {
		for _, img := range batch {
			if book.ImageDeleted(img.ID) {
				stats.TombstonedImages++
				continue
			}
			byID.set(img.ID, img)
		}
	}

	deduped := DedupeByURL(byID.list())
	stats.DuplicateImages += len(byID.keys) - len(deduped)

	return recoverBrokenPaths(deduped, project, book, stats)
}

// DedupeByURL keeps one image per imageDataUrl. An image with tags or notes
// beats one without; otherwise the later image wins. Output follows the
// first appearance of each URL.
func DedupeByURL(images []dataset.CharacterImage) []dataset.CharacterImage {
	byURL := newOrderedImages(len(images))
	for _, img := range images {
		existing, ok := byURL.get(img.ImageDataURL)
		if ok && preferExisting(existing, img) {
			continue
		}
		byURL.set(img.ImageDataURL, img)
	}
	return byURL.list()
}

// preferExisting decides a same-URL collision between an earlier and a later
// image.
func preferExisting(existing, current dataset.CharacterImage) bool {
	return existing.HasAuxData() && !current.HasAuxData()
}

func recoverBrokenPaths(images, project []dataset.CharacterImage, book *ledger.Ledger, stats *Stats) []dataset.CharacterImage {
	for i, img := range images {
		if !dataset.IsBrokenPath(img.ImageDataURL) {
			continue
		}
		for _, candidate := range project {
			if candidate.CharacterID != img.CharacterID || book.ImageDeleted(candidate.ID) {
				continue
			}
			if dataset.IsBrokenPath(candidate.ImageDataURL) {
				continue
			}
			img.ImageDataURL = candidate.ImageDataURL
			img.ThumbnailURL = candidate.ThumbnailURL
			images[i] = img
			stats.RecoveredImagePaths++
			break
		}
	}
	return images
}
