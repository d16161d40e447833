package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"charmap/api/internal/dataset"
)

const (
	CharactersFilename = "characters-and-relations.json"
	TagsFilename       = "tags.json"
)

// CharacterBundle is the characters-and-relations backup file.
type CharacterBundle struct {
	Characters             []dataset.Character      `json:"characters"`
	Relationships          []dataset.Relationship   `json:"relationships"`
	CharacterImages        []dataset.CharacterImage `json:"characterImages"`
	DeletedRelationshipIDs []string                 `json:"deletedRelationshipIds"`
	DeletedImageIDs        []string                 `json:"deletedImageIds,omitempty"`

	// Set on decode when the file carried the matching ledger array.
	HasDeletedRelationshipIDs bool `json:"-"`
	HasDeletedImageIDs        bool `json:"-"`
}

// TagBundle is the tag taxonomy backup file.
type TagBundle struct {
	TagCategories []dataset.TagCategory `json:"tagCategories"`
}

// NewCharacterBundle exports the dataset's characters, relationships and
// images with the relationship ledger.
func NewCharacterBundle(d dataset.Dataset, deletedRelationshipIDs []string) CharacterBundle {
	d = d.Clone()
	d.Normalize()
	ids := deletedRelationshipIDs
	if ids == nil {
		ids = []string{}
	}
	return CharacterBundle{
		Characters:             d.Characters,
		Relationships:          d.Relationships,
		CharacterImages:        d.CharacterImages,
		DeletedRelationshipIDs: ids,
	}
}

// NewTagBundle exports the categories without their read-time tag colors.
func NewTagBundle(categories []dataset.TagCategory) TagBundle {
	out := dataset.WithoutTagColors(categories)
	for i := range out {
		if out[i].Tags == nil {
			out[i].Tags = []dataset.Tag{}
		}
	}
	return TagBundle{TagCategories: out}
}

// Encode renders v as indented JSON.
func Encode(v any) ([]byte, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return append(raw, '\n'), nil
}

// DecodeCharacterBundle requires characters, relationships and
// characterImages to be present.
func DecodeCharacterBundle(raw []byte) (CharacterBundle, error) {
	keys, err := topLevel(raw)
	if err != nil {
		return CharacterBundle{}, err
	}
	if missing := missingKeys(keys, "characters", "relationships", "characterImages"); len(missing) > 0 {
		return CharacterBundle{}, fmt.Errorf("%w: missing %v", ErrInvalidBundle, missing)
	}
	var b CharacterBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return CharacterBundle{}, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	_, b.HasDeletedRelationshipIDs = keys["deletedRelationshipIds"]
	_, b.HasDeletedImageIDs = keys["deletedImageIds"]

	d := dataset.Dataset{Characters: b.Characters, Relationships: b.Relationships, CharacterImages: b.CharacterImages}
	d.Normalize()
	b.Characters, b.Relationships, b.CharacterImages = d.Characters, d.Relationships, d.CharacterImages
	for _, c := range b.Characters {
		if c.ID == "" {
			return CharacterBundle{}, fmt.Errorf("%w: character without id", ErrInvalidBundle)
		}
	}
	return b, nil
}

// DecodeTagBundle requires tagCategories. Categories without a selection
// mode become multiple-select.
func DecodeTagBundle(raw []byte) (TagBundle, error) {
	keys, err := topLevel(raw)
	if err != nil {
		return TagBundle{}, err
	}
	if missing := missingKeys(keys, "tagCategories"); len(missing) > 0 {
		return TagBundle{}, fmt.Errorf("%w: missing %v", ErrInvalidBundle, missing)
	}
	var b TagBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return TagBundle{}, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if b.TagCategories == nil {
		b.TagCategories = []dataset.TagCategory{}
	}
	for i := range b.TagCategories {
		if b.TagCategories[i].SelectionMode == "" {
			b.TagCategories[i].SelectionMode = dataset.SelectionMultiple
		}
		if b.TagCategories[i].Tags == nil {
			b.TagCategories[i].Tags = []dataset.Tag{}
		}
	}
	return b, nil
}

func topLevel(raw []byte) (map[string]json.RawMessage, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if keys == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidBundle)
	}
	return keys, nil
}

// missingKeys reports required keys that are absent or null.
func missingKeys(keys map[string]json.RawMessage, required ...string) []string {
	var missing []string
	for _, k := range required {
		v, ok := keys[k]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			missing = append(missing, k)
		}
	}
	return missing
}
