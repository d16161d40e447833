package persist

import (
	"encoding/json"
	"fmt"

	"charmap/api/internal/dataset"
	"charmap/api/internal/timeline"
)

// Snapshot is one consistent copy of everything the scheduler writes.
type Snapshot struct {
	Dataset                dataset.Dataset
	DeletedRelationshipIDs []string
	DeletedImageIDs        []string
	Timeline               *timeline.Data
}

// UserPayload is the reduced document merged into the durable user data.
type UserPayload struct {
	Characters             map[string]dataset.CharacterOverride `json:"characters"`
	Relationships          []dataset.Relationship               `json:"relationships"`
	CharacterImages        []dataset.CharacterImage             `json:"characterImages"`
	DeletedRelationshipIDs []string                             `json:"deletedRelationshipIds"`
	DeletedImageIDs        []string                             `json:"deletedImageIds"`
	TimelineData           *timeline.Data                       `json:"timelineData,omitempty"`
}

// BuildUserPayload keeps only characters that carry an avatar, an avatar
// position or tags; relationships, images and the ledger go in full.
func BuildUserPayload(snap Snapshot) UserPayload {
	chars := make(map[string]dataset.CharacterOverride)
	for _, c := range snap.Dataset.Characters {
		if c.Image == "" && c.AvatarPosition == nil && len(c.TagIDs) == 0 {
			continue
		}
		chars[c.ID] = dataset.CharacterOverride{
			Image:          c.Image,
			AvatarPosition: c.AvatarPosition,
			TagIDs:         c.TagIDs,
		}
	}
	return UserPayload{
		Characters:             chars,
		Relationships:          nonNil(snap.Dataset.Relationships),
		CharacterImages:        nonNil(snap.Dataset.CharacterImages),
		DeletedRelationshipIDs: nonNil(snap.DeletedRelationshipIDs),
		DeletedImageIDs:        nonNil(snap.DeletedImageIDs),
		TimelineData:           snap.Timeline,
	}
}

// TopLevel splits the payload into its top-level keys for a shallow merge.
func (p UserPayload) TopLevel() (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal user payload: %w", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("split user payload: %w", err)
	}
	return out, nil
}

// CacheDocument is the full snapshot stored under KeyCharacterMap.
func CacheDocument(snap Snapshot) dataset.CacheData {
	d := snap.Dataset
	d.TagCategories = dataset.WithoutTagColors(d.TagCategories)
	d.Normalize()
	return dataset.CacheData{
		Dataset:                d,
		DeletedRelationshipIDs: snap.DeletedRelationshipIDs,
		DeletedImageIDs:        snap.DeletedImageIDs,
	}
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
