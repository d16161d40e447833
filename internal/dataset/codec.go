package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeDataset parses a project or bulk dataset document.
func DecodeDataset(raw []byte) (Dataset, error) {
	var d Dataset
	if err := json.Unmarshal(raw, &d); err != nil {
		return Dataset{}, fmt.Errorf("decode dataset: %w", err)
	}
	d.Normalize()
	return d, nil
}

// DecodeCache parses the cached snapshot. An empty payload yields a zero
// value and no error.
func DecodeCache(raw []byte) (CacheData, error) {
	var c CacheData
	if len(bytes.TrimSpace(raw)) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return CacheData{}, fmt.Errorf("decode cache: %w", err)
	}
	return c, nil
}

type rawUserData struct {
	Characters             json.RawMessage  `json:"characters"`
	Relationships          []Relationship   `json:"relationships"`
	CharacterImages        []CharacterImage `json:"characterImages"`
	DeletedRelationshipIDs []string         `json:"deletedRelationshipIds"`
	DeletedImageIDs        []string         `json:"deletedImageIds"`
}

// DecodeUserData parses the durable user document. The characters field is
// normally an id-keyed object; an array of id-carrying records is accepted
// as well.
func DecodeUserData(raw []byte) (UserData, error) {
	var u UserData
	if len(bytes.TrimSpace(raw)) == 0 {
		return u, nil
	}
	var r rawUserData
	if err := json.Unmarshal(raw, &r); err != nil {
		return UserData{}, fmt.Errorf("decode user data: %w", err)
	}
	u.Relationships = r.Relationships
	u.CharacterImages = r.CharacterImages
	u.DeletedRelationshipIDs = r.DeletedRelationshipIDs
	u.DeletedImageIDs = r.DeletedImageIDs

	chars := bytes.TrimSpace(r.Characters)
	switch {
	case len(chars) == 0 || bytes.Equal(chars, []byte("null")):
	case chars[0] == '[':
		var list []struct {
			ID string `json:"id"`
			CharacterOverride
		}
		if err := json.Unmarshal(chars, &list); err != nil {
			return UserData{}, fmt.Errorf("decode user characters: %w", err)
		}
		u.Characters = make(map[string]CharacterOverride, len(list))
		for _, entry := range list {
			if entry.ID != "" {
				u.Characters[entry.ID] = entry.CharacterOverride
			}
		}
	default:
		if err := json.Unmarshal(chars, &u.Characters); err != nil {
			return UserData{}, fmt.Errorf("decode user characters: %w", err)
		}
	}
	return u, nil
}
