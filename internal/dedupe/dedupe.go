// Package dedupe folds duplicate character ids in a user document into their
// canonical ids and drops the relationship and image records that collapse
// onto each other afterwards.
package dedupe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"charmap/api/internal/dataset"
	"charmap/api/internal/store"
)

// IDMap maps an obsolete character id to the canonical one.
type IDMap map[string]string

// ParseIDMap reads a flat {"oldId": "newId"} object.
func ParseIDMap(raw []byte) (IDMap, error) {
	var m IDMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse id map: %w", err)
	}
	for from, to := range m {
		if from == "" || to == "" {
			return nil, fmt.Errorf("parse id map: empty id in %q -> %q", from, to)
		}
	}
	return m, nil
}

// entry is a user character override as written by older clients, which
// also carried name and notes.
type entry struct {
	Name           string         `json:"name,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	Image          string         `json:"image,omitempty"`
	AvatarPosition *dataset.Point `json:"avatarPosition,omitempty"`
	TagIDs         []string       `json:"tagIds"`
}

// merge prefers the receiver's non-empty fields and unions the tag ids.
func (e entry) merge(other entry) entry {
	out := e
	if out.Name == "" {
		out.Name = other.Name
	}
	if out.Notes == "" {
		out.Notes = other.Notes
	}
	if out.Image == "" {
		out.Image = other.Image
	}
	if out.AvatarPosition == nil {
		out.AvatarPosition = other.AvatarPosition
	}
	tags := make([]string, 0, len(e.TagIDs)+len(other.TagIDs))
	for _, id := range append(append([]string{}, e.TagIDs...), other.TagIDs...) {
		if id != "" && !slices.Contains(tags, id) {
			tags = append(tags, id)
		}
	}
	out.TagIDs = tags
	return out
}

// Report counts what Apply changed.
type Report struct {
	MergedCharacters     int `json:"mergedCharacters"`
	RemovedRelationships int `json:"removedRelationships"`
	RemovedImages        int `json:"removedImages"`
}

// Apply rewrites the user document. Keys it does not know are kept as is.
func Apply(raw []byte, ids IDMap) ([]byte, Report, error) {
	var report Report
	doc, err := store.ParseDocument(raw)
	if err != nil {
		return nil, report, err
	}

	chars := map[string]entry{}
	if v := bytes.TrimSpace(doc["characters"]); len(v) > 0 && v[0] == '{' {
		if err := json.Unmarshal(v, &chars); err != nil {
			return nil, report, fmt.Errorf("decode characters: %w", err)
		}
	}
	for from, to := range ids {
		old, ok := chars[from]
		if !ok {
			continue
		}
		chars[to] = chars[to].merge(old)
		delete(chars, from)
		report.MergedCharacters++
	}
	for _, to := range ids {
		if c, ok := chars[to]; ok && c.Image != "" {
			c.Image = ids.rewrite(c.Image)
			chars[to] = c
		}
	}

	var rels []dataset.Relationship
	if err := decodeList(doc, "relationships", &rels); err != nil {
		return nil, report, err
	}
	seenRels := mapset.NewThreadUnsafeSet[string]()
	keptRels := make([]dataset.Relationship, 0, len(rels))
	for _, r := range rels {
		r.Source = ids.resolve(r.Source)
		r.Target = ids.resolve(r.Target)
		if !seenRels.Add(dataset.FullRelationshipSignature(r)) {
			report.RemovedRelationships++
			continue
		}
		keptRels = append(keptRels, r)
	}

	var imgs []dataset.CharacterImage
	if err := decodeList(doc, "characterImages", &imgs); err != nil {
		return nil, report, err
	}
	seenImgs := mapset.NewThreadUnsafeSet[string]()
	keptImgs := make([]dataset.CharacterImage, 0, len(imgs))
	for _, img := range imgs {
		img.CharacterID = ids.resolve(img.CharacterID)
		img.ImageDataURL = ids.rewrite(img.ImageDataURL)
		if !seenImgs.Add(dataset.ImageSignature(img)) {
			report.RemovedImages++
			continue
		}
		keptImgs = append(keptImgs, img)
	}

	fields := map[string]any{
		"characters":      chars,
		"relationships":   keptRels,
		"characterImages": keptImgs,
	}
	for _, key := range []string{"deletedRelationshipIds", "deletedImageIds"} {
		var list []string
		if err := decodeList(doc, key, &list); err != nil {
			return nil, report, err
		}
		if list == nil {
			list = []string{}
		}
		fields[key] = list
	}
	for key, value := range fields {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, report, fmt.Errorf("encode %s: %w", key, err)
		}
		doc[key] = encoded
	}

	out, err := doc.Encode()
	return out, report, err
}

func (m IDMap) resolve(id string) string {
	if to, ok := m[id]; ok {
		return to
	}
	return id
}

// rewrite replaces obsolete ids embedded in a path.
func (m IDMap) rewrite(s string) string {
	for from, to := range m {
		s = strings.ReplaceAll(s, from, to)
	}
	return s
}

func decodeList(doc store.Document, key string, target any) error {
	v := bytes.TrimSpace(doc[key])
	if len(v) == 0 || v[0] != '[' {
		return nil
	}
	if err := json.Unmarshal(v, target); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
