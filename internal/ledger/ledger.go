// Package ledger records ids the author deleted on purpose so that later
// merges never bring them back.
package ledger

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

type Ledger struct {
	relationships mapset.Set[string]
	images        mapset.Set[string]
}

func New(relationshipIDs, imageIDs []string) *Ledger {
	return &Ledger{
		relationships: mapset.NewThreadUnsafeSet(nonEmpty(relationshipIDs)...),
		images:        mapset.NewThreadUnsafeSet(nonEmpty(imageIDs)...),
	}
}

func (l *Ledger) MarkRelationshipDeleted(ids ...string) {
	l.relationships.Append(nonEmpty(ids)...)
}

func (l *Ledger) MarkImageDeleted(ids ...string) {
	l.images.Append(nonEmpty(ids)...)
}

// RestoreRelationship drops ids from the ledger, for records that are live
// again.
func (l *Ledger) RestoreRelationship(ids ...string) {
	l.relationships.RemoveAll(ids...)
}

func (l *Ledger) RestoreImage(ids ...string) {
	l.images.RemoveAll(ids...)
}

func (l *Ledger) RelationshipDeleted(id string) bool {
	return l.relationships.Contains(id)
}

func (l *Ledger) ImageDeleted(id string) bool {
	return l.images.Contains(id)
}

// RelationshipIDs returns the tombstoned relationship ids, sorted.
func (l *Ledger) RelationshipIDs() []string {
	return sorted(l.relationships)
}

// ImageIDs returns the tombstoned image ids, sorted.
func (l *Ledger) ImageIDs() []string {
	return sorted(l.images)
}

func (l *Ledger) Clone() *Ledger {
	return &Ledger{relationships: l.relationships.Clone(), images: l.images.Clone()}
}

// Replace swaps the contents wholesale. A nil slice keeps that half as is.
func (l *Ledger) Replace(relationshipIDs, imageIDs []string) {
	if relationshipIDs != nil {
		l.relationships = mapset.NewThreadUnsafeSet(nonEmpty(relationshipIDs)...)
	}
	if imageIDs != nil {
		l.images = mapset.NewThreadUnsafeSet(nonEmpty(imageIDs)...)
	}
}

func (l *Ledger) Reset() {
	l.relationships.Clear()
	l.images.Clear()
}

// DiffIDs returns the ids present in before but missing from after, in the
// order they appear in before.
func DiffIDs(before, after []string) []string {
	remaining := mapset.NewThreadUnsafeSet(after...)
	var removed []string
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, id := range before {
		if remaining.Contains(id) || seen.Contains(id) {
			continue
		}
		seen.Add(id)
		removed = append(removed, id)
	}
	return removed
}

func sorted(s mapset.Set[string]) []string {
	out := s.ToSlice()
	sort.Strings(out)
	return out
}

func nonEmpty(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
