package merge

import (
	mapset "github.com/deckarep/golang-set/v2"

	"charmap/api/internal/dataset"
	"charmap/api/internal/ledger"
)

// mergeRelationships starts from the user list and adds project records the
// user has neither got (by id or signature) nor deleted.
func mergeRelationships(user, project []dataset.Relationship, book *ledger.Ledger, stats *Stats) []dataset.Relationship {
	ids := mapset.NewThreadUnsafeSet[string]()
	signatures := mapset.NewThreadUnsafeSet[string]()
	out := make([]dataset.Relationship, 0, len(user)+len(project))

	accept := func(r dataset.Relationship) {
		if book.RelationshipDeleted(r.ID) {
			stats.TombstonedRelationships++
			return
		}
		if ids.Contains(r.ID) {
			return
		}
		sig := dataset.RelationshipSignature(r)
		if signatures.Contains(sig) {
			stats.DuplicateRelationships++
			return
		}
		ids.Add(r.ID)
		signatures.Add(sig)
		out = append(out, r)
	}

	for _, r := range user {
		accept(r)
	}
	for _, r := range project {
		accept(r)
	}
	return out
}
