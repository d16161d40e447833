package app

import (
	"slices"
	"strings"

	"charmap/api/internal/dataset"
	"charmap/api/internal/ledger"
	"charmap/api/internal/util"
)

type Direction string

const (
	DirectionTo   Direction = "to"
	DirectionFrom Direction = "from"
	DirectionBoth Direction = "both"
	DirectionNone Direction = "none"
)

// RelationshipInput describes a relationship as entered from Source's point
// of view. ReplaceIDs lists the records an edit supersedes.
type RelationshipInput struct {
	Source      string    `json:"source"`
	Target      string    `json:"target"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	Direction   Direction `json:"direction"`
	ReplaceIDs  []string  `json:"replaceIds"`
}

// SaveRelationship creates one record for to/from and two mirrored records
// for both/none. Superseded ids are ledgered. Records matching an existing
// relationship's source, target and label are not added again.
func (s *Service) SaveRelationship(in RelationshipInput) ([]dataset.Relationship, error) {
	in.Label = strings.TrimSpace(in.Label)
	if in.Direction == "" {
		in.Direction = DirectionTo
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateRelationshipLocked(in); err != nil {
		return nil, err
	}

	style := dataset.ArrowStyleArrow
	if in.Direction == DirectionNone {
		style = dataset.ArrowStyleNone
	}
	outgoing := dataset.Relationship{ID: util.NewID(), Source: in.Source, Target: in.Target, Label: in.Label, Description: in.Description, ArrowStyle: style}
	incoming := dataset.Relationship{ID: util.NewID(), Source: in.Target, Target: in.Source, Label: in.Label, Description: in.Description, ArrowStyle: style}

	var created []dataset.Relationship
	switch in.Direction {
	case DirectionTo:
		created = []dataset.Relationship{outgoing}
	case DirectionFrom:
		created = []dataset.Relationship{incoming}
	default:
		created = []dataset.Relationship{outgoing, incoming}
	}

	next := make([]dataset.Relationship, 0, len(s.data.Relationships)+len(created))
	existing := make(map[string]string, len(s.data.Relationships))
	for _, r := range s.data.Relationships {
		if !slices.Contains(in.ReplaceIDs, r.ID) {
			next = append(next, r)
			existing[dataset.RelationshipSignature(r)] = r.ID
		}
	}
	// A half that already exists under another id is skipped, as extraction does.
	added := created[:0]
	var duplicates []string
	for _, r := range created {
		if id, ok := existing[dataset.RelationshipSignature(r)]; ok {
			duplicates = append(duplicates, id)
			continue
		}
		added = append(added, r)
	}
	if len(added) == 0 {
		return nil, conflict("This relationship already exists", map[string]any{"ids": duplicates})
	}
	next = append(next, added...)
	s.replaceRelationshipsLocked(next)
	return added, nil
}

func (s *Service) validateRelationshipLocked(in RelationshipInput) error {
	switch in.Direction {
	case DirectionTo, DirectionFrom, DirectionBoth, DirectionNone:
	default:
		return validationError("Unknown relationship direction", map[string]any{"direction": in.Direction})
	}
	if in.Source == "" || in.Target == "" {
		return validationError("Both characters are required", nil)
	}
	if in.Source == in.Target {
		return validationError("A relationship needs two different characters", map[string]any{"source": in.Source})
	}
	if in.Label == "" {
		return validationError("Relationship label is required", map[string]any{"field": "label"})
	}
	for _, id := range []string{in.Source, in.Target} {
		if _, ok := s.data.FindCharacter(id); !ok {
			return validationError("Unknown character", map[string]any{"id": id})
		}
	}
	return nil
}

// ReplaceRelationships swaps the whole list. Ids missing from rels are
// ledgered.
func (s *Service) ReplaceRelationships(rels []dataset.Relationship) []dataset.Relationship {
	next := make([]dataset.Relationship, 0, len(rels))
	for _, r := range rels {
		if r.ID == "" {
			r.ID = util.NewID()
		}
		next = append(next, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceRelationshipsLocked(next)
	return append([]dataset.Relationship{}, s.data.Relationships...)
}

func (s *Service) DeleteRelationship(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]dataset.Relationship, 0, len(s.data.Relationships))
	found := false
	for _, r := range s.data.Relationships {
		if r.ID == id {
			found = true
			continue
		}
		next = append(next, r)
	}
	if !found {
		return notFound("Relationship", id)
	}
	s.replaceRelationshipsLocked(next)
	return nil
}

// replaceRelationshipsLocked is the single path through which the
// relationship list changes, so every removal lands in the ledger and every
// id that is live again leaves it.
func (s *Service) replaceRelationshipsLocked(rels []dataset.Relationship) {
	ids := relationshipIDs(rels)
	s.ledger.MarkRelationshipDeleted(ledger.DiffIDs(relationshipIDs(s.data.Relationships), ids)...)
	s.ledger.RestoreRelationship(ids...)
	next := s.data.Clone()
	next.Relationships = rels
	s.commitLocked(next)
}

func relationshipIDs(rels []dataset.Relationship) []string {
	ids := make([]string, len(rels))
	for i, r := range rels {
		ids[i] = r.ID
	}
	return ids
}
