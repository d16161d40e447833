package app

import (
	"strings"

	"charmap/api/internal/dataset"
	"charmap/api/internal/util"
)

const defaultCharacterName = "新角色"

func (s *Service) AddCharacter(name string) dataset.Character {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultCharacterName
	}
	c := dataset.Character{ID: util.NewID(), Name: name, Notes: "", TagIDs: []string{}}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.data.Clone()
	next.Characters = append(next.Characters, c)
	s.commitLocked(next)
	return c
}

// UpdateCharacter replaces the stored record with c wholesale.
func (s *Service) UpdateCharacter(c dataset.Character) (dataset.Character, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return dataset.Character{}, validationError("Character name is required", map[string]any{"field": "name"})
	}
	if c.TagIDs == nil {
		c.TagIDs = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.data.FindCharacter(c.ID)
	if !ok {
		return dataset.Character{}, notFound("Character", c.ID)
	}
	next := s.data.Clone()
	next.Characters[idx] = c
	s.commitLocked(next)
	return c, nil
}

// DeleteCharacter also removes every relationship touching the character and
// every image it owns. The removed records are not ledgered.
func (s *Service) DeleteCharacter(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.data.FindCharacter(id)
	if !ok {
		return notFound("Character", id)
	}
	next := s.data.Clone()
	next.Characters = append(next.Characters[:idx], next.Characters[idx+1:]...)

	rels := next.Relationships[:0]
	for _, r := range next.Relationships {
		if r.Source != id && r.Target != id {
			rels = append(rels, r)
		}
	}
	next.Relationships = rels

	imgs := next.CharacterImages[:0]
	for _, img := range next.CharacterImages {
		if img.CharacterID != id {
			imgs = append(imgs, img)
		}
	}
	next.CharacterImages = imgs

	s.commitLocked(next)
	return nil
}

func (s *Service) SetAvatarPosition(id string, pos dataset.Point) (dataset.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.data.FindCharacter(id)
	if !ok {
		return dataset.Character{}, notFound("Character", id)
	}
	next := s.data.Clone()
	next.Characters[idx].AvatarPosition = &pos
	s.commitLocked(next)
	return next.Characters[idx], nil
}
