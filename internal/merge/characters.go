package merge

import (
	"charmap/api/internal/dataset"
)

// mergeCharacters keeps project order, applies cache then user overrides
// field by field, and appends cache-only characters.
func mergeCharacters(project []dataset.Character, user map[string]dataset.CharacterOverride, cache []dataset.Character) ([]dataset.Character, int) {
	cacheByID := make(map[string]*dataset.Character, len(cache))
	for i := range cache {
		if _, ok := cacheByID[cache[i].ID]; !ok {
			cacheByID[cache[i].ID] = &cache[i]
		}
	}

	seen := make(map[string]bool, len(project)+len(cache))
	out := make([]dataset.Character, 0, len(project)+len(cache))
	for _, pc := range project {
		if pc.ID == "" || seen[pc.ID] {
			continue
		}
		seen[pc.ID] = true
		override, hasOverride := user[pc.ID]
		out = append(out, overlay(pc, cacheByID[pc.ID], override, hasOverride))
	}

	appended := 0
	for _, sc := range cache {
		if sc.ID == "" || seen[sc.ID] {
			continue
		}
		seen[sc.ID] = true
		override, hasOverride := user[sc.ID]
		out = append(out, overlay(sc, nil, override, hasOverride))
		appended++
	}
	return out, appended
}

func overlay(base dataset.Character, cached *dataset.Character, user dataset.CharacterOverride, hasUser bool) dataset.Character {
	c := base
	c.TagIDs = append([]string{}, base.TagIDs...)
	if base.AvatarPosition != nil {
		p := *base.AvatarPosition
		c.AvatarPosition = &p
	}

	if cached != nil {
		if cached.Image != "" {
			c.Image = cached.Image
		}
		if len(cached.TagIDs) > 0 {
			c.TagIDs = append([]string{}, cached.TagIDs...)
		}
		if cached.AvatarPosition != nil {
			p := *cached.AvatarPosition
			c.AvatarPosition = &p
		}
	}

	if hasUser {
		if user.Image != "" {
			c.Image = user.Image
		}
		if len(user.TagIDs) > 0 {
			c.TagIDs = append([]string{}, user.TagIDs...)
		}
		if user.AvatarPosition != nil {
			p := *user.AvatarPosition
			c.AvatarPosition = &p
		}
	}
	return c
}
