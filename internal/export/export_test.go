package export

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charmap/api/internal/dataset"
)

func sampleDataset() dataset.Dataset {
	return dataset.Dataset{
		Characters: []dataset.Character{
			{ID: "c2", Name: "Borin", TagIDs: []string{"t1"}},
			{ID: "c1", Name: "Aria", Notes: "bard", Image: "data:image/jpeg;base64,AAAA", Profile: &dataset.Profile{Quote: "Sing!"}},
		},
		Relationships: []dataset.Relationship{
			{ID: "r1", Source: "c1", Target: "c2", Label: "ally", ArrowStyle: dataset.ArrowStyleArrow},
			{ID: "r2", Source: "c2", Target: "c1", Label: "friend", ArrowStyle: dataset.ArrowStyleNone},
			{ID: "r3", Source: "c1", Target: "missing", Label: "ghost"},
		},
		TagCategories: []dataset.TagCategory{
			{ID: "k1", Name: "物種", Color: "#10b981", Tags: []dataset.Tag{{ID: "t1", Label: "矮人", Color: "#10b981"}}},
		},
		CharacterImages: []dataset.CharacterImage{{ID: "i1", CharacterID: "c1", ImageDataURL: "/character_images/a.png"}},
	}
}

func TestCharacterBundleRoundTrip(t *testing.T) {
	raw, err := Encode(NewCharacterBundle(sampleDataset(), nil))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"deletedRelationshipIds": []`)
	assert.NotContains(t, string(raw), "deletedImageIds")

	b, err := DecodeCharacterBundle(raw)
	require.NoError(t, err)
	assert.Len(t, b.Characters, 2)
	assert.True(t, b.HasDeletedRelationshipIDs)
	assert.False(t, b.HasDeletedImageIDs)
	assert.Equal(t, []string{}, b.CharacterImages[0].TagIDs)
}

func TestDecodeCharacterBundleValidates(t *testing.T) {
	cases := map[string]string{
		"missing images":  `{"characters":[],"relationships":[]}`,
		"null characters": `{"characters":null,"relationships":[],"characterImages":[]}`,
		"not an object":   `[1,2]`,
		"garbage":         `{`,
		"blank id":        `{"characters":[{"name":"x"}],"relationships":[],"characterImages":[]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCharacterBundle([]byte(raw))
			assert.True(t, errors.Is(err, ErrInvalidBundle), "err = %v", err)
		})
	}
}

func TestTagBundle(t *testing.T) {
	b := NewTagBundle(sampleDataset().TagCategories)
	assert.Empty(t, b.TagCategories[0].Tags[0].Color)

	got, err := DecodeTagBundle([]byte(`{"tagCategories":[{"id":"k","name":"n","color":"#fff"}]}`))
	require.NoError(t, err)
	assert.Equal(t, dataset.SelectionMultiple, got.TagCategories[0].SelectionMode)
	assert.NotNil(t, got.TagCategories[0].Tags)

	_, err = DecodeTagBundle([]byte(`{"characters":[]}`))
	assert.True(t, errors.Is(err, ErrInvalidBundle))
}

func TestBuildRoster(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	roster := BuildRoster("World", sampleDataset(), now)
	require.Len(t, roster.Characters, 2)

	aria := roster.Characters[0]
	assert.Equal(t, "Aria", aria.Name)
	assert.Equal(t, "Sing!", aria.Quote)
	assert.Equal(t, []RosterLink{
		{Label: "ally", Other: "Borin", Outgoing: true},
	}, aria.Relationships)

	borin := roster.Characters[1]
	assert.Equal(t, []RosterTag{{Label: "矮人", Color: "#10b981"}}, borin.Tags)
	assert.Equal(t, []RosterLink{
		{Label: "ally", Other: "Aria"},
		{Label: "friend", Other: "Aria", Outgoing: true, Mutual: true},
	}, borin.Relationships)
}

func TestRenderRosterHTML(t *testing.T) {
	html, err := RenderRosterHTML(BuildRoster("World <1>", sampleDataset(), time.Now()))
	require.NoError(t, err)
	assert.Contains(t, html, "World &lt;1&gt;")
	assert.Contains(t, html, "data:image/jpeg;base64,AAAA")
	assert.Contains(t, html, "矮人")
	assert.Contains(t, html, "2 位角色")
}

func TestPercentEncodeForDataURL(t *testing.T) {
	assert.Equal(t, "a%20b%2Bc", percentEncodeForDataURL("a b+c"))
	assert.Equal(t, "%E8%A7%92", percentEncodeForDataURL("角"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "My-World", sanitizeFilename("My World!"))
	assert.Equal(t, "角色名冊", sanitizeFilename("角色名冊"))
	assert.Equal(t, "roster", sanitizeFilename("!!!"))
	assert.Equal(t, 50, len([]rune(sanitizeFilename(strings.Repeat("a", 80)))))
}
