package dataset

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedIsDeterministic(t *testing.T) {
	a, err := json.Marshal(Seed())
	require.NoError(t, err)
	b, err := json.Marshal(Seed())
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestSeedShape(t *testing.T) {
	seed := Seed()
	require.Len(t, seed.Characters, 12)
	require.Len(t, seed.TagCategories, 4)
	require.Len(t, seed.Relationships, 14)
	require.Len(t, seed.CharacterImages, 50)

	assert.Equal(t, "艾莉亞", seed.Characters[0].Name)
	assert.Len(t, seed.Characters[0].TagIDs, 5)
	assert.Equal(t, SelectionMultiple, seed.TagCategories[3].SelectionMode)
	assert.Equal(t, "#ef4444", seed.TagCategories[0].Color)

	ids := map[string]bool{}
	for _, c := range seed.Characters {
		ids[c.ID] = true
	}
	for _, r := range seed.Relationships {
		assert.True(t, ids[r.Source], "dangling source %s", r.Source)
		assert.True(t, ids[r.Target], "dangling target %s", r.Target)
	}
	for _, img := range seed.CharacterImages {
		assert.True(t, ids[img.CharacterID])
		assert.NotEmpty(t, img.TagIDs)
	}
}

func TestRelationshipSignature(t *testing.T) {
	r := Relationship{ID: "r1", Source: "c1", Target: "c2", Label: "ally"}
	assert.Equal(t, "c1-c2-ally", RelationshipSignature(r))
	r.ID = "r2"
	r.Description = "different"
	assert.Equal(t, "c1-c2-ally", RelationshipSignature(r))
}

func TestIsBrokenPath(t *testing.T) {
	assert.True(t, IsBrokenPath("/character_images/aria (1).png"))
	assert.True(t, IsBrokenPath("/character_images/aria 1.png"))
	assert.False(t, IsBrokenPath("/character_images/aria_1.png"))
}

func TestDecodeUserDataObject(t *testing.T) {
	u, err := DecodeUserData([]byte(`{"characters":{"c1":{"tagIds":["t1"],"name":"ignored"}},"deletedImageIds":["i1"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, u.Characters["c1"].TagIDs)
	assert.Equal(t, []string{"i1"}, u.DeletedImageIDs)
}

func TestDecodeUserDataArray(t *testing.T) {
	u, err := DecodeUserData([]byte(`{"characters":[{"id":"c1","image":"/a.png"},{"image":"/orphan.png"}]}`))
	require.NoError(t, err)
	require.Len(t, u.Characters, 1)
	assert.Equal(t, "/a.png", u.Characters["c1"].Image)
}

func TestDecodeUserDataEmpty(t *testing.T) {
	u, err := DecodeUserData(nil)
	require.NoError(t, err)
	assert.Nil(t, u.Characters)
}

func TestDecodeDatasetRejectsGarbage(t *testing.T) {
	_, err := DecodeDataset([]byte(`{"characters": "nope"`))
	assert.Error(t, err)
}

func TestCloneDoesNotAlias(t *testing.T) {
	d := Dataset{Characters: []Character{{ID: "c1", TagIDs: []string{"t1"}, AvatarPosition: &Point{X: 1}}}}
	c := d.Clone()
	c.Characters[0].TagIDs[0] = "t2"
	c.Characters[0].AvatarPosition.X = 9
	assert.Equal(t, "t1", d.Characters[0].TagIDs[0])
	assert.Equal(t, 1.0, d.Characters[0].AvatarPosition.X)
}
