package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charmap/api/internal/aiextract"
	"charmap/api/internal/dataset"
	"charmap/api/internal/images"
	"charmap/api/internal/persist"
	"charmap/api/internal/timeline"
)

type fakeScheduler struct {
	mu        sync.Mutex
	snapshots []persist.Snapshot
	durable   bool
	flushFn   func(context.Context) error
}

func (f *fakeScheduler) Schedule(s persist.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, s)
}

func (f *fakeScheduler) CanWriteDurable() bool { return f.durable }

func (f *fakeScheduler) Flush(ctx context.Context) error {
	if f.flushFn != nil {
		return f.flushFn(ctx)
	}
	return nil
}

func (f *fakeScheduler) last() persist.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[len(f.snapshots)-1]
}

type fakeLoader struct {
	loadFn func(context.Context) (LoadResult, error)
}

func (f *fakeLoader) Load(ctx context.Context) (LoadResult, error) {
	return f.loadFn(ctx)
}

type fakeImages struct {
	putFn  func(context.Context, images.Upload) (images.Stored, error)
	readFn func(context.Context, string) ([]byte, error)
}

func (f *fakeImages) Put(ctx context.Context, up images.Upload) (images.Stored, error) {
	if f.putFn != nil {
		return f.putFn(ctx, up)
	}
	return images.Stored{URL: images.PublicPrefix + up.FileName}, nil
}

func (f *fakeImages) Read(ctx context.Context, url string) ([]byte, error) {
	if f.readFn != nil {
		return f.readFn(ctx, url)
	}
	return nil, images.ErrForeignURL
}

type fakeExtractor struct {
	parseFn   func(context.Context, string) (aiextract.ParsedData, error)
	suggestFn func(context.Context, aiextract.Image, []aiextract.TaxonomyEntry) (aiextract.TagSuggestion, error)
	tagsFn    func(context.Context, string) ([]string, error)
}

func (f *fakeExtractor) ParseText(ctx context.Context, text string) (aiextract.ParsedData, error) {
	if f.parseFn != nil {
		return f.parseFn(ctx, text)
	}
	return aiextract.ParsedData{}, nil
}

func (f *fakeExtractor) SuggestImageTags(ctx context.Context, img aiextract.Image, taxonomy []aiextract.TaxonomyEntry) (aiextract.TagSuggestion, error) {
	if f.suggestFn != nil {
		return f.suggestFn(ctx, img, taxonomy)
	}
	return aiextract.TagSuggestion{}, nil
}

func (f *fakeExtractor) ExtractTags(ctx context.Context, text string) ([]string, error) {
	if f.tagsFn != nil {
		return f.tagsFn(ctx, text)
	}
	return nil, nil
}

type fakeUserStore struct {
	loadFn  func(context.Context) ([]byte, error)
	merged  map[string]json.RawMessage
	mergeFn func(context.Context, map[string]json.RawMessage) ([]byte, error)
}

func (f *fakeUserStore) Load(ctx context.Context) ([]byte, error) {
	if f.loadFn != nil {
		return f.loadFn(ctx)
	}
	return []byte(`{}`), nil
}

func (f *fakeUserStore) Merge(ctx context.Context, fields map[string]json.RawMessage) ([]byte, error) {
	f.merged = fields
	if f.mergeFn != nil {
		return f.mergeFn(ctx, fields)
	}
	return []byte(`{}`), nil
}

// testData has Alice and Bob, one relationship between them, one image of
// Alice used as her avatar and a single tag category.
func testData() dataset.Dataset {
	return dataset.Dataset{
		Characters: []dataset.Character{
			{ID: "c1", Name: "Alice", TagIDs: []string{}, Image: "/character_images/a.jpg"},
			{ID: "c2", Name: "Bob", TagIDs: []string{}},
		},
		Relationships: []dataset.Relationship{
			{ID: "r1", Source: "c1", Target: "c2", Label: "friend", ArrowStyle: dataset.ArrowStyleArrow},
		},
		TagCategories: []dataset.TagCategory{
			{ID: "cat1", Name: "外貌", Color: "#3b82f6", SelectionMode: dataset.SelectionMultiple, Tags: []dataset.Tag{{ID: "t1", Label: "Tall"}}},
		},
		CharacterImages: []dataset.CharacterImage{
			{ID: "i1", CharacterID: "c1", ImageDataURL: "/character_images/a.jpg", TagIDs: []string{}},
		},
	}
}

func newTestService(t *testing.T, opts Options) (*Service, *fakeScheduler) {
	t.Helper()
	sched := &fakeScheduler{durable: true}
	if opts.Scheduler == nil {
		opts.Scheduler = sched
	}
	svc := New(opts)
	svc.mu.Lock()
	svc.data = testData()
	svc.mu.Unlock()
	return svc, sched
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func b64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func requireDomainCode(t *testing.T, err error, code string) {
	t.Helper()
	var de *DomainError
	require.True(t, errors.As(err, &de), "expected DomainError, got %v", err)
	assert.Equal(t, code, de.Code)
}

func TestAddCharacterDefaultsName(t *testing.T) {
	svc, sched := newTestService(t, Options{})

	c := svc.AddCharacter("  ")
	assert.Equal(t, defaultCharacterName, c.Name)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, []string{}, c.TagIDs)
	require.Len(t, sched.snapshots, 1)
	assert.Len(t, sched.last().Dataset.Characters, 3)
	assert.NotNil(t, sched.last().Timeline)
}

func TestUpdateCharacter(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	_, err := svc.UpdateCharacter(dataset.Character{ID: "c1", Name: ""})
	requireDomainCode(t, err, "VALIDATION_ERROR")

	_, err = svc.UpdateCharacter(dataset.Character{ID: "missing", Name: "X"})
	requireDomainCode(t, err, "NOT_FOUND")

	updated, err := svc.UpdateCharacter(dataset.Character{ID: "c1", Name: "Alicia", Notes: "n"})
	require.NoError(t, err)
	assert.Equal(t, []string{}, updated.TagIDs)
	assert.Empty(t, updated.Image, "the record is replaced wholesale")
	assert.Equal(t, "Alicia", svc.Dataset().Characters[0].Name)
}

func TestDeleteCharacterCascadesWithoutLedger(t *testing.T) {
	svc, sched := newTestService(t, Options{})

	require.NoError(t, svc.DeleteCharacter("c1"))

	d := svc.Dataset()
	assert.Len(t, d.Characters, 1)
	assert.Empty(t, d.Relationships)
	assert.Empty(t, d.CharacterImages)
	snap := sched.last()
	assert.Empty(t, snap.DeletedRelationshipIDs)
	assert.Empty(t, snap.DeletedImageIDs)

	requireDomainCode(t, svc.DeleteCharacter("c1"), "NOT_FOUND")
}

func TestSaveRelationshipDirections(t *testing.T) {
	tests := []struct {
		direction Direction
		want      [][2]string
		style     string
	}{
		{DirectionTo, [][2]string{{"c1", "c2"}}, dataset.ArrowStyleArrow},
		{DirectionFrom, [][2]string{{"c2", "c1"}}, dataset.ArrowStyleArrow},
		{DirectionBoth, [][2]string{{"c1", "c2"}, {"c2", "c1"}}, dataset.ArrowStyleArrow},
		{DirectionNone, [][2]string{{"c1", "c2"}, {"c2", "c1"}}, dataset.ArrowStyleNone},
	}
	for _, tt := range tests {
		t.Run(string(tt.direction), func(t *testing.T) {
			svc, _ := newTestService(t, Options{})
			created, err := svc.SaveRelationship(RelationshipInput{Source: "c1", Target: "c2", Label: "rival", Direction: tt.direction})
			require.NoError(t, err)
			require.Len(t, created, len(tt.want))
			for i, r := range created {
				assert.Equal(t, tt.want[i][0], r.Source)
				assert.Equal(t, tt.want[i][1], r.Target)
				assert.Equal(t, tt.style, r.ArrowStyle)
				assert.Equal(t, "rival", r.Label)
			}
			assert.Len(t, svc.Dataset().Relationships, 1+len(tt.want))
		})
	}
}

func TestSaveRelationshipValidation(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	cases := []RelationshipInput{
		{Source: "c1", Target: "c1", Label: "self"},
		{Source: "c1", Target: "nobody", Label: "x"},
		{Source: "c1", Target: "c2", Label: "  "},
		{Source: "c1", Target: "c2", Label: "x", Direction: "sideways"},
		{Target: "c2", Label: "x"},
	}
	for _, in := range cases {
		_, err := svc.SaveRelationship(in)
		requireDomainCode(t, err, "VALIDATION_ERROR")
	}
	assert.Len(t, svc.Dataset().Relationships, 1)
}

func TestSaveRelationshipReplaceLedgersSuperseded(t *testing.T) {
	svc, sched := newTestService(t, Options{})

	created, err := svc.SaveRelationship(RelationshipInput{Source: "c1", Target: "c2", Label: "partner", ReplaceIDs: []string{"r1"}})
	require.NoError(t, err)

	rels := svc.Dataset().Relationships
	require.Len(t, rels, 1)
	assert.Equal(t, created[0].ID, rels[0].ID)
	assert.Equal(t, []string{"r1"}, sched.last().DeletedRelationshipIDs)
}

func TestReplaceAndDeleteRelationshipsLedger(t *testing.T) {
	svc, sched := newTestService(t, Options{})

	out := svc.ReplaceRelationships([]dataset.Relationship{{Source: "c2", Target: "c1", Label: "ally"}})
	require.Len(t, out, 1)
	assert.NotEmpty(t, out[0].ID)
	assert.Equal(t, []string{"r1"}, sched.last().DeletedRelationshipIDs)

	require.NoError(t, svc.DeleteRelationship(out[0].ID))
	assert.ElementsMatch(t, []string{"r1", out[0].ID}, sched.last().DeletedRelationshipIDs)
	requireDomainCode(t, svc.DeleteRelationship("gone"), "NOT_FOUND")
}

func TestRestoredRelationshipLeavesLedger(t *testing.T) {
	svc, sched := newTestService(t, Options{})
	before := svc.Dataset().Relationships

	require.NoError(t, svc.DeleteRelationship("r1"))
	assert.Equal(t, []string{"r1"}, sched.last().DeletedRelationshipIDs)

	out := svc.ReplaceRelationships(before)
	require.Len(t, out, 1)
	assert.Equal(t, "r1", out[0].ID)
	assert.Empty(t, sched.last().DeletedRelationshipIDs, "a live id is never tombstoned")
}

func TestSaveRelationshipSkipsExistingSignature(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	_, err := svc.SaveRelationship(RelationshipInput{Source: "c1", Target: "c2", Label: "friend"})
	requireDomainCode(t, err, "CONFLICT")
	assert.Len(t, svc.Dataset().Relationships, 1)

	created, err := svc.SaveRelationship(RelationshipInput{Source: "c1", Target: "c2", Label: "friend", Direction: DirectionBoth})
	require.NoError(t, err)
	require.Len(t, created, 1, "only the missing half is added")
	assert.Equal(t, "c2", created[0].Source)
	assert.Equal(t, "c1", created[0].Target)
	assert.Len(t, svc.Dataset().Relationships, 2)

	created, err = svc.SaveRelationship(RelationshipInput{Source: "c1", Target: "c2", Label: "friend", ReplaceIDs: []string{"r1"}})
	require.NoError(t, err, "a replaced record does not count as existing")
	require.Len(t, created, 1)
}

func TestFindOrCreateTagIgnoresCase(t *testing.T) {
	svc, sched := newTestService(t, Options{})

	res, err := svc.FindOrCreateTag("tall", "外貌")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "t1", res.Tag.ID)
	assert.Empty(t, sched.snapshots, "lookup alone does not write")

	res, err = svc.FindOrCreateTag("Short", "")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.CategoryCreated)
	assert.Equal(t, "cat1", res.CategoryID)

	res, err = svc.FindOrCreateTag("Brave", "personality")
	require.NoError(t, err)
	assert.True(t, res.CategoryCreated)
	cats := svc.TagCategories()
	require.Len(t, cats, 2)
	assert.Equal(t, defaultCategoryColor, cats[1].Color)
	assert.Equal(t, dataset.SelectionMultiple, cats[1].SelectionMode)

	_, err = svc.FindOrCreateTag(" ", "")
	requireDomainCode(t, err, "VALIDATION_ERROR")
}

func TestAddCategoryCyclesPalette(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	cat, err := svc.AddCategory(CategoryInput{})
	require.NoError(t, err)
	assert.Equal(t, defaultCategoryName, cat.Name)
	assert.Equal(t, categoryPalette[1], cat.Color)
	assert.Equal(t, dataset.SelectionMultiple, cat.SelectionMode)

	_, err = svc.AddCategory(CategoryInput{Name: "x", SelectionMode: "many"})
	requireDomainCode(t, err, "VALIDATION_ERROR")
}

func TestDeleteTagLeavesCharacterReferences(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	_, err := svc.UpdateCharacter(dataset.Character{ID: "c2", Name: "Bob", TagIDs: []string{"t1"}})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTag("cat1", "t1"))
	assert.Empty(t, svc.TagCategories()[0].Tags)
	assert.Equal(t, []string{"t1"}, svc.Dataset().Characters[1].TagIDs)

	requireDomainCode(t, svc.DeleteTag("cat1", "t1"), "NOT_FOUND")
	requireDomainCode(t, svc.DeleteCategory("nope"), "NOT_FOUND")
}

func TestAddImageStoresAndOffersAvatar(t *testing.T) {
	var uploaded images.Upload
	store := &fakeImages{putFn: func(_ context.Context, up images.Upload) (images.Stored, error) {
		uploaded = up
		return images.Stored{URL: images.PublicPrefix + up.FileName}, nil
	}}
	svc, _ := newTestService(t, Options{Images: store})

	res, err := svc.AddImage(context.Background(), "c2", ImageUpload{Data: "data:image/png;base64," + b64(pngBytes(t, 8, 8)), Notes: "n"})
	require.NoError(t, err)
	assert.True(t, res.OfferAsAvatar)
	assert.False(t, res.Embedded)
	assert.Equal(t, "Bob", uploaded.CharacterName)
	assert.Regexp(t, `\.jpg$`, uploaded.FileName)
	assert.Equal(t, images.PublicPrefix+uploaded.FileName, res.Image.ImageDataURL)

	res, err = svc.AddImage(context.Background(), "c1", ImageUpload{Data: b64(pngBytes(t, 8, 8))})
	require.NoError(t, err)
	assert.False(t, res.OfferAsAvatar, "Alice already has an avatar")
}

func TestAddImageEmbedsWhenStorageFails(t *testing.T) {
	store := &fakeImages{putFn: func(context.Context, images.Upload) (images.Stored, error) {
		return images.Stored{}, errors.New("disk full")
	}}
	svc, _ := newTestService(t, Options{Images: store})

	res, err := svc.AddImage(context.Background(), "c2", ImageUpload{Data: b64(pngBytes(t, 4, 4))})
	require.NoError(t, err)
	assert.True(t, res.Embedded)
	assert.True(t, dataset.IsEmbedded(res.Image.ImageDataURL))

	_, err = svc.AddImage(context.Background(), "c2", ImageUpload{Data: "not base64!"})
	requireDomainCode(t, err, "VALIDATION_ERROR")
	_, err = svc.AddImage(context.Background(), "zz", ImageUpload{Data: b64(pngBytes(t, 4, 4))})
	requireDomainCode(t, err, "NOT_FOUND")
}

func TestDeleteImageClearsMatchingAvatar(t *testing.T) {
	svc, sched := newTestService(t, Options{})

	require.NoError(t, svc.DeleteImage("i1"))
	d := svc.Dataset()
	assert.Empty(t, d.CharacterImages)
	assert.Empty(t, d.Characters[0].Image)
	assert.Equal(t, []string{"i1"}, sched.last().DeletedImageIDs)
}

func TestSetAvatarCropsGalleryImage(t *testing.T) {
	store := &fakeImages{readFn: func(_ context.Context, url string) ([]byte, error) {
		if url != "/character_images/a.jpg" {
			return nil, images.ErrForeignURL
		}
		return pngBytes(t, 64, 64), nil
	}}
	svc, _ := newTestService(t, Options{Images: store})

	c, err := svc.SetAvatar(context.Background(), "c1", AvatarCrop{ImageID: "i1", X: 0, Y: 0, Size: 32})
	require.NoError(t, err)
	assert.True(t, dataset.IsEmbedded(c.Image))
	assert.Len(t, svc.Dataset().CharacterImages, 1, "gallery untouched")

	_, err = svc.SetAvatar(context.Background(), "c1", AvatarCrop{})
	requireDomainCode(t, err, "VALIDATION_ERROR")
	_, err = svc.SetAvatar(context.Background(), "c1", AvatarCrop{Source: "https://elsewhere/x.png"})
	requireDomainCode(t, err, "VALIDATION_ERROR")
}

func TestConsolidateImagesMergesDuplicates(t *testing.T) {
	svc, sched := newTestService(t, Options{})
	svc.mu.Lock()
	svc.data.CharacterImages = append(svc.data.CharacterImages,
		dataset.CharacterImage{ID: "i2", CharacterID: "c1", ImageDataURL: "/character_images/a.jpg", TagIDs: []string{"t1"}, Notes: "left"},
		dataset.CharacterImage{ID: "i3", CharacterID: "c1", ImageDataURL: "/character_images/a.jpg", TagIDs: []string{"t2"}, Notes: "right"},
	)
	svc.mu.Unlock()

	res := svc.ConsolidateImages()
	assert.Equal(t, 1, res.Kept)
	assert.Len(t, res.Removed, 2)

	imgs := svc.Dataset().CharacterImages
	require.Len(t, imgs, 1)
	assert.ElementsMatch(t, []string{"t1", "t2"}, imgs[0].TagIDs)
	assert.Contains(t, imgs[0].Notes, "left")
	assert.Contains(t, imgs[0].Notes, "right")
	assert.ElementsMatch(t, res.Removed, sched.last().DeletedImageIDs)

	again := svc.ConsolidateImages()
	assert.Empty(t, again.Removed)
}

func TestApplyExtraction(t *testing.T) {
	extractor := &fakeExtractor{parseFn: func(context.Context, string) (aiextract.ParsedData, error) {
		return aiextract.ParsedData{
			Characters: []aiextract.ParsedCharacter{{Name: "Alice"}, {Name: "Carol"}, {Name: "Carol"}},
			Relationships: []aiextract.ParsedRelationship{
				{Source: "Alice", Target: "Bob", Label: "friend"},
				{Source: "Carol", Target: "Alice", Label: "mentor"},
				{Source: "Carol", Target: "Alice", Label: "mentor"},
				{Source: "Dave", Target: "Alice", Label: "enemy"},
			},
		}, nil
	}}
	svc, _ := newTestService(t, Options{Extractor: extractor})

	res, err := svc.ApplyExtraction(context.Background(), "a story")
	require.NoError(t, err)
	require.Len(t, res.Characters, 1)
	assert.Equal(t, "Carol", res.Characters[0].Name)
	require.Len(t, res.Relationships, 1)
	assert.Equal(t, res.Characters[0].ID, res.Relationships[0].Source)
	assert.Equal(t, "c1", res.Relationships[0].Target)
	assert.Equal(t, 1, res.Dropped)

	d := svc.Dataset()
	assert.Len(t, d.Characters, 3)
	assert.Len(t, d.Relationships, 2)

	_, err = svc.ApplyExtraction(context.Background(), " ")
	requireDomainCode(t, err, "VALIDATION_ERROR")
}

func TestAIErrorsMapToCodes(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	_, err := svc.ApplyExtraction(context.Background(), "text")
	requireDomainCode(t, err, "AI_NOT_CONFIGURED")

	extractor := &fakeExtractor{parseFn: func(context.Context, string) (aiextract.ParsedData, error) {
		return aiextract.ParsedData{}, aiextract.ErrInvalidKey
	}}
	svc, _ = newTestService(t, Options{Extractor: extractor})
	_, err = svc.ApplyExtraction(context.Background(), "text")
	requireDomainCode(t, err, "AI_UNAVAILABLE")
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusBadGateway, de.Status)
}

func TestApplyImageTags(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	img, err := svc.ApplyImageTags("i1", ImageTagsInput{Existing: []string{"TALL", "unknown"}, New: []string{"Freckles"}})
	require.NoError(t, err)
	require.Len(t, img.TagIDs, 2)
	assert.Equal(t, "t1", img.TagIDs[0])

	cats := svc.TagCategories()
	require.Len(t, cats[0].Tags, 2)
	assert.Equal(t, "Freckles", cats[0].Tags[1].Label)
}

func TestExtractTagsInto(t *testing.T) {
	extractor := &fakeExtractor{tagsFn: func(context.Context, string) ([]string, error) {
		return []string{"tall", "Scarred", "scarred", ""}, nil
	}}
	svc, _ := newTestService(t, Options{Extractor: extractor})

	added, err := svc.ExtractTagsInto(context.Background(), "text", "cat1")
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "Scarred", added[0].Label)

	_, err = svc.ExtractTagsInto(context.Background(), "text", "missing")
	requireDomainCode(t, err, "NOT_FOUND")
}

func TestImportCharactersReplacesLedgerWhenPresent(t *testing.T) {
	svc, sched := newTestService(t, Options{})
	_, err := svc.ImportCharacters([]byte(`{"characters":[]}`))
	requireDomainCode(t, err, "VALIDATION_ERROR")

	raw := `{"characters":[{"id":"x1","name":"Xena"}],"relationships":[],"characterImages":[],"deletedRelationshipIds":["old"]}`
	res, err := svc.ImportCharacters([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Characters)
	snap := sched.last()
	assert.Equal(t, []string{"old"}, snap.DeletedRelationshipIDs)
	assert.Len(t, svc.Dataset().TagCategories, 1, "tag categories are untouched")
}

func TestImportCharactersRestoresLedgeredRecords(t *testing.T) {
	svc, sched := newTestService(t, Options{})

	raw := `{
		"characters": [{"id": "x1", "name": "Xena"}, {"id": "x2", "name": "Yuri"}],
		"relationships": [{"id": "rx", "source": "x1", "target": "x2", "label": "ally"}],
		"characterImages": [{"id": "ix", "characterId": "x1", "imageDataUrl": "/character_images/x.jpg", "tagIds": []}],
		"deletedRelationshipIds": ["rx", "old"],
		"deletedImageIds": ["ix"]
	}`
	_, err := svc.ImportCharacters([]byte(raw))
	require.NoError(t, err)

	snap := sched.last()
	assert.Equal(t, []string{"old"}, snap.DeletedRelationshipIDs)
	assert.Empty(t, snap.DeletedImageIDs)
	assert.Len(t, svc.Dataset().Relationships, 1)
	assert.Len(t, svc.Dataset().CharacterImages, 1)
}

func TestResetKeepsTimeline(t *testing.T) {
	svc, sched := newTestService(t, Options{})
	_, err := svc.SaveTimelineEvent(timeline.Event{Title: "Founding", StartYear: 3})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteRelationship("r1"))

	svc.Reset()
	d := svc.Dataset()
	assert.Empty(t, d.Characters)
	assert.Empty(t, d.TagCategories)
	snap := sched.last()
	assert.Empty(t, snap.DeletedRelationshipIDs)
	require.NotNil(t, snap.Timeline)
	assert.Len(t, snap.Timeline.Events, 1)
}

func TestTimelineErrors(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	requireDomainCode(t, svc.DeleteTimelineEvent("nope"), "NOT_FOUND")
	_, err := svc.AddTimelineTag("war", "#f00")
	require.NoError(t, err)
	_, err = svc.AddTimelineTag("war", "#0f0")
	requireDomainCode(t, err, "CONFLICT")

	loc, err := svc.AddTimelineLocation("Capital", "", "")
	require.NoError(t, err)
	_, err = svc.SaveTimelineEvent(timeline.Event{Title: "Siege", StartYear: 1, Location: "Capital"})
	require.NoError(t, err)
	requireDomainCode(t, svc.DeleteTimelineLocation(loc.ID), "CONFLICT")
}

func TestTimelineEventsResolvesCharacterNames(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	_, err := svc.SaveTimelineEvent(timeline.Event{Title: "Meeting", StartYear: 2, CharacterIDs: []string{"c2"}})
	require.NoError(t, err)

	assert.Len(t, svc.TimelineEvents(timeline.Filter{Query: "bob"}), 1)
	assert.Empty(t, svc.TimelineEvents(timeline.Filter{Query: "alice"}))
}

func TestLoadInstallsResultAndWarnsOnFallback(t *testing.T) {
	loader := &fakeLoader{loadFn: func(context.Context) (LoadResult, error) {
		return LoadResult{Fallback: true, Reason: "project data unavailable"}, nil
	}}
	warnings := NewWarnings(5)
	svc := New(Options{Loader: loader, Warnings: warnings})

	require.NoError(t, svc.Load(context.Background()))
	view := svc.Data()
	assert.True(t, view.Fallback)
	assert.Equal(t, "project data unavailable", view.FallbackReason)
	require.Len(t, view.Warnings, 1)
	assert.Equal(t, []string{}, view.DeletedImageIDs)
}

func TestReloadFlushesFirst(t *testing.T) {
	var order []string
	sched := &fakeScheduler{flushFn: func(context.Context) error {
		order = append(order, "flush")
		return nil
	}}
	loader := &fakeLoader{loadFn: func(context.Context) (LoadResult, error) {
		order = append(order, "load")
		return LoadResult{}, nil
	}}
	svc := New(Options{Loader: loader, Scheduler: sched})

	require.NoError(t, svc.Reload(context.Background()))
	assert.Equal(t, []string{"flush", "load"}, order)
}

func TestSaveMetadata(t *testing.T) {
	users := &fakeUserStore{}
	svc, _ := newTestService(t, Options{UserStore: users})

	requireDomainCode(t, svc.SaveMetadata(context.Background(), nil), "VALIDATION_ERROR")
	require.NoError(t, svc.SaveMetadata(context.Background(), map[string]json.RawMessage{"note": json.RawMessage(`"hi"`)}))
	assert.Equal(t, json.RawMessage(`"hi"`), users.merged["note"])

	svc, _ = newTestService(t, Options{})
	requireDomainCode(t, svc.SaveMetadata(context.Background(), map[string]json.RawMessage{"a": nil}), "STORAGE_UNAVAILABLE")
}
