package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"charmap/api/internal/merge"
	"charmap/api/internal/persist"
	"charmap/api/internal/store"
)

// bootService builds a service the way cmd/api does with the default file
// cache, backed by dir.
func bootService(t *testing.T, dir string) (*Service, *persist.Scheduler) {
	t.Helper()
	users := store.NewFileStore(filepath.Join(dir, "user_data.json"))
	cache := persist.NewFilePort(filepath.Join(dir, ".charmap_cache"), 0)
	scheduler := persist.NewScheduler(zap.NewNop(), cache, persist.NewStoreSink(users, nil), persist.Options{
		Delay:           time.Hour,
		CanWriteDurable: true,
	})
	engine := merge.NewEngine(zap.NewNop(), nil)
	svc := New(Options{
		Engine:    engine,
		Loader:    NewLoader(staticProject(projectJSON), users, cache, engine, zap.NewNop()),
		Scheduler: scheduler,
		UserStore: users,
	})
	require.NoError(t, svc.Load(context.Background()))
	return svc, scheduler
}

func TestUserCreatedRecordsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	svc, scheduler := bootService(t, dir)
	carol := svc.AddCharacter("Carol")
	_, err := svc.SaveRelationship(RelationshipInput{Source: "c1", Target: carol.ID, Label: "mentor"})
	require.NoError(t, err)
	cat, err := svc.AddCategory(CategoryInput{Name: "陣營"})
	require.NoError(t, err)
	tag, err := svc.AddTag(cat.ID, "Rebels")
	require.NoError(t, err)
	require.NoError(t, scheduler.Close(ctx))

	restarted, scheduler := bootService(t, dir)
	defer scheduler.Close(ctx)
	d := restarted.Dataset()

	_, found := d.FindCharacter(carol.ID)
	require.True(t, found, "character created before the restart")

	ids := map[string]bool{}
	for _, c := range d.Characters {
		ids[c.ID] = true
	}
	for _, r := range d.Relationships {
		assert.True(t, ids[r.Source] && ids[r.Target], "relationship %s points at a missing character", r.ID)
	}

	var restoredTag bool
	for _, c := range d.TagCategories {
		for _, tg := range c.Tags {
			restoredTag = restoredTag || tg.ID == tag.ID
		}
	}
	assert.True(t, restoredTag, "tag created before the restart")
}
