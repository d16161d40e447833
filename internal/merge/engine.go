// Package merge reconciles the read-only project dataset, the durable user
// dataset and the cached snapshot into one dataset.
package merge

import (
	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"charmap/api/internal/dataset"
	"charmap/api/internal/ledger"
)

// Sources are the three inputs of a reconciliation. Cache is nil when no
// snapshot exists.
type Sources struct {
	Project dataset.Dataset
	User    dataset.UserData
	Cache   *dataset.CacheData
}

// Stats counts what the engine dropped or repaired.
type Stats struct {
	CacheOnlyCharacters     int `json:"cacheOnlyCharacters"`
	DuplicateRelationships  int `json:"duplicateRelationships"`
	TombstonedRelationships int `json:"tombstonedRelationships"`
	TombstonedImages        int `json:"tombstonedImages"`
	DuplicateImages         int `json:"duplicateImages"`
	RecoveredImagePaths     int `json:"recoveredImagePaths"`
}

type Result struct {
	Dataset dataset.Dataset
	Ledger  *ledger.Ledger
	Stats   Stats
}

type Engine struct {
	logger       *zap.Logger
	legacySingle mapset.Set[string]
}

// NewEngine returns an engine. legacySingle lists category names whose
// missing selection mode defaults to single.
func NewEngine(logger *zap.Logger, legacySingle []string) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:       logger,
		legacySingle: mapset.NewSet(legacySingle...),
	}
}

// Reconcile is pure: the same sources always produce the same dataset.
func (e *Engine) Reconcile(src Sources) Result {
	book := ledger.New(src.User.DeletedRelationshipIDs, src.User.DeletedImageIDs)

	var cacheCharacters []dataset.Character
	var cacheCategories []dataset.TagCategory
	if src.Cache != nil {
		cacheCharacters = src.Cache.Characters
		cacheCategories = src.Cache.TagCategories
	}

	var stats Stats
	out := dataset.Dataset{}
	out.Characters, stats.CacheOnlyCharacters = mergeCharacters(src.Project.Characters, src.User.Characters, cacheCharacters)
	out.Relationships = mergeRelationships(src.User.Relationships, src.Project.Relationships, book, &stats)
	out.CharacterImages = mergeImages(src.Project.CharacterImages, src.User.CharacterImages, book, &stats)
	out.TagCategories = e.mergeCategories(src.Project.TagCategories, cacheCategories)
	out.Normalize()

	e.logger.Debug("dataset reconciled",
		zap.Int("characters", len(out.Characters)),
		zap.Int("relationships", len(out.Relationships)),
		zap.Int("images", len(out.CharacterImages)),
		zap.Int("categories", len(out.TagCategories)),
		zap.Int("cache_only_characters", stats.CacheOnlyCharacters),
		zap.Int("duplicate_relationships", stats.DuplicateRelationships),
		zap.Int("duplicate_images", stats.DuplicateImages),
		zap.Int("recovered_image_paths", stats.RecoveredImagePaths),
	)

	return Result{Dataset: out, Ledger: book, Stats: stats}
}
