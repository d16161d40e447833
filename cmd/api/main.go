package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	migrationsfs "charmap/api/db"
	"charmap/api/internal/aiextract"
	"charmap/api/internal/app"
	"charmap/api/internal/config"
	"charmap/api/internal/export"
	"charmap/api/internal/gitrepo"
	"charmap/api/internal/images"
	"charmap/api/internal/logging"
	"charmap/api/internal/merge"
	"charmap/api/internal/persist"
	"charmap/api/internal/search"
	"charmap/api/internal/source"
	"charmap/api/internal/store"
	"charmap/api/internal/watch"
)

type userStore interface {
	Load(ctx context.Context) ([]byte, error)
	Merge(ctx context.Context, fields map[string]json.RawMessage) ([]byte, error)
}

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	users, closeUsers, err := openUserStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeUsers()

	cache, err := openCache(cfg, logger)
	if err != nil {
		return err
	}

	var history *gitrepo.Service
	if strings.TrimSpace(cfg.HistoryDir) != "" {
		if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
		history = gitrepo.New(cfg.HistoryDir, "charmap")
	}

	var sink persist.DurableSink
	switch {
	case strings.TrimSpace(cfg.DurableEndpoint) != "":
		sink = persist.NewHTTPSink(cfg.DurableEndpoint, nil)
	case history != nil:
		sink = persist.NewStoreSink(users, history)
	default:
		sink = persist.NewStoreSink(users, nil)
	}

	warnings := app.NewWarnings(0)
	scheduler := persist.NewScheduler(logger.Named("persist"), cache, sink, persist.Options{
		Delay:             cfg.SaveDebounce,
		QuotaWarnInterval: cfg.QuotaWarnInterval,
		CanWriteDurable:   cfg.CanWriteDurable(),
		Warn:              warnings.Add,
	})

	searchService, closeSearch := openSearch(cfg, logger)
	defer closeSearch()

	imageStore, err := openImages(ctx, cfg, logger)
	if err != nil {
		return err
	}

	extractor, err := aiextract.New(ctx, aiextract.Options{
		Provider:     cfg.AIProvider,
		GeminiAPIKey: cfg.GeminiAPIKey,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
	})
	if err != nil {
		return err
	}
	if _, disabled := extractor.(aiextract.Disabled); disabled {
		logger.Info("AI extraction disabled, no API key configured")
	}

	engine := merge.NewEngine(logger.Named("merge"), cfg.LegacySingleCategories)
	project := source.New(cfg.ProjectDataPath, nil)
	opts := app.Options{
		Logger:             logger.Named("app"),
		Engine:             engine,
		Loader:             app.NewLoader(project, users, cache, engine, logger.Named("loader")),
		Scheduler:          scheduler,
		UserStore:          users,
		Images:             imageStore,
		Extractor:          extractor,
		Search:             searchService,
		PDF:                export.NewPDFRenderer(cfg.ChromeURL),
		Warnings:           warnings,
		DefaultTagCategory: cfg.DefaultTagCategory,
	}
	if history != nil {
		opts.History = history
	}
	service := app.New(opts)
	if err := service.Load(ctx); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}

	if file, ok := project.(*source.FileFetcher); ok && cfg.WatchProject {
		watcher := watch.New(file.Path(), watch.DefaultDebounce, func(ctx context.Context) {
			if err := service.Reload(ctx); err != nil {
				logger.Warn("reload after project change failed", zap.Error(err))
			}
		}, logger.Named("watch"))
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("project watcher stopped", zap.Error(err))
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", app.NewHTTPServer(service, cfg.CORSOrigin, logger.Named("http")).Handler())
	if local, ok := imageStore.(*images.LocalStore); ok {
		mux.Handle(images.PublicPrefix, http.StripPrefix(images.PublicPrefix, http.FileServer(http.Dir(local.Dir()))))
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("charmap API listening",
			zap.String("addr", cfg.Addr),
			zap.Bool("can_write_durable", cfg.CanWriteDurable()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	if err := scheduler.Close(shutdownCtx); err != nil {
		logger.Warn("final save failed", zap.Error(err))
	}
	return nil
}

func openUserStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (userStore, func(), error) {
	if cfg.UserStore != "postgres" {
		logger.Info("using file user data store", zap.String("path", cfg.UserDataPath))
		return store.NewFileStore(cfg.UserDataPath), func() {}, nil
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, migrations(cfg.MigrationsDir), logger.Named("migrate")); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("using postgres user data store")
	return store.NewPostgresStore(db), func() { closeDB(db, logger) }, nil
}

// migrations prefers an on-disk directory so SQL can be edited without a
// rebuild.
func migrations(dir string) fs.FS {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return os.DirFS(dir)
	}
	sub, err := fs.Sub(migrationsfs.Migrations, "migrations")
	if err != nil {
		return migrationsfs.Migrations
	}
	return sub
}

func closeDB(db *sql.DB, logger *zap.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("closing database", zap.Error(err))
	}
}

func openCache(cfg config.Config, logger *zap.Logger) (persist.Port, error) {
	switch strings.TrimSpace(cfg.CacheURL) {
	case "":
		logger.Info("using file cache", zap.String("dir", cfg.CacheDir), zap.Int("max_bytes", cfg.CacheMaxBytes))
		return persist.NewFilePort(cfg.CacheDir, cfg.CacheMaxBytes), nil
	case "memory":
		logger.Info("using in-memory cache", zap.Int("max_bytes", cfg.CacheMaxBytes))
		return persist.NewMemoryPort(cfg.CacheMaxBytes), nil
	}
	port, err := persist.NewRedisPort(cfg.CacheURL, cfg.CacheMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("using redis cache")
	return port, nil
}

func openSearch(cfg config.Config, logger *zap.Logger) (*search.Service, func()) {
	if strings.TrimSpace(cfg.MeiliURL) == "" {
		return search.NewService(nil, logger.Named("search")), func() {}
	}
	meili := search.NewMeiliIndex(cfg.MeiliURL, cfg.MeiliAPIKey, logger.Named("meili"))
	return search.NewService(meili, logger.Named("search")), meili.Close
}

func openImages(ctx context.Context, cfg config.Config, logger *zap.Logger) (images.Store, error) {
	if cfg.ImageBackend != "minio" {
		return images.NewLocalStore(cfg.ImagesDir, cfg.CharactersDir, logger.Named("images")), nil
	}
	minioStore, err := images.NewMinioStore(ctx, images.MinioOptions{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.MinioPublicURL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio setup failed: %w", err)
	}
	return minioStore, nil
}
