package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"charmap/api/internal/app"
	"charmap/api/internal/dataset"
	"charmap/api/internal/dedupe"
	"charmap/api/internal/export"
	"charmap/api/internal/images"
	"charmap/api/internal/logging"
	"charmap/api/internal/merge"
	"charmap/api/internal/persist"
	"charmap/api/internal/source"
	"charmap/api/internal/store"
)

func mergeCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "merge",
		Short: "Reconcile the project, user and cache files into one dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := load(cmd)
			if err != nil {
				return err
			}
			if res.Fallback {
				return fmt.Errorf("project data unusable: %s", res.Reason)
			}
			out, err := export.Encode(persist.CacheDocument(persist.Snapshot{
				Dataset:                res.Result.Dataset,
				DeletedRelationshipIDs: res.Result.Ledger.RelationshipIDs(),
				DeletedImageIDs:        res.Result.Ledger.ImageIDs(),
			}))
			if err != nil {
				return err
			}
			return writeOutput(cmd, out)
		},
	}
	command.Flags().String("cache", "", "cached snapshot file")
	command.Flags().StringP("output", "o", "", "output file, stdout when empty")
	return command
}

func exportCmd() *cobra.Command {
	command := &cobra.Command{
		Use:       "export characters|tags",
		Short:     "Write a backup bundle of the reconciled dataset",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"characters", "tags"},
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := load(cmd)
			if err != nil {
				return err
			}
			var bundle any
			switch args[0] {
			case "characters":
				bundle = export.NewCharacterBundle(res.Result.Dataset, res.Result.Ledger.RelationshipIDs())
			case "tags":
				bundle = export.NewTagBundle(res.Result.Dataset.TagCategories)
			default:
				return fmt.Errorf("unknown bundle %q", args[0])
			}
			out, err := export.Encode(bundle)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out)
		},
	}
	command.Flags().String("cache", "", "cached snapshot file")
	command.Flags().StringP("output", "o", "", "output file, stdout when empty")
	return command
}

// importCmd writes a characters bundle into the user data file the way the
// running service would persist it.
func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import characters <bundle.json>",
		Short: "Load a characters bundle into the user data file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] != "characters" {
				return fmt.Errorf("only characters bundles can be imported offline")
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			bundle, err := export.DecodeCharacterBundle(raw)
			if err != nil {
				return err
			}
			payload := persist.BuildUserPayload(persist.Snapshot{
				Dataset: dataset.Dataset{
					Characters:      bundle.Characters,
					Relationships:   bundle.Relationships,
					CharacterImages: bundle.CharacterImages,
				},
				DeletedRelationshipIDs: bundle.DeletedRelationshipIDs,
				DeletedImageIDs:        bundle.DeletedImageIDs,
			})
			fields, err := payload.TopLevel()
			if err != nil {
				return err
			}
			if !bundle.HasDeletedImageIDs {
				delete(fields, "deletedImageIds")
			}
			if !bundle.HasDeletedRelationshipIDs {
				delete(fields, "deletedRelationshipIds")
			}
			userPath, _ := cmd.Flags().GetString("user")
			if _, err := store.NewFileStore(userPath).Merge(cmd.Context(), fields); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d characters, %d relationships, %d images\n",
				len(bundle.Characters), len(bundle.Relationships), len(bundle.CharacterImages))
			return nil
		},
	}
}

func dedupeCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "dedupe",
		Short: "Fold duplicate character ids in the user data file",
		RunE: func(cmd *cobra.Command, args []string) error {
			userPath, _ := cmd.Flags().GetString("user")
			mapPath, _ := cmd.Flags().GetString("map")
			rawMap, err := os.ReadFile(mapPath)
			if err != nil {
				return err
			}
			ids, err := dedupe.ParseIDMap(rawMap)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(userPath)
			if err != nil {
				return err
			}

			backup := fmt.Sprintf("%s.backup.%s.json", strings.TrimSuffix(userPath, ".json"),
				strings.NewReplacer(":", "-", ".", "-").Replace(time.Now().UTC().Format(time.RFC3339Nano)))
			if err := os.WriteFile(backup, raw, 0o644); err != nil {
				return fmt.Errorf("write backup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", backup)

			out, report, err := dedupe.Apply(raw, ids)
			if err != nil {
				return err
			}
			if err := store.NewFileStore(userPath).Replace(cmd.Context(), out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d characters, removed %d relationships and %d images\n",
				report.MergedCharacters, report.RemovedRelationships, report.RemovedImages)
			return nil
		},
	}
	command.Flags().String("map", "id_map.json", `id map file, {"oldId": "canonicalId"}`)
	return command
}

func seedCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "seed",
		Short: "Write the built-in sample dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := export.Encode(dataset.Seed())
			if err != nil {
				return err
			}
			return writeOutput(cmd, out)
		},
	}
	command.Flags().StringP("output", "o", "", "output file, stdout when empty")
	return command
}

// thumbnailsCmd creates missing thumbnails for local gallery images and
// records their URLs in the user data file.
func thumbnailsCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "thumbnails",
		Short: "Generate missing gallery thumbnails",
		RunE: func(cmd *cobra.Command, args []string) error {
			userPath, _ := cmd.Flags().GetString("user")
			publicRoot, _ := cmd.Flags().GetString("public")
			users := store.NewFileStore(userPath)
			raw, err := users.Load(cmd.Context())
			if err != nil {
				return err
			}
			user, err := dataset.DecodeUserData(raw)
			if err != nil {
				return err
			}

			var created, skipped, failed int
			changed := false
			for i, img := range user.CharacterImages {
				if !strings.HasPrefix(img.ImageDataURL, images.PublicPrefix) {
					skipped++
					continue
				}
				res, err := images.EnsureThumbnail(publicRoot, img.ImageDataURL)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", img.ImageDataURL, err)
					failed++
					continue
				}
				if res.Created {
					created++
				}
				if img.ThumbnailURL != res.URL {
					user.CharacterImages[i].ThumbnailURL = res.URL
					changed = true
				}
			}
			if changed {
				encoded, err := json.Marshal(user.CharacterImages)
				if err != nil {
					return err
				}
				if _, err := users.Merge(cmd.Context(), map[string]json.RawMessage{"characterImages": encoded}); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d, skipped %d, failed %d\n", created, skipped, failed)
			return nil
		},
	}
	command.Flags().String("public", "public", "directory that serves /character_images/")
	return command
}

// load reconciles the files named by the flags with the same loader the
// server uses.
func load(cmd *cobra.Command) (app.LoadResult, error) {
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := logging.New(level, "console")
	if err != nil {
		return app.LoadResult{}, err
	}
	projectPath, _ := cmd.Flags().GetString("project")
	userPath, _ := cmd.Flags().GetString("user")

	cache := persist.NewMemoryPort(0)
	if cachePath, _ := cmd.Flags().GetString("cache"); cachePath != "" {
		raw, err := os.ReadFile(cachePath)
		if err != nil {
			return app.LoadResult{}, err
		}
		if err := cache.Write(cmd.Context(), persist.KeyCharacterMap, raw); err != nil {
			return app.LoadResult{}, err
		}
	}

	engine := merge.NewEngine(logger.Named("merge"), nil)
	loader := app.NewLoader(source.NewFileFetcher(projectPath), store.NewFileStore(userPath), cache, engine, logger)
	return loader.Load(cmd.Context())
}

func writeOutput(cmd *cobra.Command, data []byte) error {
	path, _ := cmd.Flags().GetString("output")
	var w io.Writer = cmd.OutOrStdout()
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	_, err := w.Write(data)
	return err
}
