package images

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalStore writes uploads to a public directory with a thumbnails/
// subdirectory, and mirrors them into an existing per-character folder
// under mirrorDir when one is present.
type LocalStore struct {
	dir       string
	mirrorDir string
	logger    *zap.Logger
}

func NewLocalStore(dir, mirrorDir string, logger *zap.Logger) *LocalStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalStore{dir: dir, mirrorDir: mirrorDir, logger: logger}
}

func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Put(_ context.Context, up Upload) (Stored, error) {
	if err := up.validate(); err != nil {
		return Stored{}, err
	}
	name, err := cleanName(up.FileName)
	if err != nil {
		return Stored{}, err
	}

	if err := writeFile(filepath.Join(s.dir, name), up.Data); err != nil {
		return Stored{}, err
	}
	out := Stored{URL: PublicPrefix + name}

	thumb, err := Thumbnail(up.Data, ThumbnailWidth)
	if err != nil {
		s.logger.Warn("thumbnail generation failed", zap.String("file", name), zap.Error(err))
	} else if err := writeFile(filepath.Join(s.dir, "thumbnails", name), thumb); err != nil {
		s.logger.Warn("write thumbnail", zap.String("file", name), zap.Error(err))
	} else {
		out.ThumbnailURL = PublicPrefix + "thumbnails/" + name
	}

	s.mirror(up.CharacterName, name, up.Data, thumb)
	return out, nil
}

func (s *LocalStore) Read(_ context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, PublicPrefix) {
		return nil, fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	rel := strings.TrimPrefix(url, PublicPrefix)
	if rel == "" || strings.Contains(rel, "..") {
		return nil, fmt.Errorf("%w: bad path %q", ErrInvalidUpload, url)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

// mirror never fails the upload.
func (s *LocalStore) mirror(characterName, name string, data, thumb []byte) {
	if s.mirrorDir == "" {
		return
	}
	charDir := filepath.Join(s.mirrorDir, filepath.Base(characterName))
	if info, err := os.Stat(charDir); err != nil || !info.IsDir() {
		s.logger.Debug("character directory not found, skipping mirror", zap.String("dir", charDir))
		return
	}
	if err := writeFile(filepath.Join(charDir, name), data); err != nil {
		s.logger.Warn("mirror image", zap.String("dir", charDir), zap.Error(err))
		return
	}
	if thumb != nil {
		if err := writeFile(filepath.Join(charDir, "thumbnails", name), thumb); err != nil {
			s.logger.Warn("mirror thumbnail", zap.String("dir", charDir), zap.Error(err))
		}
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

// ThumbnailResult describes one pass of EnsureThumbnail.
type ThumbnailResult struct {
	URL     string
	Created bool
}

// EnsureThumbnail makes sure a `thumb_<file>` JPEG exists next to the image
// behind a /character_images/ URL, creating it when missing. publicRoot is
// the directory that URL path is relative to.
func EnsureThumbnail(publicRoot, imageURL string) (ThumbnailResult, error) {
	if len(imageURL) <= len(PublicPrefix) || imageURL[:len(PublicPrefix)] != PublicPrefix {
		return ThumbnailResult{}, fmt.Errorf("%w: not a local image url %q", ErrInvalidUpload, imageURL)
	}
	name := filepath.Base(imageURL)
	thumbName := "thumb_" + name
	thumbPath := filepath.Join(publicRoot, filepath.FromSlash(PublicPrefix), "thumbnails", thumbName)
	result := ThumbnailResult{URL: PublicPrefix + "thumbnails/" + thumbName}

	if _, err := os.Stat(thumbPath); err == nil {
		return result, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return ThumbnailResult{}, fmt.Errorf("stat thumbnail: %w", err)
	}

	original, err := os.ReadFile(filepath.Join(publicRoot, filepath.FromSlash(imageURL)))
	if err != nil {
		return ThumbnailResult{}, fmt.Errorf("read original: %w", err)
	}
	thumb, err := Thumbnail(original, ThumbnailWidth)
	if err != nil {
		return ThumbnailResult{}, err
	}
	if err := writeFile(thumbPath, thumb); err != nil {
		return ThumbnailResult{}, err
	}
	result.Created = true
	return result, nil
}
