package images

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// PublicPrefix is the URL path under which stored images are served.
const PublicPrefix = "/character_images/"

var (
	ErrInvalidUpload = errors.New("images: invalid upload")
	ErrForeignURL    = errors.New("images: url not served by this store")
)

// Upload is one image file to store for a character.
type Upload struct {
	CharacterName string
	FileName      string
	Data          []byte
}

// Stored reports where an upload ended up.
type Stored struct {
	URL          string `json:"path"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// Store persists uploads and returns their public URLs. Read loads the bytes
// behind a URL previously returned by Put.
type Store interface {
	Put(ctx context.Context, up Upload) (Stored, error)
	Read(ctx context.Context, url string) ([]byte, error)
}

func (u Upload) validate() error {
	if strings.TrimSpace(u.CharacterName) == "" || strings.TrimSpace(u.FileName) == "" || len(u.Data) == 0 {
		return fmt.Errorf("%w: missing required fields", ErrInvalidUpload)
	}
	return nil
}

// cleanName reduces a client-supplied file name to its base so it cannot
// escape the target directory.
func cleanName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" || base == ".." || base == "" {
		return "", fmt.Errorf("%w: bad file name %q", ErrInvalidUpload, name)
	}
	return base, nil
}
