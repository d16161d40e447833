package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestDecodeDataURL(t *testing.T) {
	raw := []byte("hello")
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeDataURL("data:image/png;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeDataURL(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodeDataURL("data:image/png,plain")
	assert.True(t, errors.Is(err, ErrInvalidImage))
	_, err = DecodeDataURL("%%%")
	assert.True(t, errors.Is(err, ErrInvalidImage))
}

func TestNormalizeBoundsLongestSide(t *testing.T) {
	out, err := Normalize(testPNG(t, 300, 150), 100)
	require.NoError(t, err)
	w, h := jpegSize(t, out)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)

	out, err = Normalize(testPNG(t, 40, 60), 100)
	require.NoError(t, err)
	w, h = jpegSize(t, out)
	assert.Equal(t, 40, w)
	assert.Equal(t, 60, h)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte("not an image"), MaxDimension)
	assert.True(t, errors.Is(err, ErrInvalidImage))
}

func TestThumbnailWidth(t *testing.T) {
	out, err := Thumbnail(testPNG(t, 400, 100), ThumbnailWidth)
	require.NoError(t, err)
	w, h := jpegSize(t, out)
	assert.Equal(t, ThumbnailWidth, w)
	assert.Equal(t, 50, h)
}

func TestCropProducesSquare(t *testing.T) {
	out, err := Crop(testPNG(t, 120, 80), 100, -5, 60, 32)
	require.NoError(t, err)
	w, h := jpegSize(t, out)
	assert.Equal(t, 32, w)
	assert.Equal(t, 32, h)
}

func TestLocalStorePut(t *testing.T) {
	dir := t.TempDir()
	mirror := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(mirror, "Aria"), 0o755))
	store := NewLocalStore(filepath.Join(dir, "character_images"), mirror, nil)

	data := testPNG(t, 300, 300)
	out, err := store.Put(context.Background(), Upload{CharacterName: "Aria", FileName: "../aria.png", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "/character_images/aria.png", out.URL)
	assert.Equal(t, "/character_images/thumbnails/aria.png", out.ThumbnailURL)

	onDisk, err := os.ReadFile(filepath.Join(dir, "character_images", "aria.png"))
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
	assert.FileExists(t, filepath.Join(dir, "character_images", "thumbnails", "aria.png"))
	assert.FileExists(t, filepath.Join(mirror, "Aria", "aria.png"))
	assert.FileExists(t, filepath.Join(mirror, "Aria", "thumbnails", "aria.png"))
}

func TestLocalStoreSkipsMissingMirror(t *testing.T) {
	mirror := t.TempDir()
	store := NewLocalStore(t.TempDir(), mirror, nil)
	_, err := store.Put(context.Background(), Upload{CharacterName: "Nobody", FileName: "x.png", Data: testPNG(t, 10, 10)})
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(mirror, "Nobody"))
}

func TestLocalStoreRead(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "", nil)
	data := testPNG(t, 20, 20)
	out, err := store.Put(context.Background(), Upload{CharacterName: "Aria", FileName: "a.png", Data: data})
	require.NoError(t, err)

	got, err := store.Read(context.Background(), out.URL)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = store.Read(context.Background(), "https://elsewhere/a.png")
	assert.True(t, errors.Is(err, ErrForeignURL))
	_, err = store.Read(context.Background(), "/character_images/../secret")
	assert.True(t, errors.Is(err, ErrInvalidUpload))
}

func TestLocalStoreValidates(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "", nil)
	_, err := store.Put(context.Background(), Upload{FileName: "x.png", Data: []byte{1}})
	assert.True(t, errors.Is(err, ErrInvalidUpload))
	_, err = store.Put(context.Background(), Upload{CharacterName: "A", FileName: "..", Data: []byte{1}})
	assert.True(t, errors.Is(err, ErrInvalidUpload))
}

func TestEnsureThumbnail(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "character_images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "character_images", "a.png"), testPNG(t, 400, 200), 0o644))

	res, err := EnsureThumbnail(root, "/character_images/a.png")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "/character_images/thumbnails/thumb_a.png", res.URL)

	res, err = EnsureThumbnail(root, "/character_images/a.png")
	require.NoError(t, err)
	assert.False(t, res.Created)

	_, err = EnsureThumbnail(root, "data:image/png;base64,AAAA")
	assert.True(t, errors.Is(err, ErrInvalidUpload))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", contentType("a.PNG"))
	assert.Equal(t, "image/jpeg", contentType("a"))
}
