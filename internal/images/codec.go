// Package images decodes uploaded image payloads, normalizes them to bounded
// JPEGs, and stores them together with their thumbnails.
package images

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	MaxDimension   = 1024
	ThumbnailWidth = 200
	AvatarSize     = 512
	JPEGQuality    = 85
)

var ErrInvalidImage = errors.New("images: invalid image payload")

// DecodeDataURL strips a `data:image/<x>;base64,` prefix if present and
// decodes the base64 payload.
func DecodeDataURL(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 || !strings.Contains(payload[:comma], ";base64") {
			return nil, fmt.Errorf("%w: unsupported data url", ErrInvalidImage)
		}
		payload = payload[comma+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return raw, nil
}

// JPEGDataURL embeds JPEG bytes as a data URL.
func JPEGDataURL(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Normalize re-encodes data as JPEG, scaling it down so neither side exceeds
// maxDim. Transparent pixels are flattened onto white.
func Normalize(data []byte, maxDim int) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := fit(b.Dx(), b.Dy(), maxDim, maxDim)
	return encodeJPEG(scale(img, b, w, h))
}

// Thumbnail scales data to width pixels wide, keeping the aspect ratio.
// Images narrower than width are not enlarged.
func Thumbnail(data []byte, width int) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > width {
		h = max(1, h*width/w)
		w = width
	}
	return encodeJPEG(scale(img, b, w, h))
}

// Crop cuts the square (x, y, size) out of data, clamped to the image, and
// scales it to an out x out JPEG.
func Crop(data []byte, x, y, size, out int) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if size <= 0 {
		size = min(b.Dx(), b.Dy())
	}
	size = min(size, b.Dx(), b.Dy())
	x = clamp(x, 0, b.Dx()-size)
	y = clamp(y, 0, b.Dy()-size)
	src := image.Rect(b.Min.X+x, b.Min.Y+y, b.Min.X+x+size, b.Min.Y+y+size)
	return encodeJPEG(scale(img, src, out, out))
}

func scale(img image.Image, src image.Rectangle, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	return dst
}

func fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	if w*maxH > h*maxW {
		return maxW, max(1, h*maxW/w)
	}
	return max(1, w*maxH/h), maxH
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return min(max(v, lo), hi)
}
