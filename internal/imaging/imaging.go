// Package imaging normalizes uploaded photos to JPEG.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultQuality is the JPEG quality of normalized photos.
	DefaultQuality = 90
	// maxPixels rejects images that would need an unreasonable amount of memory to decode.
	maxPixels = 50_000_000
)

var (
	ErrEmpty       = errors.New("image is empty")
	ErrUnsupported = errors.New("unsupported image format")
	ErrTooLarge    = errors.New("image dimensions too large")
)

// NormalizeJPEG decodes data, flattens transparency onto white, scales it to
// fit within maxSize on its longest edge and encodes it as JPEG. A maxSize of
// 0 keeps the original dimensions.
func NormalizeJPEG(data []byte, maxSize, quality int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	width, height := fitWithin(img.Bounds().Dx(), img.Bounds().Dy(), maxSize)

	// Drawing onto an opaque white canvas drops any alpha channel.
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(canvas, canvas.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin scales width and height down to fit maxSize, keeping aspect ratio.
func fitWithin(width, height, maxSize int) (int, int) {
	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return width, height
	}
	if width > height {
		return maxSize, max(1, int(float64(height)*float64(maxSize)/float64(width)))
	}
	return max(1, int(float64(width)*float64(maxSize)/float64(height))), maxSize
}
