package documents

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxWidth  = 1400
	DefaultQuality   = 70
	DefaultMaxPixels = 20_000_000
)

// Normalizer shrinks and recompresses image uploads before encryption.
// Other content types pass through untouched.
type Normalizer struct {
	MaxWidth  int
	Quality   int
	MaxPixels int
	Logger    zerolog.Logger
}

// NewNormalizer returns a Normalizer with the given limits; zero values fall
// back to the defaults.
func NewNormalizer(maxWidth, quality, maxPixels int, logger zerolog.Logger) *Normalizer {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Normalizer{MaxWidth: maxWidth, Quality: quality, MaxPixels: maxPixels, Logger: logger}
}

// Normalized is the output of Normalize.
type Normalized struct {
	Data     []byte
	MimeType string
}

// Normalize auto-rotates, downsizes and re-encodes images as JPEG. Errors are
// always *NormalizationError.
func (n *Normalizer) Normalize(data []byte, mimeType string) (Normalized, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		return Normalized{Data: data, MimeType: mimeType}, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Normalized{}, &NormalizationError{Err: err}
	}
	if cfg.Width*cfg.Height > n.MaxPixels {
		return Normalized{}, &NormalizationError{
			Err: fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height),
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Normalized{}, &NormalizationError{Err: err}
	}
	if img.Bounds().Dx() > n.MaxWidth {
		img = imaging.Resize(img, n.MaxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(n.Quality)); err != nil {
		return Normalized{}, &NormalizationError{Err: err}
	}

	n.Logger.Info().
		Str("source_type", mimeType).
		Int("original_bytes", len(data)).
		Int("normalized_bytes", buf.Len()).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("image normalized")

	return Normalized{Data: buf.Bytes(), MimeType: "image/jpeg"}, nil
}
