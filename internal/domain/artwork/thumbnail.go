package artwork

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder

	"github.com/boxes-ltd/imaging"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp" // WebP decoder
)

// ThumbnailQuality is the JPEG quality of generated thumbnails.
const ThumbnailQuality = 85

// Render returns the bytes to cache for the requested rendition. Full
// renditions keep the source bytes; thumbnails larger than ThumbnailSize
// are scaled to fit and re-encoded as JPEG.
func Render(data []byte, typ Type) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", ErrNoArtwork
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	edge := typ.Pixels()
	if edge == 0 || (cfg.Width <= edge && cfg.Height <= edge) {
		return data, DetectMimeType(data), nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	log.Debug().
		Str("format", format).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("size", edge).
		Msg("Generating thumbnail")

	thumb := imaging.Fit(img, edge, edge, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(ThumbnailQuality)); err != nil {
		return nil, "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// Build decodes data into an Artwork for key and extracts its palette.
func Build(key Key, data []byte, source string) (*Artwork, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	return &Artwork{
		Key:      key,
		Image:    img,
		Data:     data,
		MimeType: DetectMimeType(data),
		Source:   source,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Palette:  ExtractPalette(img, PaletteSize),
	}, nil
}

// DetectMimeType detects the MIME type from image data magic bytes.
func DetectMimeType(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || !filetype.IsImage(data) {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}
