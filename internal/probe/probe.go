// Package probe reads page dimensions from image headers without decoding
// pixel data, and caches the results for layout pre-computation.
package probe

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF
	_ "image/jpeg" // register JPEG
	_ "image/png"  // register PNG

	_ "golang.org/x/image/bmp"  // register BMP
	_ "golang.org/x/image/tiff" // register TIFF
	_ "golang.org/x/image/webp" // register WebP
)

// Probe errors.
var (
	// ErrUnknownFormat is returned when no known signature matches.
	ErrUnknownFormat = errors.New("probe: unknown image format")

	// ErrBadHeader is returned when a recognised header cannot be parsed.
	ErrBadHeader = errors.New("probe: malformed header")
)

// DefaultSpreadRatio is the width/height ratio at or above which a page is
// treated as a two-page spread.
const DefaultSpreadRatio = 1.15

// Format is an image container format identified by its signature.
type Format uint8

// Known container formats.
const (
	FormatUnknown Format = iota
	FormatPNG
	FormatJPEG
	FormatGIF
	FormatWebP
	FormatBMP
	FormatTIFF
)

var formatNames = [...]string{
	FormatUnknown: "unknown",
	FormatPNG:     "png",
	FormatJPEG:    "jpeg",
	FormatGIF:     "gif",
	FormatWebP:    "webp",
	FormatBMP:     "bmp",
	FormatTIFF:    "tiff",
}

// String returns the lowercase format name.
func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", f)
}

// Sniff classifies data by its leading magic bytes.
func Sniff(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return FormatJPEG
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP
	case bytes.HasPrefix(data, []byte("BM")):
		return FormatBMP
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return FormatTIFF
	}
	return FormatUnknown
}

// Dims are the pixel dimensions of a page.
type Dims struct {
	Width  int
	Height int
	Format Format
}

// Dimensions parses the container header of data.
func Dimensions(data []byte) (Dims, error) {
	f := Sniff(data)
	if f == FormatUnknown {
		return Dims{}, ErrUnknownFormat
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dims{}, fmt.Errorf("%w: %s: %w", ErrBadHeader, f, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Dims{}, fmt.Errorf("%w: %s: %dx%d", ErrBadHeader, f, cfg.Width, cfg.Height)
	}
	return Dims{Width: cfg.Width, Height: cfg.Height, Format: f}, nil
}

// IsSpread reports whether a page of the given size is a two-page spread.
func IsSpread(width, height int, ratio float64) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	return float64(width)/float64(height) >= ratio
}
