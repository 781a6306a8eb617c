package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF
	_ "image/jpeg" // register JPEG
	_ "image/png"  // register PNG

	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // register BMP
	_ "golang.org/x/image/tiff" // register TIFF
	_ "golang.org/x/image/webp" // register WebP
)

// I/O errors.
var (
	// ErrUnsupportedFormat is returned when the image format is not supported.
	ErrUnsupportedFormat = errors.New("image: unsupported format")

	// ErrEmptyData is returned when image data is empty.
	ErrEmptyData = errors.New("image: empty data")
)

// Decode decodes an encoded page into an RGBA8 raster, auto-detecting the
// format. It returns the raster and the registered format name.
// A nil pool allocates a fresh backing store.
func Decode(data []byte, pool *Pool) (*ImageBuf, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyData
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedFormat
		}
		return nil, "", fmt.Errorf("image: decode: %w", err)
	}

	buf, err := FromStdImage(img, pool)
	if err != nil {
		return nil, "", err
	}
	return buf, format, nil
}

// FromStdImage copies img into an RGBA8 raster.
func FromStdImage(img image.Image, pool *Pool) (*ImageBuf, error) {
	bounds := img.Bounds()

	var (
		buf *ImageBuf
		err error
	)
	if pool != nil {
		buf, err = pool.NewImageBuf(bounds.Dx(), bounds.Dy())
	} else {
		buf, err = NewImageBuf(bounds.Dx(), bounds.Dy())
	}
	if err != nil {
		return nil, err
	}

	// Fast path: same layout, straight copy.
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Stride == buf.Stride() && nrgba.Rect.Min == (image.Point{}) {
		copy(buf.data, nrgba.Pix)
		return buf, nil
	}

	// Src overwrites every pixel, so a recycled store needs no clearing.
	xdraw.Draw(buf.nrgba(), buf.nrgba().Rect, img, bounds.Min, xdraw.Src)
	return buf, nil
}
