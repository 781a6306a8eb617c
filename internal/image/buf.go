// Package image holds decoded page rasters.
//
// Every raster is stored as non-premultiplied RGBA8 regardless of the source
// format, so its memory footprint is exactly Width*Height*4 bytes. Backing
// stores are recycled through a Pool when a raster is released.
package image

import (
	"errors"
	"image"
	"sync"
)

// Common errors for image operations.
var (
	// ErrInvalidDimensions is returned when width or height is non-positive.
	ErrInvalidDimensions = errors.New("image: invalid dimensions")

	// ErrReleased is returned when a released buffer is accessed.
	ErrReleased = errors.New("image: buffer released")
)

// BytesPerPixel is the storage cost of one RGBA8 pixel.
const BytesPerPixel = 4

// ImageBuf is a decoded RGBA8 raster owned by exactly one holder.
//
// Readers access pixels through View, which holds a read lock for the
// duration of the callback. Release waits for active views, detaches the
// pixel data and returns it to the pool; later views fail with ErrReleased.
//
// Thread safety: ImageBuf is safe for concurrent use.
type ImageBuf struct {
	width  int
	height int

	mu       sync.RWMutex
	data     []byte
	released bool
	pool     *Pool
}

// NewImageBuf allocates a zeroed raster of the given size.
func NewImageBuf(width, height int) (*ImageBuf, error) {
	return newImageBuf(width, height, nil)
}

func newImageBuf(width, height int, pool *Pool) (*ImageBuf, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}
	n := width * height * BytesPerPixel

	var data []byte
	if pool != nil {
		data = pool.get(n)
	}
	if data == nil {
		data = make([]byte, n)
	}

	return &ImageBuf{
		width:  width,
		height: height,
		data:   data,
		pool:   pool,
	}, nil
}

// Width returns the image width in pixels.
func (b *ImageBuf) Width() int {
	return b.width
}

// Height returns the image height in pixels.
func (b *ImageBuf) Height() int {
	return b.height
}

// Stride returns the number of bytes per row.
func (b *ImageBuf) Stride() int {
	return b.width * BytesPerPixel
}

// EstimatedBytes is the memory charged for this raster by the page cache.
// The figure is the same after Release so accounting stays stable.
func (b *ImageBuf) EstimatedBytes() int64 {
	return int64(b.width) * int64(b.height) * BytesPerPixel
}

// View calls fn with an image.NRGBA sharing the raster's pixels.
// fn must not retain the image or modify it.
func (b *ImageBuf) View(fn func(img *image.NRGBA)) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.released {
		return ErrReleased
	}
	fn(b.nrgba())
	return nil
}

// nrgba wraps the pixel data without copying. Caller must hold b.mu.
func (b *ImageBuf) nrgba() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.data,
		Stride: b.Stride(),
		Rect:   image.Rect(0, 0, b.width, b.height),
	}
}

// Release frees the pixel data. It blocks until active views finish.
// Release is safe to call multiple times.
func (b *ImageBuf) Release() {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	data := b.data
	b.data = nil
	b.released = true
	b.mu.Unlock()

	if b.pool != nil {
		b.pool.put(data)
	}
}
