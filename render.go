package reader

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// Fill colors of the viewport renderer.
var (
	BackgroundColor  = color.RGBA{R: 0x18, G: 0x18, B: 0x18, A: 0xff}
	PlaceholderColor = color.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff}
)

// slot is where one page of a row is drawn, relative to the row.
type slot struct {
	index  int
	x      int
	width  int
	center bool
}

// rowSlots places the pages of a row. The right slot starts after the left
// slot and the gutter; covers use the left slot, lone pages the right one.
func rowSlots(r Row, leftW, rightW, gutter, full int) []slot {
	switch r.Kind {
	case RowSpread:
		return []slot{{index: r.Index, x: 0, width: full}}
	case RowCover:
		return []slot{{index: r.Index, x: 0, width: leftW, center: true}}
	case RowPair:
		return []slot{
			{index: r.Index, x: leftW + gutter, width: rightW, center: true},
			{index: r.Left, x: 0, width: leftW, center: true},
		}
	default:
		return []slot{{index: r.Index, x: leftW + gutter, width: rightW, center: true}}
	}
}

// RenderViewport draws the rows visible at scroll offset y into dst, using
// a layout for dst's width. Pages that are not decoded yet are drawn as
// placeholders and requested; missing reports how many there were.
//
// The layout may still be building, in which case only the rows built so
// far are drawn.
func (s *Session) RenderViewport(ctx context.Context, dst *image.RGBA, y int) (missing int, err error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	b := dst.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return 0, fmt.Errorf("%w: %dx%d", ErrBadViewport, b.Dx(), b.Dy())
	}

	draw.Draw(dst, b, image.NewUniform(BackgroundColor), image.Point{}, draw.Src)

	snap := s.Layout(b.Dx())
	leftW, rightW := snap.Key.Slots()
	for _, row := range snap.Visible(y, y+b.Dy()) {
		if err := ctx.Err(); err != nil {
			return missing, err
		}
		top := b.Min.Y + row.YStart - y
		for _, sl := range rowSlots(row, leftW, rightW, snap.Key.Gutter, b.Dx()) {
			if !s.drawPage(dst, row, sl, b.Min.X, top) {
				missing++
			}
		}
	}
	return missing, nil
}

// drawPage draws one page scaled to its slot width. It reports false if
// the page was drawn as a placeholder.
func (s *Session) drawPage(dst *image.RGBA, row Row, sl slot, x0, top int) bool {
	placeholder := image.Rect(x0+sl.x, top, x0+sl.x+sl.width, top+row.Height)

	frame, ok := s.Request(sl.index)
	if !ok {
		draw.Draw(dst, placeholder, image.NewUniform(PlaceholderColor), image.Point{}, draw.Src)
		return false
	}

	w, h := frame.Raster.Width(), frame.Raster.Height()
	ph := int(math.Round(float64(max(h, 1)) * float64(sl.width) / float64(max(w, 1))))
	dy := 0
	if sl.center {
		dy = (row.Height - ph) / 2
	}
	rect := image.Rect(x0+sl.x, top+dy, x0+sl.x+sl.width, top+dy+ph)

	err := frame.Raster.View(func(src *image.NRGBA) {
		var scaler draw.Scaler = draw.ApproxBiLinear
		if rect.Dx() < src.Bounds().Dx() {
			scaler = draw.CatmullRom
		}
		scaler.Scale(dst, rect, src, src.Bounds(), draw.Over, nil)
	})
	if err != nil {
		// Evicted between lookup and draw.
		draw.Draw(dst, placeholder, image.NewUniform(PlaceholderColor), image.Point{}, draw.Src)
		return false
	}
	return true
}
