package layout

import (
	"fmt"
	"math"
	"sort"
)

// Kind is the shape of a layout row.
type Kind uint8

// Row shapes.
const (
	// KindCover is page 0 alone, scaled to the left slot.
	KindCover Kind = iota
	// KindPair is a right and a left page side by side.
	KindPair
	// KindSpread is a stitched spread scaled to the full width.
	KindSpread
	// KindUnpaired is a single page in the right slot.
	KindUnpaired
)

func (k Kind) String() string {
	switch k {
	case KindCover:
		return "cover"
	case KindPair:
		return "pair"
	case KindSpread:
		return "spread"
	case KindUnpaired:
		return "unpaired"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Row is one horizontal band of the stacked layout, in device pixels.
// YEnd is exclusive; rows are separated by the row gap.
type Row struct {
	Kind   Kind
	Index  int // right page, or the only page
	Left   int // left page of a pair, -1 otherwise
	Height int
	YStart int
	YEnd   int
}

// Contains reports whether the row displays page index.
func (r Row) Contains(index int) bool {
	return r.Index == index || (r.Kind == KindPair && r.Left == index)
}

// Indices returns the pages the row displays, right first.
func (r Row) Indices() []int {
	if r.Kind == KindPair {
		return []int{r.Index, r.Left}
	}
	return []int{r.Index}
}

// last returns the highest page index in the row.
func (r Row) last() int {
	if r.Kind == KindPair {
		return r.Left
	}
	return r.Index
}

// Snapshot is an immutable view of the rows built so far.
type Snapshot struct {
	Key      Key
	Rows     []Row
	Total    int // content height without a trailing gap
	Building bool
}

// MaxY returns the largest scroll offset for a viewport of height h.
func (s Snapshot) MaxY(h int) int {
	return max(0, s.Total-h)
}

// firstEndingAfter returns the first row whose YEnd is above y.
func (s Snapshot) firstEndingAfter(y int) int {
	return sort.Search(len(s.Rows), func(i int) bool { return s.Rows[i].YEnd > y })
}

// Visible returns the rows intersecting [y0, y1).
func (s Snapshot) Visible(y0, y1 int) []Row {
	start := s.firstEndingAfter(y0)
	end := start
	for end < len(s.Rows) && s.Rows[end].YStart < y1 {
		end++
	}
	return s.Rows[start:end:end]
}

// RowAt returns the position of the row at y. A y inside a gap resolves to
// the row above it; a y above the first row resolves to the first row.
func (s Snapshot) RowAt(y int) (int, bool) {
	if len(s.Rows) == 0 {
		return 0, false
	}
	i := sort.Search(len(s.Rows), func(i int) bool { return s.Rows[i].YStart > y })
	return max(i-1, 0), true
}

// IndexForY returns the page to resume on when scrolling stops at y.
// Pairs resolve to their left page.
func (s Snapshot) IndexForY(y int) (int, bool) {
	i, ok := s.RowAt(max(y, 0))
	if !ok {
		return 0, false
	}
	r := s.Rows[i]
	if r.Kind == KindPair {
		return r.Left, true
	}
	return r.Index, true
}

// YStartForIndex returns the top of the row displaying page index.
func (s Snapshot) YStartForIndex(index int) (int, bool) {
	i := sort.Search(len(s.Rows), func(i int) bool { return s.Rows[i].last() >= index })
	if i < len(s.Rows) && s.Rows[i].Contains(index) {
		return s.Rows[i].YStart, true
	}
	return 0, false
}

// KeepIndices returns the pages of rows overlapping a margin around the
// viewport at y, in row order, at most limit of them.
func (s Snapshot) KeepIndices(y, viewportH, limit int) []int {
	p0 := max(0, y-int(float64(viewportH)*KeepBehind))
	p1 := y + int(float64(viewportH)*KeepAhead)

	var out []int
	for _, r := range s.Rows[s.firstEndingAfter(p0-1):] {
		if r.YStart > p1 || len(out) >= limit {
			break
		}
		for _, i := range r.Indices() {
			if len(out) < limit {
				out = append(out, i)
			}
		}
	}
	return out
}

// PrefetchIndices returns the pages worth decoding ahead of a viewport at
// y: rows ahead of it first, then a smaller band behind, at most
// PrefetchMax pages.
func (s Snapshot) PrefetchIndices(y, viewportH int) []int {
	if len(s.Rows) == 0 {
		return nil
	}
	p0 := max(0, y-int(math.Round(float64(viewportH)*PrefetchBehind)))
	p1 := min(s.Total, y+viewportH+int(math.Round(float64(viewportH)*PrefetchAhead)))

	seen := make(map[int]struct{}, PrefetchMax)
	var out []int
	push := func(r Row) {
		for _, i := range r.Indices() {
			if _, ok := seen[i]; ok || len(out) >= PrefetchMax {
				continue
			}
			seen[i] = struct{}{}
			out = append(out, i)
		}
	}

	start, _ := s.RowAt(y)
	for j := start; j < len(s.Rows) && len(out) < PrefetchMax; j++ {
		r := s.Rows[j]
		if r.YStart > p1 {
			break
		}
		if r.YEnd < p0 {
			continue
		}
		push(r)
	}
	for j := start - 1; j >= 0 && len(out) < PrefetchMax; j-- {
		r := s.Rows[j]
		if r.YEnd < p0 {
			break
		}
		if r.YStart > p1 {
			continue
		}
		push(r)
	}
	return out
}
