// Package pairing maps page indices to physical two-page groupings.
//
// Page 0 is the cover and always stands alone. A stitched spread occupies
// one index but two physical page slots, so every spread after the cover
// shifts the left/right parity of the pages that follow it. The nudge flips
// the parity by one page when detection drifts.
package pairing

// Oracle answers the spread question for a page list.
//
// IsStitchedSpread must not block. When the answer is not known yet it
// returns false and may start work that refines later answers.
type Oracle interface {
	Len() int
	IsStitchedSpread(index int) bool
}

// Pair is the physical grouping containing a page.
//
// Exactly one shape holds: CoverAlone (page 0 alone), IsSpread (a spread
// alone, full width), UnpairedSingle (a single page shown in the right
// slot) or a normal pair with Left >= 0.
type Pair struct {
	IsSpread       bool
	CoverAlone     bool
	Right          int
	Left           int // -1 when there is no left partner
	UnpairedSingle bool
}

// Indices returns the page indices the pair displays, right first.
func (p Pair) Indices() []int {
	if p.Left >= 0 {
		return []int{p.Right, p.Left}
	}
	return []int{p.Right}
}

// Consumed returns how many indices the pair covers (1 or 2).
func (p Pair) Consumed() int {
	if p.Left >= 0 {
		return 2
	}
	return 1
}

// Engine evaluates pairings against an oracle.
// It is a value type; build a new Engine when the nudge changes.
type Engine struct {
	oracle Oracle
	nudge  int
}

// New returns an engine. nudge shifts the parity by one page.
func New(oracle Oracle, nudge bool) Engine {
	e := Engine{oracle: oracle}
	if nudge {
		e.nudge = 1
	}
	return e
}

func (e Engine) clamp(i int) int {
	n := e.oracle.Len()
	if i < 0 || n == 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// IsStitchedSpread reports whether the page at index is a spread.
func (e Engine) IsStitchedSpread(index int) bool {
	if e.oracle.Len() == 0 {
		return false
	}
	return e.oracle.IsStitchedSpread(e.clamp(index))
}

// ExtraSlotsBefore counts stitched spreads in [1, index).
func (e Engine) ExtraSlotsBefore(index int) int {
	n := e.oracle.Len()
	stop := min(max(index, 0), n)
	extra := 0
	for j := 1; j < stop; j++ {
		if e.oracle.IsStitchedSpread(j) {
			extra++
		}
	}
	return extra
}

// EffectiveIndex returns the physical slot of index. The cover is 0 and
// never shifts; any other page moves one slot per earlier stitched spread.
func (e Engine) EffectiveIndex(index int) int {
	if e.oracle.Len() == 0 {
		return 0
	}
	i := e.clamp(index)
	if i <= 0 {
		return i
	}
	return i + e.ExtraSlotsBefore(i)
}

// SnapToPairStart returns the first index of the grouping containing index.
func (e Engine) SnapToPairStart(index int) int {
	if e.oracle.Len() == 0 {
		return 0
	}
	i := e.clamp(index)
	if i == 0 {
		return 0
	}
	if e.oracle.IsStitchedSpread(i) {
		return i
	}

	if (e.EffectiveIndex(i)+e.nudge)%2 == 0 {
		odd := i - 1
		// Neither the cover nor a spread can start a pair.
		if odd <= 0 || e.oracle.IsStitchedSpread(odd) {
			return i
		}
		return odd
	}
	return i
}

// Pair resolves the grouping containing index.
func (e Engine) Pair(index int) Pair {
	n := e.oracle.Len()
	s := e.SnapToPairStart(index)

	if s == 0 {
		spread := e.IsStitchedSpread(0)
		return Pair{IsSpread: spread, CoverAlone: !spread, Right: 0, Left: -1}
	}

	if e.oracle.IsStitchedSpread(s) {
		return Pair{IsSpread: true, Right: s, Left: -1}
	}

	if (e.EffectiveIndex(s)+e.nudge)%2 == 1 {
		left := s + 1
		if left >= n || e.oracle.IsStitchedSpread(left) {
			return Pair{Right: s, Left: -1, UnpairedSingle: true}
		}
		return Pair{Right: s, Left: left}
	}

	// Even slot that could not snap back onto an odd start.
	return Pair{Right: s, Left: -1, UnpairedSingle: true}
}

// Next returns the first index after the grouping containing index, or
// Len() when it is the last grouping.
func (e Engine) Next(index int) int {
	p := e.Pair(index)
	return p.Right + p.Consumed()
}

// Prev returns the start of the grouping before the one containing index.
// It returns 0 from the cover.
func (e Engine) Prev(index int) int {
	s := e.SnapToPairStart(index)
	if s <= 0 {
		return 0
	}
	return e.SnapToPairStart(s - 1)
}

// Parity tracks pairing parity during a sequential walk from the cover,
// avoiding the quadratic rescans of EffectiveIndex.
type Parity struct {
	extra int
	nudge int
}

// NewParity starts a walk with the given nudge.
func NewParity(nudge bool) Parity {
	if nudge {
		return Parity{nudge: 1}
	}
	return Parity{}
}

// PassSpread records a stitched spread at index.
func (p *Parity) PassSpread(index int) {
	if index >= 1 {
		p.extra++
	}
}

// IsPairStart reports whether a non-spread page at index starts a pair,
// given every spread before it has been passed.
func (p Parity) IsPairStart(index int) bool {
	return (index+p.extra+p.nudge)%2 == 1
}
