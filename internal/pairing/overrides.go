package pairing

import "sync"

// OverrideState is the manual spread marking of one page.
type OverrideState uint8

const (
	// Auto means no manual marking; detection decides.
	Auto OverrideState = iota
	// MarkedSpread forces the page to be treated as a spread.
	MarkedSpread
	// MarkedNormal forces the page to be treated as a single page.
	MarkedNormal
)

// String returns "auto", "spread" or "normal".
func (s OverrideState) String() string {
	switch s {
	case MarkedSpread:
		return "spread"
	case MarkedNormal:
		return "normal"
	default:
		return "auto"
	}
}

// Overrides holds the known-spread and known-normal index sets.
//
// The sets are disjoint. Known-normal always wins: a page marked normal is
// never re-learned as a spread by detection.
//
// Thread safety: Overrides is safe for concurrent use.
type Overrides struct {
	mu     sync.RWMutex
	spread map[int]struct{}
	normal map[int]struct{}
}

// NewOverrides returns empty override sets.
func NewOverrides() *Overrides {
	return &Overrides{
		spread: make(map[int]struct{}),
		normal: make(map[int]struct{}),
	}
}

// Learn records an auto-detected spread unless the page is marked normal.
// It reports whether the known-spread set changed.
func (o *Overrides) Learn(index int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.normal[index]; ok {
		return false
	}
	if _, ok := o.spread[index]; ok {
		return false
	}
	o.spread[index] = struct{}{}
	return true
}

// Mark applies a manual marking. Auto removes the page from both sets.
func (o *Overrides) Mark(index int, state OverrideState) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.spread, index)
	delete(o.normal, index)
	switch state {
	case MarkedSpread:
		o.spread[index] = struct{}{}
	case MarkedNormal:
		o.normal[index] = struct{}{}
	}
}

// State returns the marking of index.
func (o *Overrides) State(index int) OverrideState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if _, ok := o.normal[index]; ok {
		return MarkedNormal
	}
	if _, ok := o.spread[index]; ok {
		return MarkedSpread
	}
	return Auto
}

// Effective applies the sets to an auto-detected flag.
func (o *Overrides) Effective(index int, detected bool) bool {
	switch o.State(index) {
	case MarkedNormal:
		return false
	case MarkedSpread:
		return true
	default:
		return detected
	}
}

// Reset empties both sets.
func (o *Overrides) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spread = make(map[int]struct{})
	o.normal = make(map[int]struct{})
}

// Spreads returns the known-spread indices in no particular order.
func (o *Overrides) Spreads() []int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]int, 0, len(o.spread))
	for i := range o.spread {
		out = append(out, i)
	}
	return out
}

// Normals returns the known-normal indices in no particular order.
func (o *Overrides) Normals() []int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]int, 0, len(o.normal))
	for i := range o.normal {
		out = append(out, i)
	}
	return out
}
