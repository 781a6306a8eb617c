package pairing

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// staticOracle answers from a fixed spread list.
type staticOracle struct {
	n       int
	spreads map[int]bool
	calls   int
}

func (o *staticOracle) Len() int { return o.n }

func (o *staticOracle) IsStitchedSpread(i int) bool {
	o.calls++
	return o.spreads[i]
}

func oracle(n int, spreads ...int) *staticOracle {
	o := &staticOracle{n: n, spreads: map[int]bool{}}
	for _, s := range spreads {
		o.spreads[s] = true
	}
	return o
}

// walk lists every grouping of the volume from the cover onward.
func walk(e Engine, n int) []Pair {
	var out []Pair
	for i := 0; i < n; i = e.Next(i) {
		out = append(out, e.Pair(i))
	}
	return out
}

func TestPair_ParityExample(t *testing.T) {
	// cover, p1, p2, p3 (spread), p4, p5
	e := New(oracle(6, 3), false)

	want := []Pair{
		{CoverAlone: true, Right: 0, Left: -1},
		{Right: 1, Left: 2},
		{IsSpread: true, Right: 3, Left: -1},
		{Right: 4, Left: 5},
	}
	if diff := cmp.Diff(want, walk(e, 6)); diff != "" {
		t.Errorf("walk mismatch (-want +got):\n%s", diff)
	}
}

func TestPair_NoSpreads(t *testing.T) {
	e := New(oracle(6), false)
	want := []Pair{
		{CoverAlone: true, Right: 0, Left: -1},
		{Right: 1, Left: 2},
		{Right: 3, Left: 4},
		{Right: 5, Left: -1, UnpairedSingle: true},
	}
	if diff := cmp.Diff(want, walk(e, 6)); diff != "" {
		t.Errorf("walk mismatch (-want +got):\n%s", diff)
	}
}

func TestPair_Nudge(t *testing.T) {
	e := New(oracle(6), true)
	want := []Pair{
		{CoverAlone: true, Right: 0, Left: -1},
		{Right: 1, Left: -1, UnpairedSingle: true},
		{Right: 2, Left: 3},
		{Right: 4, Left: 5},
	}
	if diff := cmp.Diff(want, walk(e, 6)); diff != "" {
		t.Errorf("walk mismatch (-want +got):\n%s", diff)
	}
}

func TestPair_PartnerIsSpread(t *testing.T) {
	// p1 would pair with p2, but p2 is a spread. The spread takes slots 2
	// and 3, so p3 lands on an even slot and stays single as well.
	e := New(oracle(6, 2), false)
	want := []Pair{
		{CoverAlone: true, Right: 0, Left: -1},
		{Right: 1, Left: -1, UnpairedSingle: true},
		{IsSpread: true, Right: 2, Left: -1},
		{Right: 3, Left: -1, UnpairedSingle: true},
		{Right: 4, Left: 5},
	}
	if diff := cmp.Diff(want, walk(e, 6)); diff != "" {
		t.Errorf("walk mismatch (-want +got):\n%s", diff)
	}
}

func TestPair_SpreadCover(t *testing.T) {
	e := New(oracle(3, 0), false)
	got := e.Pair(0)
	want := Pair{IsSpread: true, Right: 0, Left: -1}
	if got != want {
		t.Errorf("Pair(0) = %+v, want %+v", got, want)
	}
	// The cover spread does not shift parity.
	if got := e.Pair(1); got != (Pair{Right: 1, Left: 2}) {
		t.Errorf("Pair(1) = %+v, want (1,2)", got)
	}
}

func TestPair_LeftPageResolvesToSamePair(t *testing.T) {
	e := New(oracle(6, 3), false)
	tests := []struct {
		index int
		want  Pair
	}{
		{index: 2, want: Pair{Right: 1, Left: 2}},
		{index: 5, want: Pair{Right: 4, Left: 5}},
		{index: 3, want: Pair{IsSpread: true, Right: 3, Left: -1}},
	}
	for _, tt := range tests {
		if got := e.Pair(tt.index); got != tt.want {
			t.Errorf("Pair(%d) = %+v, want %+v", tt.index, got, tt.want)
		}
	}
}

func TestEffectiveIndex(t *testing.T) {
	e := New(oracle(8, 0, 2, 5), false)
	// Index 0 is never counted even when it is a spread.
	want := []int{0, 1, 2, 4, 5, 6, 8, 9}
	for i, w := range want {
		if got := e.EffectiveIndex(i); got != w {
			t.Errorf("EffectiveIndex(%d) = %d, want %d", i, got, w)
		}
	}
}

func TestSnapToPairStart(t *testing.T) {
	e := New(oracle(7, 3), false)
	tests := []struct {
		index, want int
	}{
		{index: 0, want: 0},
		{index: 1, want: 1},
		{index: 2, want: 1},
		{index: 3, want: 3},
		{index: 4, want: 4},
		{index: 5, want: 4},
		{index: 6, want: 6},
		{index: -3, want: 0},
		{index: 99, want: 6},
	}
	for _, tt := range tests {
		if got := e.SnapToPairStart(tt.index); got != tt.want {
			t.Errorf("SnapToPairStart(%d) = %d, want %d", tt.index, got, tt.want)
		}
	}
}

func TestSnapToPairStart_NeverOntoCoverOrSpread(t *testing.T) {
	// With the nudge, index 1 has even parity; its predecessor is the cover.
	e := New(oracle(5), true)
	if got := e.SnapToPairStart(1); got != 1 {
		t.Errorf("SnapToPairStart(1) = %d, want 1", got)
	}

	// Index 4 follows the spread at 3 and has even parity with the nudge.
	e = New(oracle(6, 3), true)
	if got := e.SnapToPairStart(4); got != 4 {
		t.Errorf("SnapToPairStart(4) = %d, want 4", got)
	}
}

func TestPair_Deterministic(t *testing.T) {
	e := New(oracle(40, 5, 6, 17, 30), true)
	for i := range 40 {
		a, b := e.Pair(i), e.Pair(i)
		if a != b {
			t.Fatalf("Pair(%d) not deterministic: %+v vs %+v", i, a, b)
		}
	}
}

func TestPair_EmptyVolume(t *testing.T) {
	e := New(oracle(0), false)
	if got := e.Pair(3); got != (Pair{CoverAlone: true, Left: -1}) {
		t.Errorf("Pair on empty volume = %+v", got)
	}
	if got := e.EffectiveIndex(3); got != 0 {
		t.Errorf("EffectiveIndex on empty volume = %d", got)
	}
}

func TestPrev(t *testing.T) {
	e := New(oracle(6, 3), false)
	tests := []struct{ index, want int }{
		{index: 0, want: 0},
		{index: 1, want: 0},
		{index: 2, want: 0},
		{index: 3, want: 1},
		{index: 5, want: 3},
	}
	for _, tt := range tests {
		if got := e.Prev(tt.index); got != tt.want {
			t.Errorf("Prev(%d) = %d, want %d", tt.index, got, tt.want)
		}
	}
}

func TestParity_MatchesEngine(t *testing.T) {
	spreads := []int{4, 9, 10, 15}
	for _, nudge := range []bool{false, true} {
		o := oracle(20, spreads...)
		e := New(o, nudge)
		p := NewParity(nudge)
		for i := 1; i < 20; i++ {
			if o.spreads[i] {
				p.PassSpread(i)
				continue
			}
			want := (e.EffectiveIndex(i)+e.nudge)%2 == 1
			if got := p.IsPairStart(i); got != want {
				t.Errorf("nudge=%v: IsPairStart(%d) = %v, want %v", nudge, i, got, want)
			}
		}
	}
}
