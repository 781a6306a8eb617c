// Package layout builds the stacked row layout used for continuous
// two-page scrolling.
//
// Rows are computed incrementally in the background from page dimensions.
// A build is identified by its Key; asking for a different key discards the
// rows and starts over, and any build that has been superseded stops at its
// next step without touching the layout.
package layout

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/gogpu/reader/internal/pairing"
)

// Layout tunables.
const (
	DefaultRowGapPx = 16
	MaxRowGapPx     = 64

	// DefaultYieldEvery is how many rows are appended between yields.
	DefaultYieldEvery = 24

	// KeepBehind and KeepAhead bound the cache keep window, in viewport
	// heights around the scroll offset.
	KeepBehind = 0.25
	KeepAhead  = 1.25

	// PrefetchBehind and PrefetchAhead bound the prefetch window, in
	// viewport heights; at most PrefetchMax pages are requested.
	PrefetchBehind = 0.6
	PrefetchAhead  = 1.6
	PrefetchMax    = 9
)

// ClampRowGap limits a row gap to [0, MaxRowGapPx].
func ClampRowGap(px int) int {
	return min(max(px, 0), MaxRowGapPx)
}

// Key identifies a layout. Rows are reused only while the key is unchanged.
type Key struct {
	Volume uint64
	Width  int
	Pages  int
	RowGap int
	Gutter int
	Nudge  bool
}

// Slots returns the left and right slot widths for the key.
func (k Key) Slots() (left, right int) {
	left = (k.Width - k.Gutter) / 2
	right = k.Width - k.Gutter - left
	return left, right
}

// Dims is the size of a page and its effective spread flag.
type Dims struct {
	Width  int
	Height int
	Spread bool
}

// DimsFunc resolves the dimensions of a page. It may block.
type DimsFunc func(ctx context.Context, index int) (Dims, error)

// Config wires a Builder.
type Config struct {
	Dims DimsFunc

	// YieldEvery rows the builder calls Yield and publishes progress.
	YieldEvery int
	Yield      func()

	// OnProgress is called after every batch and when the build ends.
	OnProgress func(Snapshot)

	Logger *slog.Logger
}

type hold struct {
	index  int
	localY int
}

// Builder owns the rows of one layout at a time.
//
// Thread safety: Builder is safe for concurrent use.
type Builder struct {
	cfg Config

	mu       sync.Mutex
	key      Key
	started  bool
	rows     []Row
	total    int
	building bool
	token    uint64
	cancel   context.CancelFunc
	done     chan struct{}

	hold   *hold
	synced *int
}

// NewBuilder creates an idle builder.
func NewBuilder(cfg Config) *Builder {
	if cfg.YieldEvery <= 0 {
		cfg.YieldEvery = DefaultYieldEvery
	}
	if cfg.Yield == nil {
		cfg.Yield = runtime.Gosched
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	done := make(chan struct{})
	close(done)
	return &Builder{cfg: cfg, done: done}
}

// Ensure starts a build for key unless one exists for it already, built or
// in progress. It reports whether a new build was started. The build runs
// until it completes, ctx is done or another key supersedes it.
func (b *Builder) Ensure(ctx context.Context, key Key) bool {
	key.RowGap = ClampRowGap(key.RowGap)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started && b.key == key {
		return false
	}
	b.stopLocked()

	b.key = key
	b.started = true
	b.rows = nil
	b.total = 0
	b.building = true
	b.token++
	tok := b.token

	bctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	done := make(chan struct{})
	b.done = done

	b.cfg.Logger.Debug("layout: build started", "width", key.Width, "pages", key.Pages, "gap", key.RowGap)
	go func() {
		defer close(done)
		defer cancel()
		b.build(bctx, tok, key)
	}()
	return true
}

// Invalidate drops the rows so the next Ensure rebuilds even for the same
// key. Used when spread knowledge changes.
func (b *Builder) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	b.started = false
	b.rows = nil
	b.total = 0
}

// Reset drops the rows and any held entry.
func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	b.started = false
	b.key = Key{}
	b.rows = nil
	b.total = 0
	b.hold = nil
	b.synced = nil
}

// stopLocked supersedes the running build, if any.
func (b *Builder) stopLocked() {
	b.token++
	b.building = false
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// Wait blocks until the current build finishes or ctx is done.
func (b *Builder) Wait(ctx context.Context) error {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the rows built so far.
func (b *Builder) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Builder) snapshotLocked() Snapshot {
	return Snapshot{
		Key:      b.key,
		Rows:     b.rows[:len(b.rows):len(b.rows)],
		Total:    b.total,
		Building: b.building,
	}
}

// Hold keeps the reader on page index while the layout is incomplete.
// localY is the offset within the page's row. As soon as the row exists
// the offset is converted to a global one, available once from TakeSync.
func (b *Builder) Hold(index, localY int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hold = &hold{index: index, localY: localY}
	b.synced = nil
	b.resolveHoldLocked()
}

// TakeSync returns the resolved offset of a held entry once.
func (b *Builder) TakeSync() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.synced == nil {
		return 0, false
	}
	y := *b.synced
	b.synced = nil
	return y, true
}

// ReleaseHold drops a held entry without resolving it.
func (b *Builder) ReleaseHold() {
	b.mu.Lock()
	b.hold = nil
	b.mu.Unlock()
}

func (b *Builder) resolveHoldLocked() {
	if b.hold == nil {
		return
	}
	s := b.snapshotLocked()
	start, ok := s.YStartForIndex(b.hold.index)
	if !ok {
		return
	}
	y := start + b.hold.localY
	b.hold = nil
	b.synced = &y
}

// scaled returns the height of a w x h page drawn slot pixels wide.
func scaled(d Dims, slot int) int {
	w := max(d.Width, 1)
	h := max(d.Height, 1)
	return int(math.Round(float64(h) * float64(slot) / float64(w)))
}

// run is the state of one build pass.
type run struct {
	b     *Builder
	ctx   context.Context
	tok   uint64
	key   Key
	y     int
	added int
}

func (b *Builder) build(ctx context.Context, tok uint64, key Key) {
	r := &run{b: b, ctx: ctx, tok: tok, key: key}
	ok := r.walk()

	b.mu.Lock()
	current := b.token == tok
	if current {
		b.building = false
		if !ok {
			// Let the next Ensure restart the interrupted build.
			b.started = false
		}
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	if !current {
		b.cfg.Logger.Debug("layout: build superseded", "rows", r.added)
		return
	}
	if !ok {
		b.cfg.Logger.Debug("layout: build cancelled", "rows", r.added)
	} else {
		b.cfg.Logger.Debug("layout: build finished", "rows", r.added, "height", snap.Total)
	}
	if b.cfg.OnProgress != nil {
		b.cfg.OnProgress(snap)
	}
}

// dims resolves a page, falling back to a 1x1 single page when the size
// cannot be read. It reports false when the build must stop.
func (r *run) dims(index int) (Dims, bool) {
	d, err := r.b.cfg.Dims(r.ctx, index)
	if r.ctx.Err() != nil || !r.current() {
		return Dims{}, false
	}
	if err != nil {
		r.b.cfg.Logger.Debug("layout: dimensions unavailable", "index", index, "err", err)
		return Dims{Width: 1, Height: 1}, true
	}
	return d, true
}

func (r *run) current() bool {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	return r.b.token == r.tok
}

// push appends a row if the build is still current.
func (r *run) push(row Row) bool {
	b := r.b
	b.mu.Lock()
	if b.token != r.tok {
		b.mu.Unlock()
		return false
	}
	row.YStart = r.y
	row.YEnd = r.y + row.Height
	r.y = row.YEnd + r.key.RowGap
	b.rows = append(b.rows, row)
	b.total = max(0, r.y-r.key.RowGap)
	r.added++

	if b.hold != nil && row.Contains(b.hold.index) {
		y := row.YStart + b.hold.localY
		b.hold = nil
		b.synced = &y
	}
	b.mu.Unlock()

	if r.added%b.cfg.YieldEvery == 0 {
		if b.cfg.OnProgress != nil {
			b.cfg.OnProgress(b.Snapshot())
		}
		b.cfg.Yield()
	}
	return true
}

// walk appends every row of the volume. It reports false if the build was
// cancelled or superseded.
func (r *run) walk() bool {
	n := r.key.Pages
	if n <= 0 {
		return true
	}
	leftW, rightW := r.key.Slots()
	full := r.key.Width

	d0, ok := r.dims(0)
	if !ok {
		return false
	}
	if d0.Spread {
		ok = r.push(Row{Kind: KindSpread, Index: 0, Left: -1, Height: scaled(d0, full)})
	} else {
		ok = r.push(Row{Kind: KindCover, Index: 0, Left: -1, Height: scaled(d0, leftW)})
	}
	if !ok {
		return false
	}

	parity := pairing.NewParity(r.key.Nudge)
	for i := 1; i < n; {
		di, ok := r.dims(i)
		if !ok {
			return false
		}

		var row Row
		switch {
		case di.Spread:
			row = Row{Kind: KindSpread, Index: i, Left: -1, Height: scaled(di, full)}
			parity.PassSpread(i)

		case parity.IsPairStart(i) && i+1 < n:
			dj, ok := r.dims(i + 1)
			if !ok {
				return false
			}
			if dj.Spread {
				row = Row{Kind: KindUnpaired, Index: i, Left: -1, Height: scaled(di, rightW)}
			} else {
				h := max(scaled(di, rightW), scaled(dj, leftW))
				row = Row{Kind: KindPair, Index: i, Left: i + 1, Height: h}
			}

		default:
			row = Row{Kind: KindUnpaired, Index: i, Left: -1, Height: scaled(di, rightW)}
		}

		if !r.push(row) {
			return false
		}
		if row.Kind == KindPair {
			i += 2
		} else {
			i++
		}
	}
	return true
}
