package reader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/reader/internal/cache"
	"github.com/gogpu/reader/internal/decode"
	"github.com/gogpu/reader/internal/guard"
	"github.com/gogpu/reader/internal/image"
	"github.com/gogpu/reader/internal/layout"
	"github.com/gogpu/reader/internal/pairing"
	"github.com/gogpu/reader/internal/probe"
)

type (
	// Pair is the physical grouping containing a page.
	Pair = pairing.Pair
	// OverrideState is the manual spread marking of a page.
	OverrideState = pairing.OverrideState
	// Frame is a decoded page.
	Frame = cache.Frame
	// Row is one row of the scroll layout.
	Row = layout.Row
	// RowKind tells what a row displays.
	RowKind = layout.Kind
	// Snapshot is the scroll layout as built so far.
	Snapshot = layout.Snapshot
	// CacheStats are the raster cache counters.
	CacheStats = cache.Stats
	// DecodeStats are the decode pipeline counters.
	DecodeStats = decode.Stats
	// PoolStats are the pixel buffer pool counters.
	PoolStats = image.PoolStats
)

// Override states.
const (
	Auto         = pairing.Auto
	MarkedSpread = pairing.MarkedSpread
	MarkedNormal = pairing.MarkedNormal
)

// Row kinds.
const (
	RowCover    = layout.KindCover
	RowPair     = layout.KindPair
	RowSpread   = layout.KindSpread
	RowUnpaired = layout.KindUnpaired
)

// Scroll prefetch throttle: a new prefetch is issued once the offset moved
// by prefetchMinDelta viewport heights or prefetchInterval elapsed.
const (
	prefetchMinDelta = 0.25
	prefetchInterval = 90 * time.Millisecond
)

type scrollState struct {
	active    bool
	width     int
	viewportH int
	y         int

	prefetchY  int
	prefetchAt time.Time
}

// Stats is a snapshot of session counters.
type Stats struct {
	Pages     int
	Cache     CacheStats
	Decode    DecodeStats
	Probed    int
	Probing   int
	Rows      int
	Height    int
	Building  bool
	Spreads   int
	Normals   int
	Scrolling bool
}

// Session is one open volume: the page list, its byte source, decoded
// rasters, spread knowledge and scroll layout.
//
// All methods are safe for concurrent use. After Close every method
// returning an error returns ErrClosed and the others return zero values.
type Session struct {
	cfg      Config
	settings SettingsSource
	logger   *slog.Logger
	now      func() time.Time
	guard    *guard.Guard
	pages    []Page

	ctx    context.Context
	cancel context.CancelFunc

	tok atomic.Pointer[guard.Token]

	overrides *pairing.Overrides
	pipeline  *decode.Pipeline
	cache     *cache.Cache
	prober    *probe.Prober
	layout    *layout.Builder

	// mu guards the fields below. It is never held while calling into the
	// cache, the prober or the layout builder.
	mu       sync.Mutex
	provider ByteProvider
	closed   bool
	scroll   scrollState
}

func newSession(r *Reader, tok guard.Token, pages []Page, provider ByteProvider) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       r.cfg,
		settings:  r.settings,
		logger:    r.logger.With("gen", tok.Gen),
		now:       r.now,
		guard:     r.guard,
		pages:     pages,
		ctx:       ctx,
		cancel:    cancel,
		overrides: pairing.NewOverrides(),
		provider:  provider,
	}
	s.tok.Store(&tok)

	learn := func(index int) {
		if s.overrides.Learn(index) {
			s.logger.Debug("reader: learned spread", "index", index)
		}
	}

	s.pipeline = decode.New(decode.Config{
		Fetch:       s.fetch,
		Guard:       r.guard,
		Learn:       learn,
		Workers:     r.workers,
		Pool:        r.pool,
		SpreadRatio: s.cfg.SpreadRatio,
		Logger:      s.logger,
	})

	cooldown := s.cfg.FailCooldown()
	if cooldown == 0 {
		cooldown = -1
	}
	s.cache = cache.New(cache.Config{
		Pages:        len(pages),
		Decoder:      s.pipeline,
		Guard:        r.guard,
		Token:        s.token,
		Budget:       s.budget,
		Spread:       s.overrides.Effective,
		KeepMax:      s.cfg.KeepMax,
		FailCooldown: cooldown,
		Now:          r.now,
		Logger:       s.logger,
	})

	s.prober = probe.New(probe.Config{
		Fetch:       s.fetch,
		Decoded:     s.cache.Size,
		Learn:       learn,
		Guard:       r.guard,
		Token:       s.token,
		Workers:     s.cfg.ProbeWorkers,
		SpreadRatio: s.cfg.SpreadRatio,
		Logger:      s.logger,
	})

	s.layout = layout.NewBuilder(layout.Config{
		Dims:       s.dims,
		OnProgress: s.onLayoutProgress,
		Logger:     s.logger,
	})

	if n := min(s.cfg.PrewarmPages, len(pages)); n > 0 {
		go func() {
			if err := s.prober.Prewarm(s.ctx, n); err != nil {
				s.logger.Debug("reader: prewarm stopped", "err", err)
			}
		}()
	}
	return s
}

func (s *Session) token() guard.Token {
	return *s.tok.Load()
}

func (s *Session) budget() int64 {
	return cache.BudgetBytes(s.settings.Settings().MemorySaver, s.cfg.BudgetMB)
}

func (s *Session) fetch(ctx context.Context, index int) ([]byte, error) {
	if index < 0 || index >= len(s.pages) {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	s.mu.Lock()
	p := s.provider
	s.mu.Unlock()
	return p.Bytes(ctx, s.pages[index])
}

func (s *Session) dims(ctx context.Context, index int) (layout.Dims, error) {
	r, err := s.prober.Get(ctx, index)
	if err != nil {
		return layout.Dims{}, err
	}
	return layout.Dims{
		Width:  r.Width,
		Height: r.Height,
		Spread: s.overrides.Effective(index, r.Spread),
	}, nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) valid(index int) bool {
	return index >= 0 && index < len(s.pages)
}

// Len returns the number of pages.
func (s *Session) Len() int {
	return len(s.pages)
}

// Page returns the descriptor of page index.
func (s *Session) Page(index int) (Page, error) {
	if !s.valid(index) {
		return Page{}, fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	return s.pages[index], nil
}

// GetOrDecode returns the decoded page, waiting for a decode if needed.
// Out-of-range indices are clamped. Concurrent calls for one page share a
// single decode.
func (s *Session) GetOrDecode(ctx context.Context, index int) (Frame, error) {
	if s.isClosed() {
		return Frame{}, ErrClosed
	}
	f, err := s.cache.GetOrDecode(ctx, index)
	if err != nil && s.isClosed() {
		return Frame{}, ErrClosed
	}
	return f, err
}

// Request returns the page if it is decoded and otherwise starts a decode
// without waiting for it.
func (s *Session) Request(index int) (Frame, bool) {
	if s.isClosed() || !s.valid(index) {
		return Frame{}, false
	}
	return s.cache.Request(index)
}

// Peek returns the page if it is decoded. It never starts a decode.
func (s *Session) Peek(index int) (Frame, bool) {
	if !s.valid(index) {
		return Frame{}, false
	}
	return s.cache.Peek(index)
}

// Failure returns how often page index failed to decode and the last error.
func (s *Session) Failure(index int) (int, error) {
	n, _, err := s.cache.Failure(index)
	return n, err
}

// PageSize is the probed size of a page.
type PageSize struct {
	Width  int
	Height int
	Format string

	// Spread is the effective flag, manual marks applied.
	Spread bool

	// Unreadable is set when the header could not be parsed and a 1x1
	// placeholder size stands in.
	Unreadable bool
}

// PageSize returns the size of page index from its header, without a full
// decode. A decoded raster's size is used when one is cached.
func (s *Session) PageSize(ctx context.Context, index int) (PageSize, error) {
	if s.isClosed() {
		return PageSize{}, ErrClosed
	}
	if !s.valid(index) {
		return PageSize{}, fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	r, err := s.prober.Get(ctx, index)
	if err != nil {
		return PageSize{}, err
	}
	return PageSize{
		Width:      r.Width,
		Height:     r.Height,
		Format:     r.Format.String(),
		Spread:     s.overrides.Effective(index, r.Spread),
		Unreadable: r.Fallback,
	}, nil
}

// IsStitchedSpread reports whether page index is a spread. Manual marks
// win, then a decoded raster, then a probed header. When nothing is known
// yet it returns false and probes the page in the background.
func (s *Session) IsStitchedSpread(index int) bool {
	if !s.valid(index) {
		return false
	}
	switch s.overrides.State(index) {
	case pairing.MarkedSpread:
		return true
	case pairing.MarkedNormal:
		return false
	}
	if spread, ok := s.cache.Detected(index); ok {
		return spread
	}
	if r, ok := s.prober.Lookup(index); ok {
		return r.Spread
	}
	if !s.isClosed() {
		s.prober.Request(index)
	}
	return false
}

func (s *Session) engine() pairing.Engine {
	return pairing.New(s, s.settings.Settings().CouplingNudge)
}

// Pair returns the physical grouping containing page index.
func (s *Session) Pair(index int) Pair {
	return s.engine().Pair(index)
}

// SnapToPairStart returns the first page of the group containing index.
func (s *Session) SnapToPairStart(index int) int {
	return s.engine().SnapToPairStart(index)
}

// EffectiveIndex returns the physical slot of page index, counting every
// spread before it as two slots.
func (s *Session) EffectiveIndex(index int) int {
	return s.engine().EffectiveIndex(index)
}

// Next returns the first page of the group after the one containing index.
func (s *Session) Next(index int) int {
	return s.engine().Next(index)
}

// Prev returns the first page of the group before the one containing index.
func (s *Session) Prev(index int) int {
	return s.engine().Prev(index)
}

// MarkSpread forces page index to be treated as a spread.
func (s *Session) MarkSpread(index int) error {
	return s.mark(index, pairing.MarkedSpread)
}

// MarkNormal forces page index to be treated as a single page. Detection
// never overrides it.
func (s *Session) MarkNormal(index int) error {
	return s.mark(index, pairing.MarkedNormal)
}

// ClearSpreadOverride returns page index to detection.
func (s *Session) ClearSpreadOverride(index int) error {
	return s.mark(index, pairing.Auto)
}

func (s *Session) mark(index int, state OverrideState) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !s.valid(index) {
		return fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	if s.overrides.State(index) == state {
		return nil
	}
	s.overrides.Mark(index, state)
	s.logger.Debug("reader: spread override", "index", index, "state", state)
	s.relayout(true)
	return nil
}

// ResetSpreadOverrides drops every manual and learned spread marking.
func (s *Session) ResetSpreadOverrides() {
	if s.isClosed() {
		return
	}
	s.overrides.Reset()
	s.relayout(true)
}

// SpreadOverride returns the marking of page index.
func (s *Session) SpreadOverride(index int) OverrideState {
	return s.overrides.State(index)
}

// SetCurrent sets the page the reader is on. The cache keeps it and its
// neighbours while pruning.
func (s *Session) SetCurrent(index int) {
	if len(s.pages) == 0 {
		return
	}
	s.cache.SetCurrent(min(max(index, 0), len(s.pages)-1))
}

// Current returns the page the reader is on.
func (s *Session) Current() int {
	return s.cache.Current()
}

// PrefetchPartner starts decoding the other page of the pair containing
// index.
func (s *Session) PrefetchPartner(index int) {
	for _, i := range s.Pair(index).Indices() {
		if i != index {
			s.Request(i)
		}
	}
}

// Prefetch starts decoding the given pages.
func (s *Session) Prefetch(indices ...int) {
	for _, i := range indices {
		s.Request(i)
	}
}

func (s *Session) layoutKey(width int) layout.Key {
	st := s.settings.Settings()
	return layout.Key{
		Volume: s.token().Gen,
		Width:  width,
		Pages:  len(s.pages),
		RowGap: st.RowGapPx,
		Gutter: s.cfg.GutterPx,
		Nudge:  st.CouplingNudge,
	}
}

// Layout starts building the scroll layout for a container width and
// returns the rows built so far. A build for the same width, page list,
// row gap and nudge is reused.
func (s *Session) Layout(width int) Snapshot {
	if s.isClosed() || width <= 0 {
		return Snapshot{}
	}
	s.layout.Ensure(s.ctx, s.layoutKey(width))
	return s.layout.Snapshot()
}

// WaitLayout blocks until the running layout build finishes.
func (s *Session) WaitLayout(ctx context.Context) error {
	return s.layout.Wait(ctx)
}

// VisibleRows returns the rows intersecting [y0, y1) of the current layout.
func (s *Session) VisibleRows(y0, y1 int) []Row {
	return s.layout.Snapshot().Visible(y0, y1)
}

// EnterScrollMode switches to continuous scrolling. The layout is built
// for width, and the current page is held at localY below the top of its
// row: once that row exists ScrollY reports the matching offset.
func (s *Session) EnterScrollMode(width, viewportH, localY int) (Snapshot, error) {
	if width <= 0 || viewportH <= 0 {
		return Snapshot{}, fmt.Errorf("%w: %dx%d", ErrBadViewport, width, viewportH)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	s.scroll = scrollState{active: true, width: width, viewportH: viewportH}
	s.mu.Unlock()

	s.layout.Ensure(s.ctx, s.layoutKey(width))
	s.layout.Hold(s.cache.Current(), max(localY, 0))
	s.ScrollY()
	return s.layout.Snapshot(), nil
}

// Scrolling reports whether scroll mode is active.
func (s *Session) Scrolling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scroll.active
}

// ScrollY returns the scroll offset. If the page held on entering scroll
// mode has just been laid out, the offset jumps to it first.
func (s *Session) ScrollY() int {
	if y, ok := s.layout.TakeSync(); ok {
		return s.scrollTo(y)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scroll.y
}

// ScrollTo moves the viewport to y and returns the clamped offset. It
// cancels a pending entry hold, updates the pages the cache keeps and
// prefetches around the viewport.
func (s *Session) ScrollTo(y int) int {
	if !s.Scrolling() {
		return 0
	}
	s.layout.ReleaseHold()
	s.relayout(false)
	return s.scrollTo(y)
}

func (s *Session) scrollTo(y int) int {
	snap := s.layout.Snapshot()

	s.mu.Lock()
	if !s.scroll.active {
		s.mu.Unlock()
		return 0
	}
	st := &s.scroll
	y = max(y, 0)
	if !snap.Building {
		y = min(y, snap.MaxY(st.viewportH))
	}
	st.y = y
	h := st.viewportH

	now := s.now()
	moved := abs(y-st.prefetchY) >= int(prefetchMinDelta*float64(h))
	prefetch := moved || now.Sub(st.prefetchAt) >= prefetchInterval
	if prefetch {
		st.prefetchY = y
		st.prefetchAt = now
	}
	s.mu.Unlock()

	s.applyWindow(snap, y, h)
	if prefetch {
		s.Prefetch(snap.PrefetchIndices(y, h)...)
	}
	return y
}

// Resize changes the scroll viewport. The page at the top of the viewport
// stays in place across the rebuild.
func (s *Session) Resize(width, viewportH int) error {
	if width <= 0 || viewportH <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrBadViewport, width, viewportH)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	active := s.scroll.active
	s.scroll.width = width
	s.scroll.viewportH = viewportH
	s.mu.Unlock()

	if active {
		s.relayout(false)
	}
	return nil
}

// ExitScrollMode leaves scroll mode and returns the page to resume on,
// which also becomes the current page.
func (s *Session) ExitScrollMode() int {
	s.mu.Lock()
	st := s.scroll
	s.scroll = scrollState{}
	s.mu.Unlock()

	s.layout.ReleaseHold()
	s.cache.SetWindow(nil)
	if !st.active {
		return s.cache.Current()
	}

	index, ok := s.layout.Snapshot().IndexForY(st.y)
	if !ok {
		return s.cache.Current()
	}
	s.SetCurrent(index)
	return index
}

// relayout makes the layout match the current settings. When a new build
// starts in scroll mode, the page at the top of the viewport is held so the
// view does not jump. invalidate forces a rebuild.
func (s *Session) relayout(invalidate bool) {
	s.mu.Lock()
	st := s.scroll
	s.mu.Unlock()

	old := s.layout.Snapshot()
	index, anchored := old.IndexForY(st.y)
	var local int
	if anchored {
		start, _ := old.YStartForIndex(index)
		local = st.y - start
	}

	if invalidate {
		s.layout.Invalidate()
	}
	if !st.active {
		return
	}
	key := s.layoutKey(st.width)
	if !s.layout.Ensure(s.ctx, key) || !anchored {
		return
	}
	if old.Key.Width > 0 && old.Key.Width != key.Width {
		local = local * key.Width / old.Key.Width
	}
	s.layout.Hold(index, local)
}

func (s *Session) applyWindow(snap Snapshot, y, h int) {
	keep := s.cfg.KeepMax
	if keep <= 0 {
		keep = cache.DefaultKeepMax
	}
	if index, ok := snap.IndexForY(y); ok {
		s.cache.SetCurrent(index)
	}
	s.cache.SetWindow(snap.KeepIndices(y, h, keep))
	s.cache.Prune()
}

func (s *Session) onLayoutProgress(snap Snapshot) {
	s.mu.Lock()
	st := s.scroll
	s.mu.Unlock()

	if !st.active || snap.Key.Width != st.width {
		return
	}
	s.applyWindow(snap, st.y, st.viewportH)
}

// ReplaceSource rebinds the session to a new byte provider for the same
// pages, for example after an archive was reopened. Decoded pages and
// probed sizes are dropped; in-flight work for the old source is
// discarded.
func (s *Session) ReplaceSource(provider ByteProvider) error {
	if provider == nil {
		return fmt.Errorf("%w: nil byte provider", ErrInvalidConfig)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.provider = provider
	s.mu.Unlock()

	tok, err := s.guard.SwapSource(s.token())
	if err != nil {
		return ErrClosed
	}
	s.tok.Store(&tok)

	s.cache.Clear()
	s.prober.Reset()
	s.relayout(true)
	s.logger.Info("reader: source replaced", "source", tok.Source)
	return nil
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	snap := s.layout.Snapshot()
	return Stats{
		Pages:     len(s.pages),
		Cache:     s.cache.Stats(),
		Decode:    s.pipeline.Stats(),
		Probed:    s.prober.Len(),
		Probing:   s.prober.InFlight(),
		Rows:      len(snap.Rows),
		Height:    snap.Total,
		Building:  snap.Building,
		Spreads:   len(s.overrides.Spreads()),
		Normals:   len(s.overrides.Normals()),
		Scrolling: s.Scrolling(),
	}
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	return s.isClosed()
}

// Close releases every raster and stops background work. Results that
// arrive afterwards are discarded. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.scroll = scrollState{}
	s.mu.Unlock()

	s.guard.Advance(s.token())
	s.cancel()
	s.layout.Reset()
	s.prober.Close()
	s.cache.Close()
	s.overrides.Reset()
	s.logger.Info("reader: session closed")
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
