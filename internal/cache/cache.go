package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/reader/internal/guard"
	"github.com/gogpu/reader/internal/image"
)

// Budget presets in megabytes.
const (
	StandardBudgetMB = 512
	SaverBudgetMB    = 256
	FloorMB          = 32
)

// DefaultKeepMax caps the keep-set so eviction always has candidates.
const DefaultKeepMax = 12

// minKeep covers the current page and its two neighbours.
const minKeep = 3

// DefaultFailCooldown throttles retries of a page whose decode failed.
const DefaultFailCooldown = 900 * time.Millisecond

// ErrNoPages is returned when the session has no pages to decode.
var ErrNoPages = errors.New("cache: no pages")

// BudgetBytes returns the byte budget for a memory mode. A positive
// overrideMB replaces the preset. The result is never below FloorMB.
func BudgetBytes(memorySaver bool, overrideMB int) int64 {
	mb := StandardBudgetMB
	if memorySaver {
		mb = SaverBudgetMB
	}
	if overrideMB > 0 {
		mb = overrideMB
	}
	return int64(max(mb, FloorMB)) << 20
}

// Frame is a ready page.
//
// The raster is owned by the cache and may be released by a later
// eviction; readers go through ImageBuf.View, which reports ErrReleased.
type Frame struct {
	Index  int
	Raster *image.ImageBuf
	Spread bool
}

// Result is what a decoder hands back for one page. Spread is the
// auto-detected flag before overrides.
type Result struct {
	Raster *image.ImageBuf
	Spread bool
	Err    error
}

// Decoder turns a page index into a raster in the background.
//
// StartDecode must not block, not even when its workers are saturated.
// If it returns nil it calls done exactly once; if it returns an error done
// is never called, and guard.ErrStale marks a start refused because the
// session is going away. A successful done must run inside the guard
// commit section for tok so that no session change can interleave with
// the store; failures may be reported from anywhere.
type Decoder interface {
	StartDecode(ctx context.Context, tok guard.Token, index int, done func(Result)) error
}

// Config wires a Cache to its session.
type Config struct {
	// Pages is the number of pages in the session.
	Pages int

	Decoder Decoder
	Guard   *guard.Guard

	// Token returns the session token captured when a decode starts.
	// Defaults to the guard's current token.
	Token func() guard.Token

	// Budget returns the current byte budget. It is read on every prune so
	// a settings change takes effect on the next commit.
	Budget func() int64

	// Spread applies manual overrides to an auto-detected flag.
	Spread func(index int, detected bool) bool

	KeepMax      int
	FailCooldown time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

type entryState uint8

const (
	statePending entryState = iota + 1
	stateReady
	stateFailed
)

// entry is one page. Which fields are meaningful depends on state:
// pending carries the handle, ready the raster, failed only bookkeeping.
// failCount survives into a retry so repeated failures keep counting.
type entry struct {
	state entryState

	pending *Pending

	raster *image.ImageBuf
	spread bool
	bytes  int64
	node   *lruNode

	lastUsed time.Time

	failCount  int
	lastFailAt time.Time
	lastErr    error
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int
	Pending   int
	Failed    int
	Bytes     int64
	Budget    int64
	Hits      uint64
	Misses    uint64
	Coalesced uint64
	Evictions uint64
	Failures  uint64
	Stale     uint64
}

// Cache maps page indices to decoded rasters under a byte budget.
//
// Thread safety: Cache is safe for concurrent use.
type Cache struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[int]*entry
	lru     lruList
	bytes   int64
	current int
	window  []int
	closed  bool

	hits, misses, coalesced     uint64
	evictions, failures, stales uint64
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	if cfg.KeepMax <= 0 {
		cfg.KeepMax = DefaultKeepMax
	}
	cfg.KeepMax = max(cfg.KeepMax, minKeep)
	if cfg.FailCooldown < 0 {
		cfg.FailCooldown = 0
	} else if cfg.FailCooldown == 0 {
		cfg.FailCooldown = DefaultFailCooldown
	}
	if cfg.Budget == nil {
		cfg.Budget = func() int64 { return BudgetBytes(false, 0) }
	}
	if cfg.Spread == nil {
		cfg.Spread = func(_ int, detected bool) bool { return detected }
	}
	if cfg.Token == nil {
		cfg.Token = cfg.Guard.Current
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[int]*entry),
	}
}

// Len returns the number of pages the cache serves.
func (c *Cache) Len() int {
	return c.cfg.Pages
}

func (c *Cache) clamp(index int) int {
	return min(max(index, 0), c.cfg.Pages-1)
}

// GetOrDecode returns the raster of index, decoding it if needed. The
// index is clamped into range. Waiting ends early when ctx is done; the
// decode itself keeps running for other callers.
func (c *Cache) GetOrDecode(ctx context.Context, index int) (Frame, error) {
	f, p, err := c.acquire(index)
	if err != nil || p == nil {
		return f, err
	}
	return p.Wait(ctx)
}

// Request returns the ready frame of index, or starts (or joins) its
// decode and reports false. It never blocks on decoding.
func (c *Cache) Request(index int) (Frame, bool) {
	f, p, err := c.acquire(index)
	return f, err == nil && p == nil
}

func (c *Cache) acquire(index int) (Frame, *Pending, error) {
	if c.cfg.Pages <= 0 {
		return Frame{}, nil, ErrNoPages
	}
	i := c.clamp(index)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Frame{}, nil, guard.ErrStale
	}

	e, ok := c.entries[i]
	if ok {
		switch e.state {
		case stateReady:
			c.hits++
			e.lastUsed = c.cfg.Now()
			c.lru.MoveToFront(e.node)
			f := Frame{Index: i, Raster: e.raster, Spread: c.cfg.Spread(i, e.spread)}
			c.mu.Unlock()
			return f, nil, nil

		case statePending:
			c.coalesced++
			p := e.pending
			c.mu.Unlock()
			return Frame{}, p, nil

		case stateFailed:
			if wait := c.cfg.FailCooldown - c.cfg.Now().Sub(e.lastFailAt); wait > 0 {
				err := e.lastErr
				c.mu.Unlock()
				return Frame{}, nil, err
			}
		}
	}

	c.misses++
	failCount := 0
	if ok {
		failCount = e.failCount
	}
	p := newPending()
	c.entries[i] = &entry{
		state:     statePending,
		pending:   p,
		lastUsed:  c.cfg.Now(),
		failCount: failCount,
	}
	tok := c.cfg.Token()
	c.mu.Unlock()

	// Started outside the lock: a decoder may complete synchronously.
	err := c.cfg.Decoder.StartDecode(c.ctx, tok, i, func(r Result) {
		c.finish(i, p, r)
	})
	if err != nil {
		c.finish(i, p, Result{Err: err})
	}
	return Frame{}, p, nil
}

// finish resolves a decode. The entry is only touched while it still
// holds the same pending handle; anything else means the cache was cleared
// or the page was re-requested after a stale completion.
func (c *Cache) finish(index int, p *Pending, r Result) {
	c.mu.Lock()
	e, ok := c.entries[index]
	own := ok && e.state == statePending && e.pending == p

	var (
		f   Frame
		err error
	)
	switch {
	case r.Err == nil && r.Raster != nil && own:
		e.state = stateReady
		e.pending = nil
		e.raster = r.Raster
		e.spread = r.Spread
		e.bytes = r.Raster.EstimatedBytes()
		e.lastUsed = c.cfg.Now()
		e.failCount = 0
		e.lastFailAt = time.Time{}
		e.lastErr = nil
		e.node = c.lru.PushFront(index)
		c.bytes += e.bytes
		f = Frame{Index: index, Raster: r.Raster, Spread: c.cfg.Spread(index, r.Spread)}
		c.pruneLocked()

	case r.Err == nil:
		if r.Raster != nil {
			r.Raster.Release()
		}
		c.stales++
		err = guard.ErrStale

	case errors.Is(r.Err, guard.ErrStale):
		if own {
			delete(c.entries, index)
		}
		c.stales++
		err = guard.ErrStale

	default:
		if own {
			e.state = stateFailed
			e.pending = nil
			e.failCount++
			e.lastFailAt = c.cfg.Now()
			e.lastErr = r.Err
		}
		c.failures++
		err = r.Err
	}
	c.mu.Unlock()

	switch {
	case err == nil:
		c.cfg.Logger.Debug("cache: page ready", "index", index, "bytes", f.Raster.EstimatedBytes())
	case errors.Is(err, guard.ErrStale):
		c.cfg.Logger.Debug("cache: stale decode discarded", "index", index)
	default:
		c.cfg.Logger.Warn("cache: decode failed", "index", index, "err", err)
	}
	p.resolve(f, err)
}

// Peek returns the ready frame of index without touching recency or
// starting a decode.
func (c *Cache) Peek(index int) (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[index]
	if !ok || e.state != stateReady {
		return Frame{}, false
	}
	return Frame{Index: index, Raster: e.raster, Spread: c.cfg.Spread(index, e.spread)}, true
}

// Detected returns the auto-detected spread flag of a ready page.
func (c *Cache) Detected(index int) (spread, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[index]
	if !found || e.state != stateReady {
		return false, false
	}
	return e.spread, true
}

// Size returns the pixel size of a ready page.
func (c *Cache) Size(index int) (width, height int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[index]
	if !found || e.state != stateReady {
		return 0, 0, false
	}
	return e.raster.Width(), e.raster.Height(), true
}

// Failure returns the failure bookkeeping of index.
func (c *Cache) Failure(index int) (count int, at time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[index]
	if !ok {
		return 0, time.Time{}, nil
	}
	return e.failCount, e.lastFailAt, e.lastErr
}

// SetCurrent sets the page the keep-set is centred on.
func (c *Cache) SetCurrent(index int) {
	c.mu.Lock()
	c.current = index
	c.mu.Unlock()
}

// Current returns the page the keep-set is centred on.
func (c *Cache) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetWindow sets the extra pages kept while scrolling, nearest first.
// A nil window leaves only the current page and its neighbours.
func (c *Cache) SetWindow(indices []int) {
	w := append([]int(nil), indices...)
	c.mu.Lock()
	c.window = w
	c.mu.Unlock()
}

// Prune evicts pages until the cache fits its budget.
func (c *Cache) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
}

func (c *Cache) keepSetLocked() map[int]struct{} {
	keep := make(map[int]struct{}, c.cfg.KeepMax)
	for _, i := range []int{c.current, c.current - 1, c.current + 1} {
		if i >= 0 && i < c.cfg.Pages {
			keep[i] = struct{}{}
		}
	}
	for _, i := range c.window {
		if len(keep) >= c.cfg.KeepMax {
			break
		}
		keep[i] = struct{}{}
	}
	return keep
}

func (c *Cache) pruneLocked() {
	budget := c.cfg.Budget()
	if c.bytes <= budget {
		return
	}
	keep := c.keepSetLocked()

	c.lru.Walk(func(i int) bool {
		if _, ok := keep[i]; !ok {
			c.evictLocked(i)
		}
		return c.bytes > budget
	})

	if c.bytes > budget {
		c.lru.Walk(func(i int) bool {
			if c.lru.Len() <= 1 {
				return false
			}
			if i != c.current {
				c.evictLocked(i)
			}
			return c.bytes > budget
		})
	}

	if c.bytes > budget {
		c.cfg.Logger.Debug("cache: over budget after prune",
			"bytes", c.bytes, "budget", budget, "entries", c.lru.Len())
	}
}

func (c *Cache) evictLocked(index int) {
	e, ok := c.entries[index]
	if !ok || e.state != stateReady {
		return
	}
	c.lru.Remove(e.node)
	c.bytes -= e.bytes
	delete(c.entries, index)
	e.raster.Release()
	c.evictions++
	c.cfg.Logger.Debug("cache: evicted", "index", index, "bytes", e.bytes)
}

// Clear releases every raster and drops all entries. Waiters of in-flight
// decodes receive guard.ErrStale.
func (c *Cache) Clear() {
	c.mu.Lock()
	var waiters []*Pending
	for _, e := range c.entries {
		switch e.state {
		case stateReady:
			e.raster.Release()
		case statePending:
			waiters = append(waiters, e.pending)
		}
	}
	c.entries = make(map[int]*entry)
	c.lru.Clear()
	c.bytes = 0
	c.mu.Unlock()

	for _, p := range waiters {
		p.resolve(Frame{}, guard.ErrStale)
	}
}

// Close cancels in-flight decodes and clears the cache. Later requests
// fail with guard.ErrStale.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.Clear()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Entries:   c.lru.Len(),
		Bytes:     c.bytes,
		Budget:    c.cfg.Budget(),
		Hits:      c.hits,
		Misses:    c.misses,
		Coalesced: c.coalesced,
		Evictions: c.evictions,
		Failures:  c.failures,
		Stale:     c.stales,
	}
	for _, e := range c.entries {
		switch e.state {
		case statePending:
			s.Pending++
		case stateFailed:
			s.Failed++
		}
	}
	return s
}

// String implements fmt.Stringer for debugging.
func (s Stats) String() string {
	return fmt.Sprintf("entries=%d pending=%d bytes=%d/%d hits=%d misses=%d evictions=%d failures=%d",
		s.Entries, s.Pending, s.Bytes, s.Budget, s.Hits, s.Misses, s.Evictions, s.Failures)
}
