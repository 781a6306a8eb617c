package probe

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/gogpu/reader/internal/guard"
)

// DefaultWorkers bounds concurrent header probes. Header parsing is far
// cheaper than a full decode, so this is higher than the decode limit.
const DefaultWorkers = 6

// Result is the probed size of one page.
//
// Spread is the auto-detected flag; manual overrides are applied by the
// caller at read time. Fallback is set when the header could not be parsed
// and a 1x1 placeholder size was recorded instead.
type Result struct {
	Width    int
	Height   int
	Format   Format
	Spread   bool
	Fallback bool
}

// Config wires a Prober to its session.
type Config struct {
	// Fetch returns the encoded bytes of page index.
	Fetch func(ctx context.Context, index int) ([]byte, error)

	// Decoded returns the size of an already decoded raster, if any.
	Decoded func(index int) (width, height int, ok bool)

	// Learn records an auto-detected spread. It runs under the guard.
	Learn func(index int)

	Guard *guard.Guard
	// Token returns the session token to capture at request time.
	Token func() guard.Token

	Workers     int
	SpreadRatio float64
	Logger      *slog.Logger
}

// Prober is a per-session cache of page dimensions.
//
// Concurrent requests for the same index share one probe. Results that land
// after the session token changed are discarded.
//
// Thread safety: Prober is safe for concurrent use.
type Prober struct {
	cfg   Config
	sem   *semaphore.Weighted
	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	dims      map[int]Result
	requested map[int]struct{}
}

// New creates a prober.
func New(cfg Config) *Prober {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.SpreadRatio <= 0 {
		cfg.SpreadRatio = DefaultSpreadRatio
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Prober{
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:       ctx,
		cancel:    cancel,
		dims:      make(map[int]Result),
		requested: make(map[int]struct{}),
	}
}

// Lookup returns a cached result without blocking.
func (p *Prober) Lookup(index int) (Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.dims[index]
	return r, ok
}

// Get returns the dimensions of page index, probing if needed.
// If ctx is done first the probe keeps running for other waiters.
func (p *Prober) Get(ctx context.Context, index int) (Result, error) {
	if r, ok := p.Lookup(index); ok {
		return r, nil
	}

	ch := p.group.DoChan(strconv.Itoa(index), func() (any, error) {
		return p.probe(index)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

// Request starts a background probe of page index unless it is cached or
// a background probe for it is already running.
func (p *Prober) Request(index int) {
	p.mu.Lock()
	if _, ok := p.dims[index]; ok {
		p.mu.Unlock()
		return
	}
	if _, ok := p.requested[index]; ok {
		p.mu.Unlock()
		return
	}
	p.requested[index] = struct{}{}
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.requested, index)
			p.mu.Unlock()
		}()
		if _, err := p.Get(p.ctx, index); err != nil {
			p.cfg.Logger.Debug("probe: background request failed", "index", index, "err", err)
		}
	}()
}

// InFlight returns the number of background requests still running.
func (p *Prober) InFlight() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.requested)
}

// Prewarm probes pages [0, limit) and waits for them. Individual failures
// are ignored; the first context error is returned.
func (p *Prober) Prewarm(ctx context.Context, limit int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i := range limit {
		g.Go(func() error {
			if _, err := p.Get(gctx, i); err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	return g.Wait()
}

// Len returns the number of cached results.
func (p *Prober) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.dims)
}

// Reset drops every cached result.
func (p *Prober) Reset() {
	p.mu.Lock()
	p.dims = make(map[int]Result)
	p.mu.Unlock()
}

// Close stops pending probes and drops the cache.
func (p *Prober) Close() {
	p.cancel()
	p.Reset()
}

func (p *Prober) probe(index int) (Result, error) {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return Result{}, err
	}
	defer p.sem.Release(1)

	tok := p.cfg.Token()
	return guard.Do(p.cfg.Guard, tok,
		func() (Result, error) { return p.measure(index) },
		func(r Result) {
			p.mu.Lock()
			p.dims[index] = r
			p.mu.Unlock()
			if r.Spread && p.cfg.Learn != nil {
				p.cfg.Learn(index)
			}
		},
		nil,
	)
}

func (p *Prober) measure(index int) (Result, error) {
	if p.cfg.Decoded != nil {
		if w, h, ok := p.cfg.Decoded(index); ok {
			return p.result(Dims{Width: w, Height: h}), nil
		}
	}

	data, err := p.cfg.Fetch(p.ctx, index)
	if err != nil {
		return Result{}, err
	}

	d, err := Dimensions(data)
	if err != nil {
		p.cfg.Logger.Debug("probe: header unreadable, using placeholder size", "index", index, "err", err)
		return Result{Width: 1, Height: 1, Format: Sniff(data), Fallback: true}, nil
	}
	return p.result(d), nil
}

func (p *Prober) result(d Dims) Result {
	return Result{
		Width:  d.Width,
		Height: d.Height,
		Format: d.Format,
		Spread: IsSpread(d.Width, d.Height, p.cfg.SpreadRatio),
	}
}
