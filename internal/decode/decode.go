// Package decode turns encoded page bytes into rasters on a bounded set of
// workers and classifies each page as a single page or a stitched spread.
package decode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/reader/internal/cache"
	"github.com/gogpu/reader/internal/guard"
	"github.com/gogpu/reader/internal/image"
	"github.com/gogpu/reader/internal/parallel"
	"github.com/gogpu/reader/internal/probe"
)

// DefaultWorkers bounds concurrent full decodes.
const DefaultWorkers = 2

var (
	// ErrDecodeFailed is returned when page bytes cannot be decoded.
	ErrDecodeFailed = errors.New("decode: decode failed")

	// ErrSourceUnavailable is returned when page bytes cannot be fetched.
	ErrSourceUnavailable = errors.New("decode: source unavailable")
)

// Config wires a Pipeline to its session.
type Config struct {
	// Fetch returns the encoded bytes of page index.
	Fetch func(ctx context.Context, index int) ([]byte, error)

	Guard *guard.Guard

	// Learn records an auto-detected spread. It runs inside the guard
	// commit, so it never fires for a superseded session.
	Learn func(index int)

	// Workers runs the decodes. It is usually shared across sessions.
	Workers *parallel.WorkerPool

	// Pool recycles pixel buffers; nil allocates fresh ones.
	Pool *image.Pool

	SpreadRatio float64
	Logger      *slog.Logger
}

// Stats counts pipeline outcomes.
//
// Workers, Queued, Running and Completed describe the worker pool, which may be
// shared with other sessions. Backlog counts this pipeline's jobs waiting
// for room in the pool queues.
type Stats struct {
	Decoded   uint64
	Failed    uint64
	Discarded uint64

	Backlog   int
	Workers   int
	Queued    int
	Running   int
	Completed uint64
}

// job is a decode waiting for room in the worker queues.
type job struct {
	ctx  context.Context
	fn   func()
	done func(cache.Result)
}

// Pipeline decodes pages for a cache.
//
// Thread safety: Pipeline is safe for concurrent use.
type Pipeline struct {
	cfg Config

	mu      sync.Mutex
	backlog []job
	feeding bool

	decoded   atomic.Uint64
	failed    atomic.Uint64
	discarded atomic.Uint64
}

// New creates a pipeline. Workers is required.
func New(cfg Config) *Pipeline {
	if cfg.SpreadRatio <= 0 {
		cfg.SpreadRatio = probe.DefaultSpreadRatio
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{cfg: cfg}
}

type output struct {
	raster *image.ImageBuf
	spread bool
}

// StartDecode queues a decode of index on the worker pool. It implements
// cache.Decoder and never blocks: when every worker queue is full the job
// joins a backlog that is fed to the pool in order.
//
// A done ctx or a closed pool means the session is going away and is
// reported as guard.ErrStale.
func (p *Pipeline) StartDecode(ctx context.Context, tok guard.Token, index int, done func(cache.Result)) error {
	if ctx.Err() != nil || !p.cfg.Workers.IsRunning() {
		return guard.ErrStale
	}
	fn := func() { p.run(ctx, tok, index, done) }
	if p.cfg.Workers.TrySubmit(fn) {
		return nil
	}

	p.mu.Lock()
	p.backlog = append(p.backlog, job{ctx: ctx, fn: fn, done: done})
	start := !p.feeding
	p.feeding = true
	p.mu.Unlock()

	if start {
		go p.feed()
	}
	return nil
}

// feed moves backlogged jobs into the pool, waiting for queue room. Jobs
// whose session ended in the meantime resolve as stale.
func (p *Pipeline) feed() {
	for {
		p.mu.Lock()
		if len(p.backlog) == 0 {
			p.feeding = false
			p.mu.Unlock()
			return
		}
		j := p.backlog[0]
		p.backlog[0] = job{}
		p.backlog = p.backlog[1:]
		p.mu.Unlock()

		if err := p.cfg.Workers.Submit(j.ctx, j.fn); err != nil {
			p.discarded.Add(1)
			p.cfg.Logger.Debug("decode: backlogged job dropped", "err", err)
			j.done(cache.Result{Err: guard.ErrStale})
		}
	}
}

func (p *Pipeline) run(ctx context.Context, tok guard.Token, index int, done func(cache.Result)) {
	out, err := guard.Do(p.cfg.Guard, tok,
		func() (output, error) { return p.decode(ctx, index) },
		func(o output) {
			if o.spread && p.cfg.Learn != nil {
				p.cfg.Learn(index)
			}
			done(cache.Result{Raster: o.raster, Spread: o.spread})
		},
		func(o output) { o.raster.Release() },
	)

	switch {
	case err == nil:
		p.decoded.Add(1)
		p.cfg.Logger.Debug("decode: page decoded", "index", index,
			"width", out.raster.Width(), "height", out.raster.Height(), "spread", out.spread)
		return
	case errors.Is(err, guard.ErrStale):
		p.discarded.Add(1)
	default:
		p.failed.Add(1)
	}
	done(cache.Result{Err: err})
}

// decode fetches and decodes one page. A cancelled context means the
// session is going away, which is reported as stale rather than a failure.
func (p *Pipeline) decode(ctx context.Context, index int) (output, error) {
	if ctx.Err() != nil {
		return output{}, guard.ErrStale
	}

	data, err := p.cfg.Fetch(ctx, index)
	if err != nil {
		if ctx.Err() != nil {
			return output{}, guard.ErrStale
		}
		return output{}, fmt.Errorf("%w: page %d: %w", ErrSourceUnavailable, index, err)
	}
	if len(data) == 0 {
		return output{}, fmt.Errorf("%w: page %d: empty entry", ErrSourceUnavailable, index)
	}

	if f := probe.Sniff(data); f == probe.FormatUnknown {
		return output{}, fmt.Errorf("%w: page %d: %w", ErrDecodeFailed, index, probe.ErrUnknownFormat)
	}

	raster, _, err := image.Decode(data, p.cfg.Pool)
	if err != nil {
		return output{}, fmt.Errorf("%w: page %d: %w", ErrDecodeFailed, index, err)
	}

	return output{
		raster: raster,
		spread: probe.IsSpread(raster.Width(), raster.Height(), p.cfg.SpreadRatio),
	}, nil
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	backlog := len(p.backlog)
	p.mu.Unlock()

	return Stats{
		Decoded:   p.decoded.Load(),
		Failed:    p.failed.Load(),
		Discarded: p.discarded.Load(),
		Backlog:   backlog,
		Workers:   p.cfg.Workers.Workers(),
		Queued:    p.cfg.Workers.QueuedWork(),
		Running:   p.cfg.Workers.Active(),
		Completed: p.cfg.Workers.Completed(),
	}
}
