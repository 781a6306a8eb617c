package reader

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/reader/internal/guard"
	"github.com/gogpu/reader/internal/image"
	"github.com/gogpu/reader/internal/parallel"
)

// Pixel buffer pool limits. Freed rasters of the same size are common
// (scans of one volume share a page size), so a few per size are kept.
const (
	poolPerBucket = 4
	poolMaxBytes  = 64 << 20
)

// Reader owns the resources shared by all sessions: the decode workers,
// the pixel buffer pool and the session guard. It has at most one open
// Session at a time.
//
// Thread safety: Reader is safe for concurrent use.
type Reader struct {
	cfg      Config
	settings SettingsSource
	logger   *slog.Logger
	now      func() time.Time

	guard   *guard.Guard
	workers *parallel.WorkerPool
	pool    *image.Pool

	mu      sync.Mutex
	session *Session
	closed  bool
}

// New creates a reader.
//
// Example:
//
//	r := reader.New()
//	defer r.Close()
func New(opts ...Option) *Reader {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = Logger()
	}
	if err := o.config.Validate(); err != nil {
		o.logger.Warn("reader: invalid config, using defaults", "err", err)
		o.config = DefaultConfig()
	}
	if o.settings == nil {
		o.settings = StaticSettings(o.config.Settings())
	}

	return &Reader{
		cfg:      o.config,
		settings: o.settings,
		logger:   o.logger,
		now:      o.now,
		guard:    guard.New(),
		workers:  parallel.NewWorkerPool(o.config.DecodeWorkers),
		pool:     image.NewPool(poolPerBucket, poolMaxBytes),
	}
}

// Config returns the configuration in use.
func (r *Reader) Config() Config {
	return r.cfg
}

// Settings returns the current live settings.
func (r *Reader) Settings() Settings {
	return r.settings.Settings()
}

// Open starts a session over pages, closing the previous session first.
// Page indices are renumbered to their position in the list. Work still
// running for the previous session is discarded when it completes.
func (r *Reader) Open(pages []Page, provider ByteProvider) (*Session, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil byte provider", ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if r.session != nil {
		r.session.Close()
	}

	list := make([]Page, len(pages))
	for i, p := range pages {
		p.Index = i
		list[i] = p
	}

	tok := r.guard.Open()
	s := newSession(r, tok, list, provider)
	r.session = s
	r.logger.Info("reader: session opened", "pages", len(list), "gen", tok.Gen)
	return s, nil
}

// Session returns the open session, or nil.
func (r *Reader) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil && r.session.Closed() {
		return nil
	}
	return r.session
}

// Close closes the open session and stops the decode workers.
func (r *Reader) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	s := r.session
	r.session = nil
	r.mu.Unlock()

	if s != nil {
		s.Close()
	}
	r.workers.Close()
	r.pool.Drain()
}

// PoolStats returns the pixel buffer pool counters.
func (r *Reader) PoolStats() image.PoolStats {
	return r.pool.Stats()
}
