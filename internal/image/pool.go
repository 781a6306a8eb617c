package image

import "sync"

// Pool recycles raster backing stores.
//
// Comic and manga volumes usually share one page size, so a released page
// buffer is very likely to fit the next decode exactly. Buffers are bucketed
// by byte length; the pool never holds more than maxBytes in total so that
// recycled memory cannot grow past what the page cache budget accounts for.
//
// Thread safety: All methods are safe for concurrent use.
type Pool struct {
	mu           sync.Mutex
	buckets      map[int][][]byte
	maxPerBucket int
	maxBytes     int64
	held         int64

	hits   uint64
	misses uint64
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	HeldBytes int64
	Hits      uint64
	Misses    uint64
}

// NewPool creates a pool keeping at most maxPerBucket buffers per size and
// maxBytes across all sizes. A maxPerBucket of 0 disables pooling.
func NewPool(maxPerBucket int, maxBytes int64) *Pool {
	return &Pool{
		buckets:      make(map[int][][]byte),
		maxPerBucket: maxPerBucket,
		maxBytes:     maxBytes,
	}
}

// NewImageBuf allocates a raster, reusing a pooled backing store when one of
// the right size is available. Reused stores are not cleared; decoders
// overwrite every pixel.
func (p *Pool) NewImageBuf(width, height int) (*ImageBuf, error) {
	return newImageBuf(width, height, p)
}

// Stats returns current pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{HeldBytes: p.held, Hits: p.hits, Misses: p.misses}
}

// Drain drops every pooled buffer.
func (p *Pool) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buckets = make(map[int][][]byte)
	p.held = 0
}

func (p *Pool) get(n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	bucket := p.buckets[n]
	if len(bucket) == 0 {
		p.misses++
		return nil
	}
	buf := bucket[len(bucket)-1]
	bucket[len(bucket)-1] = nil
	p.buckets[n] = bucket[:len(bucket)-1]
	p.held -= int64(n)
	p.hits++
	return buf
}

func (p *Pool) put(buf []byte) {
	if buf == nil || p.maxPerBucket <= 0 {
		return
	}
	n := len(buf)

	p.mu.Lock()
	defer p.mu.Unlock()

	bucket := p.buckets[n]
	if len(bucket) >= p.maxPerBucket {
		return
	}
	if p.maxBytes > 0 && p.held+int64(n) > p.maxBytes {
		return
	}
	p.buckets[n] = append(bucket, buf)
	p.held += int64(n)
}
