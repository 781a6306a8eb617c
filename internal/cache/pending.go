package cache

import (
	"context"
	"sync"
)

// Pending is the shared handle of one in-flight decode. Every caller that
// asks for the page while it decodes receives the same handle.
type Pending struct {
	done chan struct{}
	once sync.Once

	frame Frame
	err   error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Wait blocks until the decode is resolved or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Frame, error) {
	select {
	case <-p.done:
		return p.frame, p.err
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// resolve is idempotent; the first outcome wins.
func (p *Pending) resolve(f Frame, err error) {
	p.once.Do(func() {
		p.frame = f
		p.err = err
		close(p.done)
	})
}
