// Package guard tracks the identity of the active volume session and
// discards asynchronous results that complete after it was superseded.
//
// A Token is captured when work is requested. The work may finish at any
// later time; before its result is allowed to touch shared state it must be
// committed through the Guard that issued the token. Commit runs the mutation
// only while the token is still current, and holds the guard so that no
// Advance can interleave between the check and the mutation.
package guard

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrStale is returned when a result belongs to a superseded session.
// It is not a failure: callers drop it silently.
var ErrStale = errors.New("reader: stale result")

// Token identifies one volume session: a generation counter plus the
// identities of the byte source and the page list it was bound to.
type Token struct {
	Gen    uint64
	Source uint64
	Pages  uint64
}

// Guard issues tokens and validates them.
//
// Guard is safe for concurrent use.
type Guard struct {
	// mu serializes token changes against commits.
	mu sync.RWMutex

	// cur is read lock-free so callers holding other locks can snapshot it.
	cur atomic.Pointer[Token]

	// ids is the shared counter for generation and reference identities.
	ids uint64
}

// New creates a guard with an initial, empty session.
func New() *Guard {
	g := &Guard{}
	g.cur.Store(&Token{})
	return g
}

// Current returns the active token without blocking.
func (g *Guard) Current() Token {
	return *g.cur.Load()
}

// Valid reports whether tok is still the active token.
func (g *Guard) Valid(tok Token) bool {
	return g.Current() == tok
}

// Open starts a new session bound to fresh source and page-list identities.
// Every token issued before Open becomes stale.
func (g *Guard) Open() Token {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ids++
	gen := g.ids
	g.ids++
	src := g.ids
	g.ids++
	pages := g.ids

	tok := Token{Gen: gen, Source: src, Pages: pages}
	g.cur.Store(&tok)
	return tok
}

// Advance invalidates tok if it is still active and returns the new token.
// Advancing a token that was already superseded is a no-op.
func (g *Guard) Advance(tok Token) Token {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := *g.cur.Load()
	if cur != tok {
		return cur
	}
	g.ids++
	next := Token{Gen: g.ids, Source: cur.Source, Pages: cur.Pages}
	g.cur.Store(&next)
	return next
}

// SwapSource rebinds the active session to a new byte source. Results
// fetched from the old source become stale while the generation stays.
func (g *Guard) SwapSource(tok Token) (Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := *g.cur.Load()
	if cur != tok {
		return cur, ErrStale
	}
	g.ids++
	next := cur
	next.Source = g.ids
	g.cur.Store(&next)
	return next, nil
}

// Commit runs fn if tok is still current. The token cannot change while fn
// runs. fn must not call back into the guard's writers.
func (g *Guard) Commit(tok Token, fn func()) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if *g.cur.Load() != tok {
		return ErrStale
	}
	fn()
	return nil
}

// Do runs work on behalf of tok and commits its result.
//
// Work is skipped when tok is already stale. A result produced after tok was
// superseded is handed to discard (to release resources) and ErrStale is
// returned; otherwise commit receives it under the guard. Errors from work
// are returned unchanged unless the token went stale in the meantime.
func Do[T any](g *Guard, tok Token, work func() (T, error), commit func(T), discard func(T)) (T, error) {
	var zero T
	if !g.Valid(tok) {
		return zero, ErrStale
	}

	v, err := work()
	if err != nil {
		if !g.Valid(tok) {
			return zero, ErrStale
		}
		return zero, err
	}

	cerr := g.Commit(tok, func() {
		if commit != nil {
			commit(v)
		}
	})
	if cerr != nil {
		if discard != nil {
			discard(v)
		}
		return zero, cerr
	}
	return v, nil
}
