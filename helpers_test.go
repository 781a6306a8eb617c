package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"
)

// pageSpec is a solid-color test page.
type pageSpec struct {
	w, h int
	c    color.NRGBA
}

var palette = []color.NRGBA{
	{R: 0xff, A: 0xff},
	{G: 0xff, A: 0xff},
	{B: 0xff, A: 0xff},
	{R: 0xff, G: 0xff, A: 0xff},
	{R: 0xff, B: 0xff, A: 0xff},
	{G: 0xff, B: 0xff, A: 0xff},
	{R: 0x80, G: 0x80, B: 0x80, A: 0xff},
}

func portrait(i int) pageSpec {
	return pageSpec{w: 100, h: 150, c: palette[i%len(palette)]}
}

func spread(i int) pageSpec {
	return pageSpec{w: 300, h: 150, c: palette[i%len(palette)]}
}

func portraitPages(n int) []pageSpec {
	specs := make([]pageSpec, n)
	for i := range specs {
		specs[i] = portrait(i)
	}
	return specs
}

func testPages(n int) []Page {
	pages := make([]Page, n)
	for i := range pages {
		pages[i] = Page{Index: i, Name: fmt.Sprintf("p%03d.png", i+1), Handle: i}
	}
	return pages
}

func encodePNG(t testing.TB, ps pageSpec) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, ps.w, ps.h))
	for y := range ps.h {
		for x := range ps.w {
			img.SetNRGBA(x, y, ps.c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() = %v", err)
	}
	return buf.Bytes()
}

// memProvider serves encoded pages from memory. Handles are page indices.
type memProvider struct {
	mu      sync.Mutex
	data    map[int][]byte
	fail    map[int]error
	fetches map[int]int
	gate    chan struct{}
}

func newMemProvider(t testing.TB, specs []pageSpec) *memProvider {
	t.Helper()
	m := &memProvider{
		data:    make(map[int][]byte, len(specs)),
		fail:    make(map[int]error),
		fetches: make(map[int]int),
	}
	for i, ps := range specs {
		m.data[i] = encodePNG(t, ps)
	}
	return m
}

func (m *memProvider) Bytes(ctx context.Context, p Page) ([]byte, error) {
	m.mu.Lock()
	m.fetches[p.Index]++
	gate := m.gate
	data, ok := m.data[p.Index]
	err := m.fail[p.Index]
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("no such entry")
	}
	return data, nil
}

// block makes fetches wait until the returned release func is called.
func (m *memProvider) block() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.gate = nil
			m.mu.Unlock()
			close(gate)
		})
	}
}

func (m *memProvider) setFail(index int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, index)
		return
	}
	m.fail[index] = err
}

func (m *memProvider) setRaw(index int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[index] = data
}

func (m *memProvider) fetchCount(index int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[index]
}

// testConfig disables prewarming so fetch counts only reflect the test.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PrewarmPages = 0
	return cfg
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// openSession opens a session over specs and closes the reader on cleanup.
func openSession(t *testing.T, specs []pageSpec, opts ...Option) (*Session, *memProvider) {
	t.Helper()
	opts = append([]Option{WithConfig(testConfig())}, opts...)
	r := New(opts...)
	t.Cleanup(r.Close)

	m := newMemProvider(t, specs)
	s, err := r.Open(testPages(len(specs)), m)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s, m
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
