package reader

import (
	"errors"
	"testing"
)

func TestReader_OpenClosesPrevious(t *testing.T) {
	r := New(WithConfig(testConfig()))
	defer r.Close()

	s1, err := r.Open(testPages(2), newMemProvider(t, portraitPages(2)))
	if err != nil {
		t.Fatal(err)
	}
	s2, err := r.Open(testPages(3), newMemProvider(t, portraitPages(3)))
	if err != nil {
		t.Fatal(err)
	}

	if !s1.Closed() {
		t.Error("previous session still open")
	}
	if r.Session() != s2 {
		t.Error("Session() is not the latest session")
	}
	if _, err := s1.GetOrDecode(testContext(t), 0); !errors.Is(err, ErrClosed) {
		t.Errorf("old session GetOrDecode = %v, want ErrClosed", err)
	}
	if s2.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s2.Len())
	}
}

func TestReader_StaleResultsDropped(t *testing.T) {
	r := New(WithConfig(testConfig()))
	defer r.Close()

	m1 := newMemProvider(t, portraitPages(2))
	s1, err := r.Open(testPages(2), m1)
	if err != nil {
		t.Fatal(err)
	}
	release := m1.block()
	defer release()

	ctx := testContext(t)
	done := make(chan error, 1)
	go func() {
		_, err := s1.GetOrDecode(ctx, 0)
		done <- err
	}()
	waitFor(t, "blocked fetch", func() bool { return m1.fetchCount(0) == 1 })

	s2, err := r.Open(testPages(2), newMemProvider(t, portraitPages(2)))
	if err != nil {
		t.Fatal(err)
	}
	release()

	if err := <-done; !errors.Is(err, ErrClosed) && !IsStale(err) {
		t.Errorf("superseded GetOrDecode = %v, want ErrClosed or stale", err)
	}
	if st := s2.Stats(); st.Cache.Entries != 0 || st.Cache.Failures != 0 {
		t.Errorf("new session touched by old result: %v", st.Cache)
	}
	if st := s1.Stats(); st.Cache.Failures != 0 {
		t.Errorf("stale result counted as failure: %v", st.Cache)
	}
}

func TestReader_PagesRenumbered(t *testing.T) {
	r := New(WithConfig(testConfig()))
	defer r.Close()

	pages := []Page{{Index: 7, Name: "a.png"}, {Index: 3, Name: "b.png"}}
	s, err := r.Open(pages, newMemProvider(t, portraitPages(2)))
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.Page(1)
	if err != nil {
		t.Fatal(err)
	}
	if p.Index != 1 || p.Name != "b.png" {
		t.Errorf("Page(1) = %+v", p)
	}
	if _, err := s.Page(2); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Page(2) = %v, want ErrOutOfRange", err)
	}
	if pages[0].Index != 7 {
		t.Error("Open modified the caller's slice")
	}
}

func TestReader_Errors(t *testing.T) {
	r := New()
	if _, err := r.Open(testPages(1), nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Open(nil provider) = %v, want ErrInvalidConfig", err)
	}
	r.Close()
	r.Close()
	if _, err := r.Open(testPages(1), newMemProvider(t, portraitPages(1))); !errors.Is(err, ErrClosed) {
		t.Errorf("Open after Close = %v, want ErrClosed", err)
	}
	if r.Session() != nil {
		t.Error("Session() after Close should be nil")
	}
}

func TestReader_InvalidConfigFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DecodeWorkers = 0
	r := New(WithConfig(cfg))
	defer r.Close()

	if got := r.Config().DecodeWorkers; got != DefaultConfig().DecodeWorkers {
		t.Errorf("DecodeWorkers = %d, want the default", got)
	}
}

func TestReader_SettingsFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemorySaver = true
	cfg.RowGapPx = 8
	r := New(WithConfig(cfg))
	defer r.Close()

	want := Settings{MemorySaver: true, RowGapPx: 8}
	if got := r.Settings(); got != want {
		t.Errorf("Settings() = %+v, want %+v", got, want)
	}
}
