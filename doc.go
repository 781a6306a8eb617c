// Package reader is the engine of a paginated image reader.
//
// Given an ordered list of page images and a way to fetch their bytes, a
// Session decodes pages on demand, keeps the decoded rasters under a memory
// budget, pairs pages into two-page spreads the way a printed book does,
// and lays the pairs out as a continuous vertical stream for scrolling.
//
// # Quick Start
//
//	r := reader.New(reader.WithConfig(cfg))
//	defer r.Close()
//
//	s, err := r.Open(pages, provider)
//	if err != nil {
//	    return err
//	}
//	frame, err := s.GetOrDecode(ctx, 0)
//
// # Sessions
//
// A Reader has at most one open Session. Opening another volume closes the
// previous session; results of decodes and dimension probes that were
// still running for it are dropped without touching the new one.
//
// # Pairing
//
// Page 0 is the cover and always stands alone. Wide pages (width/height of
// at least 1.15) are stitched spreads: they are shown alone at full width
// and shift the left/right parity of every page after them. The coupling
// nudge setting flips that parity by one page when a volume's spreads are
// not detectable.
//
// # Scrolling
//
// In scroll mode pages are stacked in rows built incrementally in the
// background from header-only dimension probes. The rows are rebuilt
// whenever the container width, the page list, the row gap, the nudge or
// the spread overrides change.
//
// # Logging
//
// The package logs through log/slog and is silent by default. See
// SetLogger.
package reader
