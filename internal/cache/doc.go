// Package cache holds decoded page rasters under a byte budget.
//
// Every page index is in one of four states: absent, pending (a decode is
// in flight), ready (a raster is held) or failed (absent, with failure
// bookkeeping kept for retry throttling). A page is never both ready and
// pending.
//
// # Budget
//
// Each ready raster is charged width*height*4 bytes regardless of its
// source format. When the total exceeds the budget, Prune evicts in two
// passes: first pages outside the keep-set in least recently used order,
// then keep-set pages other than the current one until a single page is
// left. The keep-set is the current page, its neighbours and, while
// scrolling, the pages of the rows around the viewport.
//
// # Coalescing and staleness
//
// Concurrent requests for the same page share one Pending handle. Results
// of decodes that finish after the session moved on are released and
// reported as guard.ErrStale.
//
// # Thread Safety
//
// Cache is safe for concurrent use. Decode completions, eviction and new
// requests serialize on one mutex.
package cache
