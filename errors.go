package reader

import (
	"errors"

	"github.com/gogpu/reader/internal/cache"
	"github.com/gogpu/reader/internal/decode"
	"github.com/gogpu/reader/internal/guard"
)

var (
	// ErrStale is returned for work that belonged to a session that has
	// since been closed or replaced. It is not a failure and is never
	// logged above debug level.
	ErrStale = guard.ErrStale

	// ErrDecodeFailed wraps errors from image decoding.
	ErrDecodeFailed = decode.ErrDecodeFailed

	// ErrSourceUnavailable wraps errors from the byte provider.
	ErrSourceUnavailable = decode.ErrSourceUnavailable

	// ErrNoPages is returned when a session has no pages.
	ErrNoPages = cache.ErrNoPages

	// ErrOutOfRange is returned for page indices outside the session.
	ErrOutOfRange = errors.New("reader: page index out of range")

	// ErrClosed is returned by a closed Reader or Session.
	ErrClosed = errors.New("reader: closed")

	// ErrInvalidConfig is returned for a configuration that fails validation.
	ErrInvalidConfig = errors.New("reader: invalid config")

	// ErrBadViewport is returned for a non-positive viewport size.
	ErrBadViewport = errors.New("reader: invalid viewport size")
)

// IsStale reports whether err only means the work was superseded.
func IsStale(err error) bool {
	return errors.Is(err, ErrStale)
}
