package reader

import (
	"context"
	"fmt"
)

// Page describes one page image of a volume. Index is the position in the
// page list; Handle is whatever the byte provider needs to find the bytes.
type Page struct {
	Index  int
	Name   string
	Handle any
}

// String returns a short description for logs.
func (p Page) String() string {
	return fmt.Sprintf("page %d (%s)", p.Index, p.Name)
}

// ByteProvider returns the encoded bytes of a page. Implementations must be
// safe for concurrent use.
type ByteProvider interface {
	Bytes(ctx context.Context, p Page) ([]byte, error)
}

// ByteProviderFunc adapts a function to ByteProvider.
type ByteProviderFunc func(ctx context.Context, p Page) ([]byte, error)

// Bytes calls f.
func (f ByteProviderFunc) Bytes(ctx context.Context, p Page) ([]byte, error) {
	return f(ctx, p)
}
