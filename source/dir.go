package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gogpu/reader"
)

var (
	// ErrNoImages is returned for a container without page images.
	ErrNoImages = errors.New("source: no images")

	// ErrBadHandle is returned for a page that did not come from the
	// provider it is passed to.
	ErrBadHandle = errors.New("source: foreign page handle")

	// ErrEntryTooLarge is returned for an archive entry over MaxEntryBytes.
	ErrEntryTooLarge = errors.New("source: entry too large")
)

// MaxEntryBytes caps the size of one page read from a container.
const MaxEntryBytes = 256 << 20

// Provider is a byte provider bound to an open container.
type Provider interface {
	reader.ByteProvider
	Close() error
}

// Open opens a directory or a .cbz/.zip archive and lists its pages in
// natural order.
func Open(path string) (Provider, []reader.Page, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return OpenDir(path)
	}
	return OpenZip(path)
}

// Dir serves the image files of one directory. Subdirectories are not
// searched.
type Dir struct {
	root string
}

// OpenDir lists the images of root.
func OpenDir(root string) (*Dir, []reader.Page, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, err
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsImageName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoImages, root)
	}
	SortNatural(names)

	pages := make([]reader.Page, len(names))
	for i, name := range names {
		pages[i] = reader.Page{Index: i, Name: name, Handle: filepath.Join(root, name)}
	}
	return &Dir{root: root}, pages, nil
}

// Bytes reads the file of p.
func (d *Dir) Bytes(ctx context.Context, p reader.Page) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, ok := p.Handle.(string)
	if !ok {
		return nil, ErrBadHandle
	}
	info, err := os.Stat(name)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxEntryBytes {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, p.Name)
	}
	return os.ReadFile(name) //nolint:gosec // paths come from OpenDir
}

// Close implements Provider.
func (d *Dir) Close() error { return nil }
