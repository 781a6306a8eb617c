package source

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"

	"github.com/gogpu/reader"
)

// Zip serves the image entries of a CBZ or ZIP archive. Entries are read
// through the archive's io.ReaderAt, so concurrent reads are safe.
type Zip struct {
	rc *zip.ReadCloser
}

// OpenZip opens the archive at path and lists its image entries.
func OpenZip(path string) (*Zip, []reader.Page, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, err
	}

	files := make(map[string]*zip.File)
	var names []string
	for _, f := range rc.File {
		if f.FileInfo().IsDir() || !IsImageName(f.Name) {
			continue
		}
		if _, dup := files[f.Name]; dup {
			continue
		}
		files[f.Name] = f
		names = append(names, f.Name)
	}
	if len(names) == 0 {
		rc.Close()
		return nil, nil, fmt.Errorf("%w: %s", ErrNoImages, path)
	}
	SortNatural(names)

	pages := make([]reader.Page, len(names))
	for i, name := range names {
		pages[i] = reader.Page{Index: i, Name: name, Handle: files[name]}
	}
	return &Zip{rc: rc}, pages, nil
}

// Bytes decompresses the entry of p.
func (z *Zip) Bytes(ctx context.Context, p reader.Page) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, ok := p.Handle.(*zip.File)
	if !ok {
		return nil, ErrBadHandle
	}
	if f.UncompressedSize64 > MaxEntryBytes {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, p.Name)
	}

	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, MaxEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxEntryBytes {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, p.Name)
	}
	return data, nil
}

// Close closes the archive.
func (z *Zip) Close() error {
	return z.rc.Close()
}
