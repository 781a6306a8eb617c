// Package source provides byte providers for common page containers: a
// directory of image files and a CBZ/ZIP archive.
package source

import (
	"path"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var imageExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".webp": {},
	".gif":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
}

// IsImageName reports whether name looks like a page image. Hidden files
// and resource-fork entries are ignored.
func IsImageName(name string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "__MACOSX/") || strings.Contains(name, "/__MACOSX/") {
		return false
	}
	base := path.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := imageExts[strings.ToLower(path.Ext(base))]
	return ok
}

// SortNatural sorts names the way people number pages: digit runs compare
// by value and case is ignored, so "p2" sorts before "P10".
func SortNatural(names []string) {
	c := collate.New(language.Und, collate.Numeric, collate.IgnoreCase)
	slices.SortStableFunc(names, func(a, b string) int {
		if r := c.CompareString(a, b); r != 0 {
			return r
		}
		return strings.Compare(a, b)
	})
}
