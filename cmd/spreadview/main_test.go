package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

// volumeDir writes a cover, a page, a spread and three more pages.
func volumeDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	red := color.NRGBA{R: 0xff, A: 0xff}
	for i := range 6 {
		w := 100
		if i == 2 {
			w = 300
		}
		writePNG(t, filepath.Join(dir, []string{"00.png", "01.png", "02.png", "03.png", "04.png", "05.png"}[i]), w, 150, red)
	}
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestPairs(t *testing.T) {
	out, _, err := run(t, "pairs", volumeDir(t))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6, out)
	assert.Contains(t, lines[1], "cover")
	assert.Contains(t, lines[2], "single")
	assert.Contains(t, lines[3], "spread")
	assert.Contains(t, lines[4], "single")
	assert.Contains(t, lines[5], "pair")
	assert.Contains(t, lines[5], "05.png")
}

func TestPairs_Nudge(t *testing.T) {
	out, _, err := run(t, "pairs", "--nudge", volumeDir(t))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	// Page 1 now pairs with nothing since page 2 is a spread, and 3 pairs with 4.
	assert.Contains(t, out, "03.png  04.png")
	assert.Contains(t, lines[len(lines)-1], "05.png")
}

func TestLayout(t *testing.T) {
	out, _, err := run(t, "layout", "--width", "200", volumeDir(t))
	require.NoError(t, err)

	assert.Contains(t, out, "[4 5]")
	assert.Contains(t, out, "spread")
	assert.Contains(t, out, "764")
}

func TestLayout_RowGapFlag(t *testing.T) {
	out, _, err := run(t, "layout", "--width", "200", "--row-gap", "0", volumeDir(t))
	require.NoError(t, err)
	// 150 + 150 + 100 + 150 + 150 with no gaps.
	assert.Contains(t, out, "700")
}

func TestRender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "view.png")
	out, _, err := run(t, "render", "--width", "200", "--height", "300", "-o", path, volumeDir(t))
	require.NoError(t, err)
	assert.Contains(t, out, "0 placeholder pages")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 300), img.Bounds())

	r, g, b, _ := img.At(50, 75).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{r, g, b})
}

func TestProbe(t *testing.T) {
	out, _, err := run(t, "probe", volumeDir(t))
	require.NoError(t, err)
	assert.Contains(t, out, "300x150")
	assert.Contains(t, out, "png")
	assert.Contains(t, out, "true")
}

func TestConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "reader.jsonc")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{
		// keep it small
		"memory_saver": true,
	}`), 0o600))

	out, _, err := run(t, "config", "--config", cfgPath, "--gutter", "12")
	require.NoError(t, err)
	assert.Contains(t, out, `"memory_saver": true`)
	assert.Contains(t, out, `"gutter_px": 12`)
}

func TestErrors(t *testing.T) {
	_, _, err := run(t, "layout", "--width", "0", volumeDir(t))
	require.Error(t, err)

	_, _, err = run(t, "pairs", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	_, _, err = run(t, "config", "--row-gap", "100")
	require.Error(t, err)
}
