package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"text/tabwriter"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/gogpu/reader"
	"github.com/gogpu/reader/source"
)

// pairingWidth is the container width used to probe every page before
// pairs are listed; only the spread flags of the layout matter there.
const pairingWidth = 1000

// volume is an open session over a container.
type volume struct {
	r    *reader.Reader
	s    *reader.Session
	src  source.Provider
	name string
}

func (v *volume) Close() {
	v.r.Close()
	v.src.Close()
}

func openVolume(cmd *cobra.Command, g *globals, path string) (*volume, error) {
	cfg, err := g.config(cmd)
	if err != nil {
		return nil, err
	}
	src, pages, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	r := reader.New(reader.WithConfig(cfg), reader.WithLogger(g.logger(cmd.ErrOrStderr())))
	s, err := r.Open(pages, src)
	if err != nil {
		r.Close()
		src.Close()
		return nil, err
	}
	return &volume{r: r, s: s, src: src, name: path}, nil
}

// layout builds the scroll layout for width and waits for it.
func (v *volume) layout(ctx context.Context, width int) (reader.Snapshot, error) {
	v.s.Layout(width)
	if err := v.s.WaitLayout(ctx); err != nil {
		return reader.Snapshot{}, err
	}
	return v.s.Layout(width), nil
}

func pageName(s *reader.Session, index int) string {
	p, err := s.Page(index)
	if err != nil {
		return "?"
	}
	return p.Name
}

func newPairsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "pairs <dir|cbz>",
		Short: "List the two-page groupings of a volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(cmd, g, args[0])
			if err != nil {
				return err
			}
			defer v.Close()

			// Probing every page settles the spread flags.
			if _, err := v.layout(cmd.Context(), pairingWidth); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SLOT\tKIND\tRIGHT\tLEFT")
			for i := 0; i < v.s.Len(); i = v.s.Next(i) {
				p := v.s.Pair(i)
				kind := "pair"
				switch {
				case p.CoverAlone:
					kind = "cover"
				case p.IsSpread:
					kind = "spread"
				case p.UnpairedSingle:
					kind = "single"
				}
				left := "-"
				if p.Left >= 0 {
					left = pageName(v.s, p.Left)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", v.s.EffectiveIndex(p.Right), kind, pageName(v.s, p.Right), left)
			}
			return w.Flush()
		},
	}
}

func newLayoutCmd(g *globals) *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:   "layout <dir|cbz>",
		Short: "Print the scroll rows of a volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if width <= 0 {
				return fmt.Errorf("%w: width %d", reader.ErrBadViewport, width)
			}
			v, err := openVolume(cmd, g, args[0])
			if err != nil {
				return err
			}
			defer v.Close()

			snap, err := v.layout(cmd.Context(), width)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROW\tKIND\tPAGES\tY\tHEIGHT")
			for i, r := range snap.Rows {
				fmt.Fprintf(w, "%d\t%s\t%v\t%d\t%d\n", i, r.Kind, r.Indices(), r.YStart, r.Height)
			}
			fmt.Fprintf(w, "total\t\t\t%d\t\n", snap.Total)
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&width, "width", 1000, "container width in pixels")
	return cmd
}

func newRenderCmd(g *globals) *cobra.Command {
	var (
		width, height, y int
		out              string
	)
	cmd := &cobra.Command{
		Use:   "render <dir|cbz>",
		Short: "Render one scroll viewport to a PNG file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if width <= 0 || height <= 0 {
				return fmt.Errorf("%w: %dx%d", reader.ErrBadViewport, width, height)
			}
			v, err := openVolume(cmd, g, args[0])
			if err != nil {
				return err
			}
			defer v.Close()

			ctx := cmd.Context()
			snap, err := v.layout(ctx, width)
			if err != nil {
				return err
			}
			for _, r := range snap.Visible(y, y+height) {
				for _, i := range r.Indices() {
					if _, err := v.s.GetOrDecode(ctx, i); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "page %s: %v\n", pageName(v.s, i), err)
					}
				}
			}

			dst := image.NewRGBA(image.Rect(0, 0, width, height))
			missing, err := v.s.RenderViewport(ctx, dst, y)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := png.Encode(&buf, dst); err != nil {
				return err
			}
			if err := atomic.WriteFile(out, &buf); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d at y=%d, %d placeholder pages)\n", out, width, height, y, missing)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&width, "width", 1000, "viewport width in pixels")
	f.IntVar(&height, "height", 1400, "viewport height in pixels")
	f.IntVar(&y, "y", 0, "scroll offset in pixels")
	f.StringVarP(&out, "output", "o", "viewport.png", "output PNG file")
	return cmd
}

func newProbeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <dir|cbz>",
		Short: "Print page sizes read from image headers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(cmd, g, args[0])
			if err != nil {
				return err
			}
			defer v.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PAGE\tNAME\tFORMAT\tSIZE\tSPREAD")
			for i := range v.s.Len() {
				ps, err := v.s.PageSize(cmd.Context(), i)
				if err != nil {
					return err
				}
				size := fmt.Sprintf("%dx%d", ps.Width, ps.Height)
				if ps.Unreadable {
					size = "unreadable"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\n", i, pageName(v.s, i), ps.Format, size, ps.Spread)
			}
			return w.Flush()
		},
	}
}

func newConfigCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config(cmd)
			if err != nil {
				return err
			}
			s, err := reader.FormatConfig(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
}
