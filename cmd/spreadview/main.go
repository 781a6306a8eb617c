// Command spreadview inspects how a volume of page images pairs into
// two-page spreads and lays out for continuous scrolling.
//
// Usage:
//
//	spreadview pairs  <dir|cbz>
//	spreadview layout <dir|cbz> --width 1000
//	spreadview render <dir|cbz> --width 1000 --height 1400 --y 0 -o view.png
//	spreadview probe  <dir|cbz>
//	spreadview config
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gogpu/reader"
)

// Build information, set by the linker.
var (
	Version = "dev"
	Commit  = "none"
)

// globals are the flags shared by every subcommand.
type globals struct {
	configPath  string
	memorySaver bool
	nudge       bool
	rowGap      int
	gutter      int
	verbose     bool
}

// config loads the config file and applies flags the user set.
func (g *globals) config(cmd *cobra.Command) (reader.Config, error) {
	cfg, err := reader.LoadConfig(g.configPath)
	if err != nil {
		return reader.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("memory-saver") {
		cfg.MemorySaver = g.memorySaver
	}
	if flags.Changed("nudge") {
		cfg.CouplingNudge = g.nudge
	}
	if flags.Changed("row-gap") {
		cfg.RowGapPx = g.rowGap
	}
	if flags.Changed("gutter") {
		cfg.GutterPx = g.gutter
	}
	if err := cfg.Validate(); err != nil {
		return reader.Config{}, err
	}
	return cfg, nil
}

func (g *globals) logger(stderr io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "spreadview",
		Short:         "Inspect two-page pairing and scroll layout of a page volume",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "JSONC config file")
	pf.BoolVar(&g.memorySaver, "memory-saver", false, "use the smaller raster budget")
	pf.BoolVar(&g.nudge, "nudge", false, "shift two-page parity by one page")
	pf.IntVar(&g.rowGap, "row-gap", 16, "gap between scroll rows in pixels")
	pf.IntVar(&g.gutter, "gutter", 0, "gap between the pages of a pair in pixels")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging to stderr")

	root.AddCommand(
		newPairsCmd(g),
		newLayoutCmd(g),
		newRenderCmd(g),
		newProbeCmd(g),
		newConfigCmd(g),
	)
	return root
}

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "spreadview: %v\n", err)
		os.Exit(1)
	}
}
