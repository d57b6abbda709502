package cmd

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msalah0e/attackgraph/internal/graph"
	"github.com/msalah0e/attackgraph/internal/query"
	"github.com/msalah0e/attackgraph/internal/ui"
)

type renderFlags struct {
	mode     string
	matrix   string
	category string
	id       string
	ttps     []string
	actors   []string
	params   string
	matrices []string

	format string
	out    string
	open   bool
}

// values turns the flags into the same parameters the front end takes, so
// both surfaces share one validation path.
func (f renderFlags) values() url.Values {
	v := url.Values{}
	v.Set("mode", f.mode)
	switch mode, _ := query.ParseMode(f.mode); mode {
	case query.ModeExplore:
		v.Set("matrix", f.matrix)
		v.Set("cat", f.category)
		v.Set("id", f.id)
	case query.ModeTTPOverlap:
		v.Set("ttp", strings.Join(f.ttps, ","))
	case query.ModeActorOverlap:
		v.Set("actor", strings.Join(f.actors, ","))
	case query.ModeSearch:
		v.Set("params", f.params)
		v.Set("matrix", strings.Join(f.matrices, ","))
	}
	return v
}

func renderCmd(a *app) *cobra.Command {
	var f renderFlags

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Query the ATT&CK API and render the answer as a graph",
		Long: `Query the ATT&CK API and write the answer as an HTML page, JSON, YAML or DOT.

  attackgraph render --mode explore --matrix Enterprise --cat Techniques --id T1566
  attackgraph render --mode ttpoverlap --ttp T1566,T1059 --format json
  attackgraph render --mode actoroverlap --actor G0016,G0007 --out overlap.html --open
  attackgraph render --mode search --params phishing --search-matrix Enterprise,ICS`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format := f.format
			if format == "" {
				format = a.cfg.Graph.Format
			}
			if !graph.ValidFormat(format) {
				return fmt.Errorf("%w: unknown format %q (want one of %s)", errFlagUsage, format, strings.Join(graph.Formats, ", "))
			}

			req, err := query.FromValues(f.values())
			if err != nil {
				return err
			}

			svc, err := a.service()
			if err != nil {
				return err
			}
			doc, err := svc.Render(cmd.Context(), req)
			if err != nil {
				return err
			}

			path, err := writeDocument(a, doc, format, f.out)
			if err != nil {
				return err
			}
			if f.open {
				openInBrowser(a.stderr, path)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.mode, "mode", "", "explore, ttpoverlap, actoroverlap or search")
	flags.StringVar(&f.matrix, "matrix", "", "Matrix to explore")
	flags.StringVar(&f.category, "cat", "", "Category within the matrix")
	flags.StringVar(&f.id, "id", "", "Entity id within the category")
	flags.StringSliceVar(&f.ttps, "ttp", nil, "TTP ids to overlap (at least two)")
	flags.StringSliceVar(&f.actors, "actor", nil, "Actor ids to overlap (at least two)")
	flags.StringVar(&f.params, "params", "", "Search text")
	flags.StringSliceVar(&f.matrices, "search-matrix", nil, "Limit search to these matrices")
	flags.StringVarP(&f.format, "format", "f", "", "Output format: "+strings.Join(graph.Formats, ", "))
	flags.StringVarP(&f.out, "out", "o", "", "Write to this file instead of stdout")
	flags.BoolVar(&f.open, "open", false, "Open the written HTML page in a browser")

	_ = cmd.RegisterFlagCompletionFunc("mode", modeCompletionFunc)
	_ = cmd.RegisterFlagCompletionFunc("matrix", matrixCompletionFunc)
	_ = cmd.RegisterFlagCompletionFunc("search-matrix", matrixCompletionFunc)
	_ = cmd.RegisterFlagCompletionFunc("cat", categoryCompletionFunc)
	_ = cmd.RegisterFlagCompletionFunc("format", formatCompletionFunc)

	return cmd
}

// writeDocument serializes doc to out, or stdout when out is empty, and
// returns the path written, if any.
func writeDocument(a *app, doc *graph.Document, format, out string) (string, error) {
	var buf bytes.Buffer
	if err := graph.Write(&buf, doc, format, a.cfg.UI.PageOptions()); err != nil {
		return "", err
	}

	if out == "" {
		_, err := io.Copy(a.stdout, &buf)
		return "", err
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}

	stats := doc.GetStats()
	fmt.Fprintf(a.stderr, "  %s %s %s\n", ui.StatusIcon(true), out,
		ui.Subtle.Sprintf("(%d nodes, %d edges)", stats.Nodes, stats.Edges))
	return out, nil
}

func openInBrowser(w io.Writer, path string) {
	if path == "" {
		fmt.Fprintf(w, "  %s --open needs --out\n", ui.WarnIcon())
		return
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}

	var openCmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		openCmd = exec.Command("open", path)
	case "linux":
		openCmd = exec.Command("xdg-open", path)
	default:
		openCmd = exec.Command("cmd", "/c", "start", path)
	}

	if err := openCmd.Start(); err != nil {
		// Fallback: just print the path
		fmt.Fprintf(w, "  Open %s in your browser to see the graph\n", path)
	}
}
