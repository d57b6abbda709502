package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msalah0e/attackgraph/internal/graph"
	"github.com/msalah0e/attackgraph/internal/parallel"
	"github.com/msalah0e/attackgraph/internal/query"
	"github.com/msalah0e/attackgraph/internal/ui"
)

// batchQuery is one line of a batch file.
type batchQuery struct {
	line int
	req  query.Request
}

func batchCmd(a *app) *cobra.Command {
	var (
		format      string
		outDir      string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "batch <file|->",
		Short: "Render many queries concurrently, one output file each",
		Long: `Render every query in a file. Each line holds front-end query parameters;
blank lines and lines starting with # are skipped.

  # queries.txt
  mode=explore&matrix=Enterprise&cat=Tactics
  mode=ttpoverlap&ttp=T1566,T1059
  mode=actoroverlap&actor=G0016,G0007

  attackgraph batch queries.txt --out-dir graphs --concurrency 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = a.cfg.Graph.Format
			}
			if !graph.ValidFormat(format) {
				return fmt.Errorf("%w: unknown format %q (want one of %s)", errFlagUsage, format, strings.Join(graph.Formats, ", "))
			}

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			queries, err := parseBatch(in)
			if err != nil {
				return err
			}
			if len(queries) == 0 {
				return fmt.Errorf("%w: %s holds no queries", errFlagUsage, args[0])
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}

			ui.Banner(a.stderr, fmt.Sprintf("batch of %d", len(queries)))
			tasks := make([]parallel.Task, len(queries))
			for i, q := range queries {
				q := q // per-iteration copy (go.mod targets Go 1.21)
				tasks[i] = parallel.Task{
					Name: q.req.String(),
					Fn: func(ctx context.Context) (string, error) {
						doc, err := svc.Render(ctx, q.req)
						if err != nil {
							return "", err
						}
						var buf bytes.Buffer
						if err := graph.Write(&buf, doc, format, a.cfg.UI.PageOptions()); err != nil {
							return "", err
						}
						path := filepath.Join(outDir, batchFileName(q, format))
						return path, os.WriteFile(path, buf.Bytes(), 0o644)
					},
				}
			}

			results := parallel.Run(cmd.Context(), tasks, concurrency, a.stderr)
			if n := parallel.Failed(results); n > 0 {
				return fmt.Errorf("%d of %d queries failed", n, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: "+strings.Join(graph.Formats, ", "))
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "Directory for the rendered files")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", parallel.DefaultConcurrency, "Queries in flight at once")
	_ = cmd.RegisterFlagCompletionFunc("format", formatCompletionFunc)

	return cmd
}

// parseBatch reads and validates every query before anything is sent, so a
// bad line fails the whole batch up front.
func parseBatch(r io.Reader) ([]batchQuery, error) {
	var out []batchQuery
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "?")

		values, err := url.ParseQuery(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", errFlagUsage, n, err)
		}
		req, err := query.FromValues(values)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		out = append(out, batchQuery{line: n, req: req})
	}
	return out, sc.Err()
}

func batchFileName(q batchQuery, format string) string {
	return fmt.Sprintf("%03d-%s.%s", q.line, q.req.Mode, format)
}
