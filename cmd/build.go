package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msalah0e/attackgraph/internal/graph"
	"github.com/msalah0e/attackgraph/internal/jsonvalue"
)

func buildCmd(a *app) *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "build [file|-]",
		Short: "Build a graph from a saved API response, without network access",
		Long: `Build a graph from a JSON document saved from the ATT&CK API.
Reads stdin when the file is "-" or omitted.

  curl -s "$API/explore/Enterprise/Techniques/" > techniques.json
  attackgraph build techniques.json --format dot | dot -Tsvg > techniques.svg`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = a.cfg.Graph.Format
			}
			if !graph.ValidFormat(format) {
				return fmt.Errorf("%w: unknown format %q (want one of %s)", errFlagUsage, format, strings.Join(graph.Formats, ", "))
			}

			src := "-"
			if len(args) == 1 {
				src = args[0]
			}
			doc, err := buildFrom(a, cmd.InOrStdin(), src)
			if err != nil {
				return err
			}

			_, err = writeDocument(a, doc, format, out)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: "+strings.Join(graph.Formats, ", "))
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write to this file instead of stdout")
	_ = cmd.RegisterFlagCompletionFunc("format", formatCompletionFunc)

	return cmd
}

func buildFrom(a *app, stdin io.Reader, src string) (*graph.Document, error) {
	r := stdin
	if src != "-" {
		f, err := os.Open(src)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	root, err := jsonvalue.Decode(io.LimitReader(r, a.cfg.API.MaxBodyBytes), a.cfg.API.MaxJSONDepth)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}

	doc, err := a.builder().Build(root)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", src, err)
	}
	if doc.IsEmpty() {
		a.log.Warn("document has no nodes", zap.String("source", src))
	}
	return doc, nil
}
