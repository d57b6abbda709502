package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msalah0e/attackgraph/internal/attackapi"
	"github.com/msalah0e/attackgraph/internal/builder"
	"github.com/msalah0e/attackgraph/internal/config"
	"github.com/msalah0e/attackgraph/internal/observability"
	"github.com/msalah0e/attackgraph/internal/query"
	"github.com/msalah0e/attackgraph/internal/ui"
)

var version = "0.3.0"

// Exit codes returned by ExitCode.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// app carries the global flags and what PersistentPreRunE builds from them.
type app struct {
	cfgFile    string
	apiURL     string
	token      string
	logLevel   string
	suppress   []string
	expandOnly bool
	maxDepth   int

	cfg *config.Config
	log *zap.Logger

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "attackgraph",
		Short: "attackgraph: MITRE ATT&CK query results as graphs",
		Long: ui.Brand.Sprint(ui.Web+" attackgraph") + ": render ATT&CK API answers as node/edge graphs\n" +
			ui.Subtle.Sprint("Explore a matrix, overlap TTPs or actors, search, and draw the result"),
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				observability.Sync(a.log)
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("attackgraph {{ .Version }}\n")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errFlagUsage, err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "Config file (default "+config.Path()+")")
	flags.StringVar(&a.apiURL, "api", "", "ATT&CK API base URL")
	flags.StringVar(&a.token, "token", "", "API token sent as the token query parameter")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringSliceVar(&a.suppress, "suppress", nil, "Keys never drawn as nodes (replaces the configured list)")
	flags.BoolVar(&a.expandOnly, "expand-only", false, "Only expand ATT&CK categories; draw other entries as leaves")
	flags.IntVar(&a.maxDepth, "max-depth", 0, "Maximum nesting depth of a response")

	root.AddCommand(
		renderCmd(a),
		buildCmd(a),
		batchCmd(a),
		serveCmd(a),
		configCmd(a),
		completionCmd(),
	)
	return root
}

// setup loads the config, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("api") {
		cfg.API.URL = a.apiURL
	}
	if flags.Changed("token") {
		cfg.API.Token = a.token
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("suppress") {
		cfg.Graph.SuppressedKeys = a.suppress
	}
	if flags.Changed("expand-only") {
		cfg.Graph.ExpandOnly = nil
		if a.expandOnly {
			cfg.Graph.ExpandOnly = append([]string(nil), builder.Categories...)
		}
	}
	if flags.Changed("max-depth") {
		cfg.Graph.MaxDepth = a.maxDepth
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ui.Configure(cfg.UI.Color, cfg.UI.Emoji)

	log, err := observability.NewLogger(cfg.Log, a.stderr, cfg.UI.Color)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func (a *app) builder() *builder.Builder {
	return builder.New(a.cfg.Graph.Policy())
}

func (a *app) client() (*attackapi.Client, error) {
	return attackapi.New(attackapi.Options{
		BaseURL:      a.cfg.API.URL,
		Token:        a.cfg.API.Token,
		Timeout:      time.Duration(a.cfg.API.TimeoutSeconds) * time.Second,
		MaxBodyBytes: a.cfg.API.MaxBodyBytes,
		MaxDepth:     a.cfg.API.MaxJSONDepth,
		UserAgent:    "attackgraph/" + version,
		Logger:       a.log,
	})
}

func (a *app) service() (*query.Service, error) {
	client, err := a.client()
	if err != nil {
		return nil, err
	}
	return query.NewService(client, a.builder(), a.log), nil
}

// Execute runs the root command and reports the error, if any, on stderr.
// The returned code is meant for os.Exit.
func Execute() int {
	return run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetIn(stdin)
	root.SetArgs(args)

	err := root.Execute()
	if err != nil {
		reportError(stderr, err)
	}
	return ExitCode(err)
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	var usage *query.UsageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &usage), errors.Is(err, errFlagUsage):
		return ExitUsage
	default:
		return ExitError
	}
}

// errFlagUsage marks command-line mistakes caught before a query exists.
var errFlagUsage = errors.New("incorrect usage")

func reportError(w io.Writer, err error) {
	var usage *query.UsageError
	if errors.As(err, &usage) {
		fmt.Fprintf(w, "%s %s\n\n%s\n", ui.StatusIcon(false), ui.Bad.Sprint(err), query.Usage(usage.Mode))
		return
	}
	fmt.Fprintf(w, "%s %s\n", ui.StatusIcon(false), ui.Bad.Sprint(err))
}
