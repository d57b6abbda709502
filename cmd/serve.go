package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msalah0e/attackgraph/internal/server"
	"github.com/msalah0e/attackgraph/internal/ui"
)

func serveCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve graphs over HTTP until interrupted",
		Long: `Run the graph front end. Every request is answered from the ATT&CK API.

  attackgraph serve
  attackgraph serve --addr :9090 --api https://attack.example.org/api

  curl "http://127.0.0.1:8080/graph?mode=explore&matrix=Enterprise&cat=Techniques&id=T1566"
  curl "http://127.0.0.1:8080/graph?mode=ttpoverlap&ttp=T1566,T1059&format=json"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Listen = addr
			}

			svc, err := a.service()
			if err != nil {
				return err
			}
			srv := server.New(server.Config{
				Addr:            a.cfg.Server.Listen,
				ReadTimeout:     seconds(a.cfg.Server.ReadTimeoutSeconds),
				WriteTimeout:    seconds(a.cfg.Server.WriteTimeoutSeconds),
				ShutdownTimeout: seconds(a.cfg.Server.ShutdownTimeoutSeconds),
				Format:          a.cfg.Graph.Format,
				Page:            a.cfg.UI.PageOptions(),
				Version:         version,
				APIBaseURL:      a.cfg.API.URL,
			}, svc, a.log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ui.Banner(a.stderr, "graph server")
			fmt.Fprintf(a.stderr, "  Listen:  %s\n", ui.Brand.Sprint("http://"+a.cfg.Server.Listen))
			fmt.Fprintf(a.stderr, "  API:     %s\n\n", a.cfg.API.URL)
			a.log.Info("serving", zap.String("addr", a.cfg.Server.Listen), zap.String("api", a.cfg.API.URL))

			if err := srv.Run(ctx); err != nil {
				return err
			}
			a.log.Info("stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, 127.0.0.1:8080)")
	return cmd
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
