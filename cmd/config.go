package cmd

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/msalah0e/attackgraph/internal/config"
	"github.com/msalah0e/attackgraph/internal/ui"
)

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	cmd.AddCommand(
		configShowCmd(a),
		configInitCmd(a),
		configPathCmd(a),
	)
	return cmd
}

func configShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration, overrides applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := *a.cfg
			if shown.API.Token != "" {
				shown.API.Token = "REDACTED"
			}
			return toml.NewEncoder(a.stdout).Encode(shown)
		},
	}
}

func configInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults, unless one exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(a)
			created, err := config.EnsureExists(path)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(a.stdout, "  %s Wrote %s\n", ui.StatusIcon(true), path)
				return nil
			}
			fmt.Fprintf(a.stdout, "  %s %s already exists\n", ui.WarnIcon(), path)
			return nil
		},
	}
}

func configPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file locations and overriding variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ui.Table(a.stdout, []string{"SOURCE", "LOCATION"}, [][]string{
				{"config", configPath(a)},
				{"project", config.ProjectFile + " (working directory or a parent)"},
				{"env", strings.Join([]string{
					config.EnvAPIURL, config.EnvAPIToken, config.EnvListen,
					config.EnvLogLevel, config.EnvLogFile,
				}, ", ")},
			})
			return nil
		},
	}
}

func configPath(a *app) string {
	if a.cfgFile != "" {
		return a.cfgFile
	}
	return config.Path()
}
