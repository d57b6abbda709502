package cmd

import (
	"github.com/spf13/cobra"

	"github.com/msalah0e/attackgraph/internal/builder"
	"github.com/msalah0e/attackgraph/internal/graph"
	"github.com/msalah0e/attackgraph/internal/query"
)

// completionCmd generates shell completion scripts.
func completionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate completion scripts for your shell.

  # Bash (add to ~/.bashrc)
  eval "$(attackgraph completion bash)"

  # Zsh (add to ~/.zshrc)
  eval "$(attackgraph completion zsh)"

  # Fish
  attackgraph completion fish | source

  # PowerShell
  attackgraph completion powershell | Out-String | Invoke-Expression`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		// Completion must work without a readable config.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				return root.GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				return root.GenFishCompletion(cmd.OutOrStdout(), true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
			}
			return errFlagUsage
		},
	}

	return cmd
}

func modeCompletionFunc(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	completions := make([]string, 0, len(query.Modes))
	for _, m := range query.Modes {
		completions = append(completions, string(m))
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

// matrixCompletionFunc offers the matrix names the API serves.
func matrixCompletionFunc(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return query.Matrices, cobra.ShellCompDirectiveNoFileComp
}

func categoryCompletionFunc(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return builder.Categories, cobra.ShellCompDirectiveNoFileComp
}

func formatCompletionFunc(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return graph.Formats, cobra.ShellCompDirectiveNoFileComp
}
