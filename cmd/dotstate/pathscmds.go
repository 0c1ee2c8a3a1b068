package dotstate

import (
	"github.com/spf13/cobra"

	"github.com/dotstate/dotstate/pkg/logging"
)

// The path commands print a single machine-readable line so they can be
// composed, e.g. `cd $(dotstate repository)`.

func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Print the path to the log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(logging.LogFilePath())
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the path to the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			cmd.Println(a.paths.ConfigFilePath())
			return nil
		},
	}
}

func newRepositoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "repository",
		Aliases: []string{"repo"},
		Short:   "Print the path to the dotfiles repository",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.requireConfigured(); err != nil {
				return err
			}
			cmd.Println(a.cfg.RepoPath)
			return nil
		},
	}
}
