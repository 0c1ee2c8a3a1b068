package dotstate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotstate/dotstate/pkg/dotfiles"
	"github.com/dotstate/dotstate/pkg/manifest"
	"github.com/dotstate/dotstate/pkg/paths"
)

func newAddCmd() *cobra.Command {
	var common bool

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Move a file into the repository and symlink it back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.requireConfigured(); err != nil {
				return err
			}
			profile, err := a.activeProfile()
			if err != nil {
				return err
			}

			full, rel, err := a.resolveHomeRel(args[0])
			if err != nil {
				return err
			}

			if common {
				res, err := a.dotfiles.AddToCommon(profile, full, rel)
				if err != nil {
					return err
				}
				return a.reportResult(res, rel, "Added to common:")
			}

			res, err := a.dotfiles.Add(profile, full, rel)
			if err != nil {
				return err
			}
			return a.reportResult(res, rel, "Added:")
		},
	}

	cmd.Flags().BoolVar(&common, "common", false, "Add to the common pool shared by all profiles")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	var common bool

	cmd := &cobra.Command{
		Use:   "remove <home-relative-path>",
		Short: "Stop syncing a file and restore it to the home directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.requireConfigured(); err != nil {
				return err
			}
			profile, err := a.activeProfile()
			if err != nil {
				return err
			}

			rel := paths.NormalizeRel(args[0])

			if common {
				res, err := a.dotfiles.RemoveFromCommon(rel)
				if err != nil {
					return err
				}
				return a.reportResult(res, rel, "Removed from common:")
			}

			res, err := a.dotfiles.Remove(profile, rel)
			if err != nil {
				return err
			}
			return a.reportResult(res, rel, "Removed:")
		},
	}

	cmd.Flags().BoolVar(&common, "common", false, "Remove from the common pool")
	return cmd
}

func newListCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List synced files for the active profile and common pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.requireConfigured(); err != nil {
				return err
			}

			m, err := manifest.LoadOrBackfill(a.paths.RepoRoot())
			if err != nil {
				return err
			}

			icons := a.printer.Icons()

			a.printer.Header(fmt.Sprintf("%s Common (%d files)", icons.Dir(), len(m.Common.SyncedFiles)))
			printFiles(a, m.Common.SyncedFiles, verbose)

			for _, profile := range m.Profiles {
				marker := "  "
				if profile.Name == a.cfg.ActiveProfile {
					marker = icons.Active() + " "
				}
				a.printer.Header(fmt.Sprintf("%s%s (%d files, %d packages)",
					marker, profile.Name, len(profile.SyncedFiles), len(profile.Packages)))
				if profile.Name == a.cfg.ActiveProfile || verbose {
					printFiles(a, profile.SyncedFiles, verbose)
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show all profiles and file descriptions")
	return cmd
}

func printFiles(a *app, files []string, verbose bool) {
	for _, rel := range files {
		if verbose {
			if c := dotfiles.FindCandidate(rel); c != nil {
				a.printer.Printf("  %s  %s\n", rel, c.Description)
				continue
			}
		}
		a.printer.Printf("  %s\n", rel)
	}
}
