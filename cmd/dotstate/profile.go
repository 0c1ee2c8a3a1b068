package dotstate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotstate/dotstate/pkg/symlink"
)

func newActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate [profile]",
		Short: "Create symlinks for a profile's files",
		Long: `Creates symlinks in the home directory for every file of the given
profile plus the common pool. Without an argument the configured
active profile is used. Activating a different profile switches to it,
removing the previous profile's links first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.requireConfigured(); err != nil {
				return err
			}

			target := a.cfg.ActiveProfile
			if len(args) == 1 {
				target = args[0]
			}
			if target == "" {
				return fmt.Errorf("no profile given and no active profile configured")
			}

			current := a.engine.ActiveProfile()
			if current != "" && current != target {
				res, err := a.profiles.Switch(current, target)
				if err != nil {
					return err
				}
				a.printer.Success(fmt.Sprintf("Switched to profile %q", target))
				a.printer.Printf("  Removed %d, created %d symlink(s)\n", res.RemovedCount, res.CreatedCount)
				for _, e := range res.Errors {
					a.printer.Warning(fmt.Sprintf("%s: %s", e.Target, e.Message))
				}
			} else {
				res, err := a.profiles.Activate(target)
				if err != nil {
					return err
				}
				a.printer.Success(fmt.Sprintf("Activated profile %q (%d symlinks)", target, res.SuccessCount))
			}

			a.cfg.ActiveProfile = target
			a.cfg.ProfileActivated = true
			return a.saveConfig()
		},
	}
}

func newDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Remove the active profile's symlinks and restore files",
		Long: `Removes every symlink owned by the active profile and the common
pool, putting a copy of each file from the repository back in its
place. The repository itself is left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.requireConfigured(); err != nil {
				return err
			}

			active := a.engine.ActiveProfile()
			if active == "" {
				a.printer.Info("No profile is active")
				return nil
			}

			ops, err := a.engine.Deactivate(active, symlink.RestoreFromRepo)
			if err != nil {
				return err
			}

			removed := 0
			for _, op := range ops {
				if op.Status == symlink.StatusSuccess {
					removed++
				} else if op.Status == symlink.StatusFailed {
					a.printer.Warning(fmt.Sprintf("%s: %s", op.Target, op.Reason))
				}
			}
			a.printer.Success(fmt.Sprintf("Deactivated profile %q (%d files restored)", active, removed))

			a.cfg.ProfileActivated = false
			return a.saveConfig()
		},
	}
}
