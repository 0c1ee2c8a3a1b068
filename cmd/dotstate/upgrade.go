package dotstate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotstate/dotstate/internal/version"
	"github.com/dotstate/dotstate/pkg/ui"
	"github.com/dotstate/dotstate/pkg/update"
)

func newUpgradeCmd() *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Check for a newer release",
		Long: `Queries the latest published release and reports whether a newer
version is available. Installation is left to the package manager
dotstate was installed with.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printer := ui.NewPrinter(ui.NewIcons(ui.DetectIconSet("")))

			info, err := update.NewChecker().Check(cmd.Context(), version.Version)
			if err != nil {
				return fmt.Errorf("could not check for updates: %w", err)
			}
			if info == nil {
				printer.Success(fmt.Sprintf("dotstate %s is up to date", version.Version))
				return nil
			}

			printer.Info(fmt.Sprintf("A new version is available: %s (current: %s)",
				info.LatestVersion, info.CurrentVersion))
			printer.Println("  " + info.ReleaseURL)
			if !checkOnly {
				printer.Println("Upgrade with your package manager, or download from:")
				printer.Println("  " + update.ReleasesURL)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report, skip upgrade instructions")
	return cmd
}
