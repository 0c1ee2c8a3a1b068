package dotstate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotstate/dotstate/pkg/doctor"
	"github.com/dotstate/dotstate/pkg/git"
	"github.com/dotstate/dotstate/pkg/paths"
)

func newDoctorCmd() *cobra.Command {
	var (
		fix      bool
		jsonMode bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, manifest, tracking and filesystem consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			var inspector doctor.RepoInspector
			if paths.IsGitRepo(a.cfg.RepoPath) {
				if vcs, err := git.OpenOrInit(cmd.Context(), a.cfg.RepoPath); err == nil {
					inspector = vcs
				}
			}

			d := doctor.New(a.paths, a.cfg, inspector)
			results := d.Run(cmd.Context())

			if fix {
				results = append(results, d.Fix(cmd.Context(), results)...)
			}

			if jsonMode {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				printDoctorResults(a, results)
			}

			if doctor.HasErrors(results) {
				return fmt.Errorf("doctor found errors")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "Apply automatic repairs for fixable issues")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Output results as JSON")
	return cmd
}

func printDoctorResults(a *app, results []doctor.Result) {
	category := ""
	for _, r := range results {
		if r.Category != category {
			category = r.Category
			a.printer.Header(category)
		}
		switch r.Status {
		case doctor.StatusPass:
			a.printer.Success(r.Message)
		case doctor.StatusWarning:
			msg := r.Message
			if r.Fixable {
				msg += " (fixable with --fix)"
			}
			a.printer.Warning(msg)
		case doctor.StatusError:
			msg := r.Message
			if r.Fixable {
				msg += " (fixable with --fix)"
			}
			a.printer.Error(msg)
		}
	}
}
