package dotstate

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/manifest"
	"github.com/dotstate/dotstate/pkg/packages"
)

func newPackagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "packages",
		Aliases: []string{"pkg"},
		Short:   "Manage packages tied to the active profile",
		Long: `Each profile can carry a list of packages that should be present on
machines using it. Packages are checked against the system and can be
installed through their package manager.`,
	}

	cmd.AddCommand(newPackagesListCmd())
	cmd.AddCommand(newPackagesAddCmd())
	cmd.AddCommand(newPackagesRemoveCmd())
	cmd.AddCommand(newPackagesCheckCmd())
	cmd.AddCommand(newPackagesInstallCmd())
	return cmd
}

// loadProfilePackages returns the active profile's packages plus the
// loaded manifest for subsequent mutation.
func loadProfilePackages(a *app) (*manifest.Manifest, *manifest.Profile, error) {
	if err := a.requireConfigured(); err != nil {
		return nil, nil, err
	}
	profileName, err := a.activeProfile()
	if err != nil {
		return nil, nil, err
	}
	m, err := manifest.LoadOrBackfill(a.paths.RepoRoot())
	if err != nil {
		return nil, nil, err
	}
	profile := m.Profile(profileName)
	if profile == nil {
		return nil, nil, errors.Newf(errors.ErrProfileNotFound, "profile '%s' not found", profileName)
	}
	return m, profile, nil
}

func newPackagesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the active profile's packages and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			_, profile, err := loadProfilePackages(a)
			if err != nil {
				return err
			}

			if len(profile.Packages) == 0 {
				a.printer.Info("No packages configured for profile " + profile.Name)
				return nil
			}

			probe := packages.NewSystemProbe()
			icons := a.printer.Icons()
			a.printer.Header(fmt.Sprintf("%s Packages for %s", icons.Package(), profile.Name))

			rows := make([][]string, 0, len(profile.Packages))
			for _, pkg := range profile.Packages {
				res, err := probe.IsInstalled(cmd.Context(), pkg)
				status := icons.Uncheck()
				if err == nil && res.Status == packages.StatusInstalled {
					status = icons.Check()
				}
				desc := ""
				if pkg.Description != nil {
					desc = *pkg.Description
				}
				rows = append(rows, []string{status, pkg.Name, string(pkg.Manager), desc})
			}
			a.printer.Table([]string{"", "Package", "Manager", "Description"}, rows)
			return nil
		},
	}
}

func newPackagesAddCmd() *cobra.Command {
	var (
		managerName string
		packageName string
		binaryName  string
		description string
		installCmd  string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a package to the active profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			m, profile, err := loadProfilePackages(a)
			if err != nil {
				return err
			}

			mgr, err := manifest.ParseManager(managerName)
			if err != nil {
				return err
			}

			pkg := manifest.Package{
				Name:       args[0],
				Manager:    mgr,
				BinaryName: args[0],
			}
			if binaryName != "" {
				pkg.BinaryName = binaryName
			}
			if description != "" {
				pkg.Description = &description
			}
			if mgr == manifest.ManagerCustom {
				if installCmd == "" {
					return errors.New(errors.ErrPackageInvalid, "custom packages need --install-cmd")
				}
				pkg.InstallCommand = &installCmd
			} else {
				name := packageName
				if name == "" {
					name = args[0]
				}
				pkg.PackageName = &name
			}
			if err := pkg.Validate(); err != nil {
				return err
			}

			for _, existing := range profile.Packages {
				if existing.Name == pkg.Name {
					a.printer.Info(fmt.Sprintf("Package %s already configured", pkg.Name))
					return nil
				}
			}

			if err := m.UpdatePackages(profile.Name, append(profile.Packages, pkg)); err != nil {
				return err
			}
			if err := m.Save(a.paths.RepoRoot()); err != nil {
				return err
			}
			a.printer.Success(fmt.Sprintf("Added package %s to %s", pkg.Name, profile.Name))
			return nil
		},
	}

	cmd.Flags().StringVar(&managerName, "manager", "brew", "Package manager (brew, apt, yum, dnf, pacman, snap, cargo, npm, pip, pip3, gem, custom)")
	cmd.Flags().StringVar(&packageName, "package", "", "Name the manager knows the package by (defaults to <name>)")
	cmd.Flags().StringVar(&binaryName, "binary", "", "Binary to look for on PATH (defaults to <name>)")
	cmd.Flags().StringVar(&description, "description", "", "Short description")
	cmd.Flags().StringVar(&installCmd, "install-cmd", "", "Shell command for custom packages")
	return cmd
}

func newPackagesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a package from the active profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			m, profile, err := loadProfilePackages(a)
			if err != nil {
				return err
			}

			kept := make([]manifest.Package, 0, len(profile.Packages))
			found := false
			for _, pkg := range profile.Packages {
				if pkg.Name == args[0] {
					found = true
					continue
				}
				kept = append(kept, pkg)
			}
			if !found {
				a.printer.Info(fmt.Sprintf("Package %s is not configured", args[0]))
				return nil
			}

			if err := m.UpdatePackages(profile.Name, kept); err != nil {
				return err
			}
			if err := m.Save(a.paths.RepoRoot()); err != nil {
				return err
			}
			a.printer.Success(fmt.Sprintf("Removed package %s from %s", args[0], profile.Name))
			return nil
		},
	}
}

func newPackagesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [name]",
		Short: "Check whether the profile's packages are installed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			_, profile, err := loadProfilePackages(a)
			if err != nil {
				return err
			}

			targets := profile.Packages
			if len(args) == 1 {
				targets = filterPackages(profile.Packages, args[0])
				if len(targets) == 0 {
					return errors.Newf(errors.ErrPackageInvalid, "package '%s' is not configured", args[0])
				}
			}

			probe := packages.NewSystemProbe()
			missing := 0
			for _, pkg := range targets {
				res, err := probe.IsInstalled(cmd.Context(), pkg)
				switch {
				case err != nil:
					a.printer.Warning(fmt.Sprintf("%s: check failed: %v", pkg.Name, err))
					missing++
				case res.Status == packages.StatusInstalled:
					a.printer.Success(pkg.Name)
				default:
					a.printer.Warning(pkg.Name + " is not installed")
					missing++
				}
			}

			if missing > 0 {
				return fmt.Errorf("%d package(s) missing", missing)
			}
			return nil
		},
	}
}

func newPackagesInstallCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "install [name]",
		Short: "Install missing packages for the active profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			_, profile, err := loadProfilePackages(a)
			if err != nil {
				return err
			}

			targets := profile.Packages
			if len(args) == 1 {
				targets = filterPackages(profile.Packages, args[0])
				if len(targets) == 0 {
					return errors.Newf(errors.ErrPackageInvalid, "package '%s' is not configured", args[0])
				}
			} else if !all {
				return fmt.Errorf("give a package name or --all")
			}

			probe := packages.NewSystemProbe()
			failures := 0
			for _, pkg := range targets {
				if res, err := probe.IsInstalled(cmd.Context(), pkg); err == nil && res.Status == packages.StatusInstalled {
					a.printer.Info(pkg.Name + " is already installed")
					continue
				}
				if err := installOne(cmd.Context(), a, probe, pkg); err != nil {
					a.printer.Error(fmt.Sprintf("%s: %v", pkg.Name, err))
					failures++
				} else {
					a.printer.Success("Installed " + pkg.Name)
				}
			}

			if failures > 0 {
				return fmt.Errorf("%d install(s) failed", failures)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Install every missing package")
	return cmd
}

func installOne(ctx context.Context, a *app, probe packages.Probe, pkg manifest.Package) error {
	a.printer.Printf("Installing %s...\n", pkg.Name)
	lines, done := probe.Install(ctx, pkg)
	for line := range lines {
		a.printer.Printf("  %s\n", line)
	}
	return <-done
}

func filterPackages(pkgs []manifest.Package, name string) []manifest.Package {
	var out []manifest.Package
	for _, pkg := range pkgs {
		if pkg.Name == name {
			out = append(out, pkg)
		}
	}
	return out
}
