package dotstate

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dotstate/dotstate/pkg/backup"
	"github.com/dotstate/dotstate/pkg/config"
	"github.com/dotstate/dotstate/pkg/dotfiles"
	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/paths"
	"github.com/dotstate/dotstate/pkg/profiles"
	"github.com/dotstate/dotstate/pkg/symlink"
	"github.com/dotstate/dotstate/pkg/ui"
)

// app wires the services a command needs against the configured
// repository.
type app struct {
	paths    paths.Paths
	cfg      *config.Config
	store    *backup.Store
	engine   *symlink.Engine
	dotfiles *dotfiles.Service
	profiles *profiles.Service
	printer  *ui.Printer
}

func newApp() (*app, error) {
	p, err := paths.New("")
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadOrCreate(p)
	if err != nil {
		return nil, err
	}

	// The configured repo path wins over the default layout.
	if cfg.RepoPath != "" {
		p, err = paths.New(cfg.RepoPath)
		if err != nil {
			return nil, err
		}
	}

	store := backup.NewStore(p.BackupRoot(), cfg.BackupEnabled)
	engine, err := symlink.NewEngine(p, store)
	if err != nil {
		return nil, err
	}

	icons := ui.NewIcons(ui.DetectIconSet(cfg.IconSet))
	return &app{
		paths:    p,
		cfg:      cfg,
		store:    store,
		engine:   engine,
		dotfiles: dotfiles.NewService(p, engine, store),
		profiles: profiles.NewService(p, engine),
		printer:  ui.NewPrinter(icons),
	}, nil
}

// requireConfigured fails with a NotConfigured error when no repository
// has been set up yet.
func (a *app) requireConfigured() error {
	if !a.cfg.IsRepoConfigured() {
		return errors.New(errors.ErrNotConfigured,
			"no repository configured: add a [github] section, or set repo_mode = \"Local\" with repo_path pointing at a git repository, in "+
				paths.FormatForDisplay(a.paths.ConfigFilePath()))
	}
	return nil
}

// activeProfile returns the configured active profile name or an error
// when none is set.
func (a *app) activeProfile() (string, error) {
	if a.cfg.ActiveProfile == "" {
		return "", errors.New(errors.ErrProfileNotFound, "no active profile set")
	}
	return a.cfg.ActiveProfile, nil
}

// resolveHomeRel turns a user-supplied path into (absolute path,
// home-relative slash path). Paths outside home are rejected.
func (a *app) resolveHomeRel(arg string) (string, string, error) {
	full := paths.ExpandHome(arg)
	if !filepath.IsAbs(full) {
		// A bare name like ".zshrc" or "config/nvim" is taken as
		// home-relative.
		full = filepath.Join(a.paths.HomeDir(), full)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(a.paths.HomeDir(), full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", errors.Newf(errors.ErrUnsafePath, "%s is outside the home directory", arg)
	}
	return full, paths.NormalizeRel(filepath.ToSlash(rel)), nil
}

func (a *app) saveConfig() error {
	return a.cfg.Save(a.paths.ConfigFilePath())
}

// reportResult prints a sync-service result and converts non-success
// outcomes into an error for exit code 1 where appropriate.
func (a *app) reportResult(res dotfiles.Result, rel, verb string) error {
	switch res.Outcome {
	case dotfiles.OutcomeSuccess:
		a.printer.Success(fmt.Sprintf("%s %s", verb, paths.FormatForDisplay(rel)))
		return nil
	case dotfiles.OutcomeAlreadySynced:
		a.printer.Info(fmt.Sprintf("%s is already synced", rel))
		return nil
	case dotfiles.OutcomeNotSynced:
		a.printer.Info(fmt.Sprintf("%s is not synced", rel))
		return nil
	default:
		a.printer.Error(res.Reason)
		return fmt.Errorf("%s", res.Reason)
	}
}
