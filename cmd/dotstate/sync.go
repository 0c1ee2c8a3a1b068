package dotstate

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotstate/dotstate/pkg/config"
	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/git"
	"github.com/dotstate/dotstate/pkg/github"
	"github.com/dotstate/dotstate/pkg/manifest"
)

func newSyncCmd() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Commit, pull and push the dotfiles repository",
		Long: `Commits all local changes, pulls remote changes with rebase, pushes,
and then recreates any symlinks for files that arrived from the remote.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.requireConfigured(); err != nil {
				return err
			}
			return runSync(cmd, a, message)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message (default is generated from the changed files)")
	return cmd
}

func runSync(cmd *cobra.Command, a *app, message string) error {
	ctx := cmd.Context()

	token := a.cfg.GitHubToken()
	if a.cfg.RepoMode == config.RepoModeGitHub && token == "" {
		return errors.New(errors.ErrNotConfigured,
			"GitHub token not found, set "+config.EnvGitHubToken+" or configure it in "+a.paths.ConfigFilePath())
	}

	vcs, err := git.OpenOrInit(ctx, a.cfg.RepoPath)
	if err != nil {
		return err
	}

	if a.cfg.RepoMode == config.RepoModeGitHub {
		if err := ensureRemote(ctx, a, vcs, token); err != nil {
			return err
		}
	}

	changed, err := vcs.ChangedFiles(ctx)
	if err != nil {
		return err
	}

	if len(changed) > 0 {
		a.printer.Info(fmt.Sprintf("Committing %d change(s)", len(changed)))
		for _, f := range changed {
			a.printer.Printf("  %s\n", f)
		}

		if message == "" {
			if generated, err := vcs.GenerateCommitMessage(ctx); err == nil {
				message = generated
			} else {
				message = "Update dotfiles"
			}
		}
		if err := vcs.CommitAll(ctx, message); err != nil {
			return err
		}
	}

	branch := a.cfg.DefaultBranch
	if current, err := vcs.CurrentBranch(ctx); err == nil && current != "" {
		branch = current
	}

	pulled, err := vcs.PullWithRebase(ctx, "origin", branch, token)
	if err != nil {
		return err
	}

	unpushed, err := vcs.HasUnpushedCommits(ctx, "origin", branch)
	if err != nil {
		return err
	}
	if unpushed {
		if ahead, _, err := vcs.AheadBehind(ctx, "origin", branch); err == nil && ahead > 0 {
			a.printer.Printf("  Pushing %d commit(s)\n", ahead)
		}
		if err := vcs.Push(ctx, "origin", branch, token); err != nil {
			return err
		}
	}

	if len(changed) == 0 && pulled == 0 && !unpushed {
		a.printer.Info("Already up to date")
		return nil
	}

	a.printer.Success("Synced with remote")
	a.printer.Printf("  Branch: %s\n", branch)
	if pulled > 0 {
		a.printer.Printf("  Pulled %d change(s) from remote\n", pulled)

		// Files that arrived from the remote need their symlinks.
		created, errs := a.ensureSymlinks()
		if created > 0 {
			a.printer.Printf("  Created %d symlink(s) for new files\n", created)
		}
		for _, e := range errs {
			a.printer.Warning(e)
		}
	}

	return nil
}

// ensureRemote makes sure origin points at the user's storage repository
// on GitHub, creating the repository when it does not exist yet.
func ensureRemote(ctx context.Context, a *app, vcs *git.ShellClient, token string) error {
	if _, err := vcs.RemoteURL(ctx, "origin"); err == nil {
		return nil
	}

	gh := github.NewClient(token)
	owner, err := gh.CurrentUser(ctx)
	if err != nil {
		return err
	}

	name := a.cfg.RepoName
	exists, err := gh.RepoExists(ctx, owner, name)
	if err != nil {
		return err
	}

	cloneURL := "https://github.com/" + owner + "/" + name + ".git"
	if !exists {
		repo, err := gh.CreateRepo(ctx, name, "Dotfiles managed by dotstate", true)
		if err != nil {
			return err
		}
		cloneURL = repo.CloneURL
		a.printer.Success("Created repository " + repo.FullName)
	}

	return vcs.SetRemote(ctx, "origin", cloneURL)
}

// ensureSymlinks reconciles the active profile and common pool after a
// pull, creating only the links that are missing.
func (a *app) ensureSymlinks() (int, []string) {
	if !a.cfg.ProfileActivated || a.cfg.ActiveProfile == "" {
		return 0, nil
	}

	created := 0
	var errs []string

	m, err := manifest.LoadOrBackfill(a.paths.RepoRoot())
	if err != nil {
		return 0, []string{fmt.Sprintf("failed to load manifest: %v", err)}
	}

	if profile := m.Profile(a.cfg.ActiveProfile); profile != nil {
		report, err := a.engine.EnsureProfileSymlinks(profile.Name, profile.SyncedFiles)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			created += len(report.Created)
			for _, e := range report.Errors {
				errs = append(errs, fmt.Sprintf("%s: %s", e.Target, e.Message))
			}
		}
	}

	report, err := a.engine.EnsureCommonSymlinks(m.Common.SyncedFiles)
	if err != nil {
		errs = append(errs, err.Error())
	} else {
		created += len(report.Created)
		for _, e := range report.Errors {
			errs = append(errs, fmt.Sprintf("%s: %s", e.Target, e.Message))
		}
	}

	return created, errs
}
