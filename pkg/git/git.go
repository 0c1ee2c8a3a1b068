package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/logging"
)

// tokenEnvVar carries the token into the credential helper without
// embedding it in a shell expression.
const tokenEnvVar = "DOTSTATE_GIT_TOKEN"

// VCS provides the version-control operations the sync and doctor
// flows need. All operations are blocking and report errors by value.
type VCS interface {
	// CommitAll stages everything and commits. A clean tree is a no-op.
	CommitAll(ctx context.Context, message string) error
	// PullWithRebase fetches and rebases onto the remote branch,
	// returning the number of commits pulled from the remote.
	PullWithRebase(ctx context.Context, remote, branch, token string) (int, error)
	// Push pushes the branch and sets upstream tracking.
	Push(ctx context.Context, remote, branch, token string) error
	// Fetch updates the remote tracking ref for the branch.
	Fetch(ctx context.Context, remote, branch, token string) error
	// AheadBehind reports how many commits the local branch is ahead
	// of and behind the remote tracking branch.
	AheadBehind(ctx context.Context, remote, branch string) (ahead, behind int, err error)
	// ChangedFiles lists working tree changes as "X path" lines where
	// X is A, M, D or ?.
	ChangedFiles(ctx context.Context) ([]string, error)
	// DiffForFile returns a unified diff for a single file relative to
	// the repository root. Untracked files diff against /dev/null.
	DiffForFile(ctx context.Context, rel string) (string, error)
	// GenerateCommitMessage summarizes the changed files. It errors
	// when the tree is clean; callers fall back to a fixed message.
	GenerateCommitMessage(ctx context.Context) (string, error)
	// CurrentBranch returns the checked-out branch name, or "" when
	// HEAD is unborn or detached.
	CurrentBranch(ctx context.Context) (string, error)
	HasUncommittedChanges(ctx context.Context) (bool, error)
	HasUnpushedCommits(ctx context.Context, remote, branch string) (bool, error)
	// SetRemote adds the remote, replacing any existing one of the
	// same name.
	SetRemote(ctx context.Context, name, url string) error
}

// ShellClient implements VCS by shelling out to the git command.
type ShellClient struct {
	root string
	log  zerolog.Logger
}

// OpenOrInit opens the repository at root, initializing it on the
// "main" branch when no repository exists yet. A .gitignore with
// patterns for noisy files is created if missing.
func OpenOrInit(ctx context.Context, root string) (*ShellClient, error) {
	c := &ShellClient{root: root, log: logging.GetLogger("git")}

	if _, err := os.Stat(filepath.Join(root, ".git")); err != nil {
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, errors.Wrapf(err, errors.ErrDirCreate, "failed to create repository directory %s", root)
		}
		if err := c.run(ctx, "", "init"); err != nil {
			return nil, err
		}
		// git may have initialized the default branch as master
		// depending on the host config.
		if err := c.run(ctx, "", "symbolic-ref", "HEAD", "refs/heads/main"); err != nil {
			return nil, err
		}
		if err := c.run(ctx, "", "config", "init.defaultBranch", "main"); err != nil {
			return nil, err
		}
		c.log.Info().Str("root", root).Msg("Initialized repository")
	}

	if err := c.ensureGitignore(); err != nil {
		return nil, err
	}
	return c, nil
}

// CloneOrOpen clones the remote into root, or opens root when a
// repository already exists there.
func CloneOrOpen(ctx context.Context, remote, root, token string) (*ShellClient, error) {
	if _, err := os.Stat(filepath.Join(root, ".git")); err == nil {
		return OpenOrInit(ctx, root)
	}

	c := &ShellClient{root: root, log: logging.GetLogger("git")}
	if err := os.MkdirAll(filepath.Dir(root), 0755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrDirCreate, "failed to create parent directory for %s", root)
	}

	cmd := exec.CommandContext(ctx, "git", "clone", remote, root)
	configureAuth(cmd, token)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, errors.Wrapf(err, errors.ErrVcs, "git clone failed: %s", strings.TrimSpace(string(out)))
	}

	if err := c.ensureGitignore(); err != nil {
		return nil, err
	}
	c.log.Info().Str("remote", remote).Str("root", root).Msg("Cloned repository")
	return c, nil
}

// Root returns the repository working directory.
func (c *ShellClient) Root() string {
	return c.root
}

func (c *ShellClient) CommitAll(ctx context.Context, message string) error {
	if err := c.run(ctx, "", "add", "-A", "."); err != nil {
		return err
	}

	dirty, err := c.HasUncommittedChanges(ctx)
	if err != nil {
		return err
	}
	if !dirty {
		c.log.Debug().Msg("Nothing to commit")
		return nil
	}

	args := []string{"commit", "-m", message}
	args = append(c.identityFlags(ctx), args...)
	if err := c.run(ctx, "", args...); err != nil {
		return err
	}
	c.log.Info().Str("message", message).Msg("Committed changes")
	return nil
}

// identityFlags supplies a fallback committer identity when the host
// git config has none, so commit never fails on a fresh machine.
func (c *ShellClient) identityFlags(ctx context.Context) []string {
	if _, err := c.output(ctx, "config", "user.email"); err == nil {
		return nil
	}
	return []string{
		"-c", "user.name=dotstate",
		"-c", "user.email=dotstate@localhost",
	}
}

func (c *ShellClient) PullWithRebase(ctx context.Context, remote, branch, token string) (int, error) {
	if err := c.Fetch(ctx, remote, branch, token); err != nil {
		return 0, err
	}

	remoteRef := "refs/remotes/" + remote + "/" + branch
	if !c.hasRef(ctx, remoteRef) {
		return 0, nil
	}

	head, err := c.output(ctx, "rev-parse", "HEAD")
	if err != nil {
		// Unborn HEAD: adopt the remote branch wholesale.
		if err := c.run(ctx, "", "checkout", "-B", branch, remoteRef); err != nil {
			return 0, err
		}
		return c.revListCount(ctx, remoteRef)
	}

	pulled, err := c.revListCount(ctx, head+".."+remoteRef)
	if err != nil {
		return 0, err
	}
	if pulled == 0 {
		return 0, nil
	}

	if err := c.run(ctx, "", "rebase", remoteRef); err != nil {
		// Leave the tree in its pre-rebase state rather than half
		// rebased with conflict markers.
		_ = c.run(ctx, "", "rebase", "--abort")
		return 0, err
	}
	c.log.Info().Int("commits", pulled).Str("branch", branch).Msg("Pulled changes from remote")
	return pulled, nil
}

func (c *ShellClient) Push(ctx context.Context, remote, branch, token string) error {
	if err := c.run(ctx, token, "push", "-u", remote, branch); err != nil {
		return err
	}
	c.log.Info().Str("remote", remote).Str("branch", branch).Msg("Pushed to remote")
	return nil
}

func (c *ShellClient) Fetch(ctx context.Context, remote, branch, token string) error {
	return c.run(ctx, token, "fetch", remote, branch)
}

func (c *ShellClient) AheadBehind(ctx context.Context, remote, branch string) (int, int, error) {
	localRef := "refs/heads/" + branch
	remoteRef := "refs/remotes/" + remote + "/" + branch

	if !c.hasRef(ctx, localRef) {
		return 0, 0, nil
	}
	if !c.hasRef(ctx, remoteRef) {
		ahead, err := c.revListCount(ctx, localRef)
		return ahead, 0, err
	}

	out, err := c.output(ctx, "rev-list", "--left-right", "--count", localRef+"..."+remoteRef)
	if err != nil {
		return 0, 0, err
	}
	return parseAheadBehind(out)
}

func (c *ShellClient) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := c.output(ctx, "status", "--porcelain", "-uall")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(out), nil
}

func (c *ShellClient) DiffForFile(ctx context.Context, rel string) (string, error) {
	status, err := c.output(ctx, "status", "--porcelain", "--", rel)
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(status, "??") || !c.hasRef(ctx, "HEAD") {
		// diff --no-index exits 1 when the files differ.
		cmd := c.command(ctx, "", "diff", "--no-index", "--", os.DevNull, rel)
		out, err := cmd.Output()
		if err != nil {
			if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
				return string(out), nil
			}
			return "", errors.Wrapf(err, errors.ErrVcs, "git diff failed for %s", rel)
		}
		return string(out), nil
	}

	return c.output(ctx, "diff", "HEAD", "--", rel)
}

func (c *ShellClient) GenerateCommitMessage(ctx context.Context) (string, error) {
	changed, err := c.ChangedFiles(ctx)
	if err != nil {
		return "", err
	}
	if len(changed) == 0 {
		return "", errors.New(errors.ErrVcs, "no changes to summarize")
	}
	return buildCommitMessage(changed), nil
}

func (c *ShellClient) CurrentBranch(ctx context.Context) (string, error) {
	out, err := c.output(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil || out == "HEAD" {
		return "", nil
	}
	return out, nil
}

func (c *ShellClient) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := c.output(ctx, "status", "--porcelain", "-uall")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (c *ShellClient) HasUnpushedCommits(ctx context.Context, remote, branch string) (bool, error) {
	if _, err := c.output(ctx, "remote", "get-url", remote); err != nil {
		return false, nil
	}

	localRef := "refs/heads/" + branch
	if !c.hasRef(ctx, localRef) {
		return false, nil
	}
	remoteRef := "refs/remotes/" + remote + "/" + branch
	if !c.hasRef(ctx, remoteRef) {
		return true, nil
	}

	ahead, err := c.revListCount(ctx, remoteRef+".."+localRef)
	if err != nil {
		return false, err
	}
	return ahead > 0, nil
}

// RemoteURL returns the fetch URL of the named remote.
func (c *ShellClient) RemoteURL(ctx context.Context, name string) (string, error) {
	return c.output(ctx, "remote", "get-url", name)
}

func (c *ShellClient) SetRemote(ctx context.Context, name, url string) error {
	if _, err := c.output(ctx, "remote", "get-url", name); err == nil {
		if err := c.run(ctx, "", "remote", "remove", name); err != nil {
			return err
		}
	}
	return c.run(ctx, "", "remote", "add", name, url)
}

// gitignorePatterns cover OS droppings and editor swap files that
// would otherwise churn the repository on every sync.
const gitignorePatterns = `# OS files
.DS_Store
Thumbs.db

# Backup files
*.bak
*.swp
*.swo
*~
`

func (c *ShellClient) ensureGitignore() error {
	path := filepath.Join(c.root, ".gitignore")
	if _, err := os.Lstat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(gitignorePatterns), 0644); err != nil {
		return errors.Wrap(err, errors.ErrFileCreate, "failed to create .gitignore")
	}
	return nil
}

func (c *ShellClient) hasRef(ctx context.Context, ref string) bool {
	_, err := c.output(ctx, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

func (c *ShellClient) revListCount(ctx context.Context, rangeSpec string) (int, error) {
	out, err := c.output(ctx, "rev-list", "--count", rangeSpec)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrVcs, "unexpected rev-list output %q", out)
	}
	return n, nil
}

// command builds a git invocation against the repository, wiring token
// auth through a credential helper when a token is given.
func (c *ShellClient) command(ctx context.Context, token string, args ...string) *exec.Cmd {
	full := append([]string{"-C", c.root}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	configureAuth(cmd, token)
	return cmd
}

func (c *ShellClient) run(ctx context.Context, token string, args ...string) error {
	cmd := c.command(ctx, token, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, errors.ErrVcs, "git %s failed: %s", args[0], strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *ShellClient) output(ctx context.Context, args ...string) (string, error) {
	cmd := c.command(ctx, "", args...)
	out, err := cmd.Output()
	if err != nil {
		detail := ""
		if ee, ok := err.(*exec.ExitError); ok {
			detail = strings.TrimSpace(string(ee.Stderr))
		}
		return "", errors.Wrapf(err, errors.ErrVcs, "git %s failed: %s", args[0], detail)
	}
	return strings.TrimSpace(string(out)), nil
}

// configureAuth passes the token via environment variable and a git
// credential helper that reads it, keeping the token out of argv.
func configureAuth(cmd *exec.Cmd, token string) {
	if token == "" {
		return
	}
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, tokenEnvVar+"="+token)
	cmd.Args = insertGitFlags(cmd.Args,
		"-c", fmt.Sprintf(`credential.helper=!f() { echo "username=x-access-token"; echo "password=$%s"; }; f`, tokenEnvVar),
	)
}

// insertGitFlags inserts flags immediately after the "git" command
// name, before any subcommand.
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// parsePorcelain maps `git status --porcelain` lines to "X path"
// entries where X is A (added), M (modified), D (deleted) or ?.
func parsePorcelain(out string) []string {
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		code, path := line[:2], line[3:]
		// Renames come through as "old -> new"; report the new path.
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		files = append(files, statusPrefix(code)+" "+path)
	}
	return files
}

func statusPrefix(code string) string {
	switch {
	case code == "??" || strings.ContainsRune(code, 'A'):
		return "A"
	case strings.ContainsRune(code, 'D'):
		return "D"
	case strings.ContainsAny(code, "MR"):
		return "M"
	default:
		return "?"
	}
}

// buildCommitMessage summarizes changed files into a one-line commit
// message like "Update .zshrc and 2 other files".
func buildCommitMessage(changed []string) string {
	names := make([]string, 0, len(changed))
	for _, entry := range changed {
		if len(entry) > 2 {
			names = append(names, entry[2:])
		}
	}
	switch len(names) {
	case 0:
		return "Update dotfiles"
	case 1:
		return "Update " + names[0]
	case 2:
		return "Update " + names[0] + " and " + names[1]
	default:
		return fmt.Sprintf("Update %s and %d other files", names[0], len(names)-1)
	}
}

func parseAheadBehind(out string) (int, int, error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, errors.Newf(errors.ErrVcs, "unexpected rev-list output %q", out)
	}
	ahead, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, errors.Wrapf(err, errors.ErrVcs, "unexpected rev-list output %q", out)
	}
	behind, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, errors.Wrapf(err, errors.ErrVcs, "unexpected rev-list output %q", out)
	}
	return ahead, behind, nil
}
