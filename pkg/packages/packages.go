package packages

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/logging"
	"github.com/dotstate/dotstate/pkg/manifest"
)

// CheckStatus is the outcome of a package existence probe.
type CheckStatus string

const (
	StatusInstalled    CheckStatus = "installed"
	StatusNotInstalled CheckStatus = "not_installed"
)

// CheckResult reports whether a package is present and how that was
// determined.
type CheckResult struct {
	Status CheckStatus
	// UsedFallback is true when the manager-native check decided,
	// rather than the binary PATH lookup.
	UsedFallback bool
}

// Probe is the package-management surface the CLI consumes.
type Probe interface {
	// AvailableManagers lists the managers usable on this host.
	AvailableManagers() []manifest.Manager
	// IsInstalled checks a package, trying the binary lookup first so
	// manually installed software is detected without a manager.
	IsInstalled(ctx context.Context, pkg manifest.Package) (CheckResult, error)
	// Install runs the package's install command. Output lines are
	// delivered on the first channel until the process exits; the
	// second channel then delivers the final status exactly once.
	Install(ctx context.Context, pkg manifest.Package) (<-chan string, <-chan error)
}

// SystemProbe implements Probe against the host's package managers.
type SystemProbe struct {
	log zerolog.Logger
}

func NewSystemProbe() *SystemProbe {
	return &SystemProbe{log: logging.GetLogger("packages")}
}

// managerBinary names the executable that proves a manager is present.
func managerBinary(m manifest.Manager) string {
	switch m {
	case manifest.ManagerBrew:
		return "brew"
	case manifest.ManagerApt:
		return "apt-get"
	case manifest.ManagerYum:
		return "yum"
	case manifest.ManagerDnf:
		return "dnf"
	case manifest.ManagerPacman:
		return "pacman"
	case manifest.ManagerSnap:
		return "snap"
	case manifest.ManagerCargo:
		return "cargo"
	case manifest.ManagerNpm:
		return "npm"
	case manifest.ManagerPip:
		return "pip"
	case manifest.ManagerPip3:
		return "pip3"
	case manifest.ManagerGem:
		return "gem"
	default:
		return ""
	}
}

// binaryInPath reports whether name resolves to an executable on PATH.
// No shell is involved.
func binaryInPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// IsManagerInstalled reports whether the manager's binary is on PATH.
// Custom packages need no manager.
func IsManagerInstalled(m manifest.Manager) bool {
	if m == manifest.ManagerCustom {
		return true
	}
	bin := managerBinary(m)
	return bin != "" && binaryInPath(bin)
}

func (p *SystemProbe) AvailableManagers() []manifest.Manager {
	var candidates []manifest.Manager
	switch runtime.GOOS {
	case "darwin":
		candidates = append(candidates, manifest.ManagerBrew)
	case "linux":
		candidates = append(candidates,
			manifest.ManagerApt, manifest.ManagerYum, manifest.ManagerDnf,
			manifest.ManagerPacman, manifest.ManagerSnap)
	}
	candidates = append(candidates,
		manifest.ManagerCargo, manifest.ManagerNpm,
		manifest.ManagerPip, manifest.ManagerPip3, manifest.ManagerGem)

	available := make([]manifest.Manager, 0, len(candidates)+1)
	for _, m := range candidates {
		if IsManagerInstalled(m) {
			available = append(available, m)
		}
	}
	available = append(available, manifest.ManagerCustom)
	return available
}

// installArgs builds the install argv for a managed package. Managers
// that need root are wrapped in sudo.
func installArgs(m manifest.Manager, packageName string) []string {
	switch m {
	case manifest.ManagerBrew:
		return []string{"brew", "install", packageName}
	case manifest.ManagerApt:
		return []string{"sudo", "apt-get", "install", "-y", packageName}
	case manifest.ManagerYum:
		return []string{"sudo", "yum", "install", "-y", packageName}
	case manifest.ManagerDnf:
		return []string{"sudo", "dnf", "install", "-y", packageName}
	case manifest.ManagerPacman:
		return []string{"sudo", "pacman", "-S", "--noconfirm", packageName}
	case manifest.ManagerSnap:
		return []string{"sudo", "snap", "install", packageName}
	case manifest.ManagerCargo:
		return []string{"cargo", "install", packageName}
	case manifest.ManagerNpm:
		return []string{"npm", "install", "-g", packageName}
	case manifest.ManagerPip:
		return []string{"pip", "install", packageName}
	case manifest.ManagerPip3:
		return []string{"pip3", "install", packageName}
	case manifest.ManagerGem:
		return []string{"gem", "install", packageName}
	default:
		return nil
	}
}

// checkArgs builds the manager-native existence check argv. The second
// return is false for managers without a native check (cargo).
func checkArgs(m manifest.Manager, packageName string) ([]string, bool) {
	switch m {
	case manifest.ManagerBrew:
		return []string{"brew", "list", packageName}, true
	case manifest.ManagerApt:
		return []string{"dpkg", "-s", packageName}, true
	case manifest.ManagerYum, manifest.ManagerDnf:
		return []string{"rpm", "-q", packageName}, true
	case manifest.ManagerPacman:
		return []string{"pacman", "-Q", packageName}, true
	case manifest.ManagerSnap:
		return []string{"snap", "list", packageName}, true
	case manifest.ManagerNpm:
		return []string{"npm", "list", "-g", packageName}, true
	case manifest.ManagerPip:
		return []string{"pip", "show", packageName}, true
	case manifest.ManagerPip3:
		return []string{"pip3", "show", packageName}, true
	case manifest.ManagerGem:
		return []string{"gem", "list", "-i", packageName}, true
	default:
		return nil, false
	}
}

// sudoRequired reports whether the manager installs through sudo and
// sudo would prompt for a password.
func sudoRequired(ctx context.Context, m manifest.Manager) bool {
	switch m {
	case manifest.ManagerApt, manifest.ManagerYum, manifest.ManagerDnf,
		manifest.ManagerPacman, manifest.ManagerSnap:
		err := exec.CommandContext(ctx, "sudo", "-n", "true").Run()
		return err != nil
	default:
		return false
	}
}

// homebrewEnvVars must reach brew child processes; custom Homebrew
// installations rely on them.
var homebrewEnvVars = []string{
	"HOMEBREW_PREFIX",
	"HOMEBREW_CELLAR",
	"HOMEBREW_REPOSITORY",
	"HOMEBREW_SHELLENV_PREFIX",
}

func command(ctx context.Context, argv []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if argv[0] == "brew" || (len(argv) > 1 && argv[1] == "brew") {
		env := os.Environ()
		for _, v := range homebrewEnvVars {
			if val, ok := os.LookupEnv(v); ok {
				env = append(env, v+"="+val)
			}
		}
		cmd.Env = env
	}
	return cmd
}

func (p *SystemProbe) IsInstalled(ctx context.Context, pkg manifest.Package) (CheckResult, error) {
	// Binary check first so manually installed software is found even
	// when no manager knows about it.
	if pkg.BinaryName != "" && binaryInPath(pkg.BinaryName) {
		p.log.Debug().Str("package", pkg.Name).Msg("Found via binary check")
		return CheckResult{Status: StatusInstalled}, nil
	}

	// User-provided check command runs through the shell.
	if pkg.ExistenceCheck != nil && *pkg.ExistenceCheck != "" {
		err := exec.CommandContext(ctx, "sh", "-c", *pkg.ExistenceCheck).Run()
		return checkOutcome(err, true)
	}
	if pkg.ManagerCheck != nil && *pkg.ManagerCheck != "" {
		err := exec.CommandContext(ctx, "sh", "-c", *pkg.ManagerCheck).Run()
		return checkOutcome(err, true)
	}

	if pkg.PackageName != nil && IsManagerInstalled(pkg.Manager) {
		if argv, ok := checkArgs(pkg.Manager, *pkg.PackageName); ok {
			err := command(ctx, argv).Run()
			return checkOutcome(err, true)
		}
	}

	return CheckResult{Status: StatusNotInstalled}, nil
}

// checkOutcome maps a check command's exit to a result. A non-zero
// exit means "not installed"; failing to run the command at all is a
// probe error.
func checkOutcome(err error, fallback bool) (CheckResult, error) {
	if err == nil {
		return CheckResult{Status: StatusInstalled, UsedFallback: fallback}, nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		return CheckResult{Status: StatusNotInstalled, UsedFallback: fallback}, nil
	}
	return CheckResult{}, errors.Wrap(err, errors.ErrPackageProbe, "existence check failed to run")
}

func (p *SystemProbe) Install(ctx context.Context, pkg manifest.Package) (<-chan string, <-chan error) {
	lines := make(chan string, 64)
	done := make(chan error, 1)

	cmd, err := p.installCommand(ctx, pkg)
	if err != nil {
		close(lines)
		done <- err
		return lines, done
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		close(lines)
		done <- errors.Wrap(err, errors.ErrPackageProbe, "failed to capture stdout")
		return lines, done
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		close(lines)
		done <- errors.Wrap(err, errors.ErrPackageProbe, "failed to capture stderr")
		return lines, done
	}

	if err := cmd.Start(); err != nil {
		close(lines)
		done <- errors.Wrapf(err, errors.ErrPackageProbe, "failed to start install for %s", pkg.Name)
		return lines, done
	}
	p.log.Info().Str("package", pkg.Name).Str("manager", string(pkg.Manager)).Msg("Installing package")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			lines <- "[stderr] " + scanner.Text()
		}
	}()

	go func() {
		wg.Wait()
		close(lines)
		if err := cmd.Wait(); err != nil {
			done <- errors.Wrapf(err, errors.ErrPackageProbe, "installation of %s failed", pkg.Name)
			return
		}
		done <- nil
	}()

	return lines, done
}

func (p *SystemProbe) installCommand(ctx context.Context, pkg manifest.Package) (*exec.Cmd, error) {
	if pkg.Manager == manifest.ManagerCustom {
		if pkg.InstallCommand == nil || strings.TrimSpace(*pkg.InstallCommand) == "" {
			return nil, errors.Newf(errors.ErrPackageInvalid, "custom package %s has no install command", pkg.Name)
		}
		return exec.CommandContext(ctx, "sh", "-c", *pkg.InstallCommand), nil
	}

	if pkg.PackageName == nil || *pkg.PackageName == "" {
		return nil, errors.Newf(errors.ErrPackageInvalid, "package %s has no manager package name", pkg.Name)
	}
	if !IsManagerInstalled(pkg.Manager) {
		return nil, errors.Newf(errors.ErrPackageProbe, "package manager %s is not installed", pkg.Manager)
	}
	if sudoRequired(ctx, pkg.Manager) {
		return nil, errors.New(errors.ErrPackageProbe,
			"sudo password required, run in a terminal or configure passwordless sudo")
	}

	argv := installArgs(pkg.Manager, *pkg.PackageName)
	if argv == nil {
		return nil, errors.Newf(errors.ErrPackageInvalid, "no install command for manager %s", pkg.Manager)
	}
	return command(ctx, argv), nil
}
