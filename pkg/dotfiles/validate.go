package dotfiles

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dotstate/dotstate/pkg/paths"
)

// maxGitScanDepth bounds the recursive nested-repo scan.
const maxGitScanDepth = 10

// ValidationResult says whether an add is safe and why not.
type ValidationResult struct {
	IsSafe bool
	Reason string
}

func safe() ValidationResult { return ValidationResult{IsSafe: true} }

func unsafe(reason string) ValidationResult {
	return ValidationResult{IsSafe: false, Reason: reason}
}

// containsGitRepo reports whether path or any of its ancestors carries a
// .git entry. Syncing inside a working copy breaks that repository.
func containsGitRepo(path string) bool {
	if paths.IsGitRepo(path) {
		return true
	}
	dir := path
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		dir = filepath.Dir(path)
	}
	for {
		if _, err := os.Lstat(filepath.Join(dir, ".git")); err == nil {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

// containsNestedGitRepo reports whether any subdirectory of path holds a
// .git entry. The scan is depth-limited; too-deep trees count as clean.
func containsNestedGitRepo(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	return nestedGitScan(path, 0)
}

func nestedGitScan(dir string, depth int) bool {
	if depth > maxGitScanDepth {
		return false
	}
	if _, err := os.Lstat(filepath.Join(dir, ".git")); err == nil {
		return true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == ".git" {
			continue
		}
		if nestedGitScan(filepath.Join(dir, entry.Name()), depth+1) {
			return true
		}
	}
	return false
}

// dotVariants returns the path with and without a leading dot, to match
// entries recorded either way.
func dotVariants(rel string) []string {
	if strings.HasPrefix(rel, ".") && len(rel) > 1 {
		return []string{rel, rel[1:]}
	}
	return []string{rel, "." + rel}
}

// isInsideSyncedDirectory reports whether some ancestor of rel is already
// synced.
func isInsideSyncedDirectory(rel string, synced map[string]bool) bool {
	parent := filepath.Dir(rel)
	for parent != "." && parent != "/" {
		for _, variant := range dotVariants(filepath.ToSlash(parent)) {
			if synced[variant] {
				return true
			}
		}
		parent = filepath.Dir(parent)
	}
	return false
}

// directoryContainsSyncedFiles reports whether any synced entry lives
// under the directory rel.
func directoryContainsSyncedFiles(rel string, synced map[string]bool) bool {
	for syncedFile := range synced {
		for _, variant := range dotVariants(rel) {
			if strings.HasPrefix(syncedFile, variant+"/") {
				return true
			}
		}
	}
	return false
}

// validateBeforeSync runs every pre-add check: duplicate sync, overlap
// with a synced directory either way, git working copies and the basic
// path safety rules.
func validateBeforeSync(rel, fullPath string, synced map[string]bool, repoRoot string) ValidationResult {
	rel = paths.NormalizeRel(rel)

	if synced[rel] {
		return unsafe("file or directory is already synced: " + rel)
	}
	if isInsideSyncedDirectory(rel, synced) {
		return unsafe("cannot sync '" + rel + "': it is already inside a synced directory")
	}

	info, statErr := os.Stat(fullPath)
	isDir := statErr == nil && info.IsDir()

	if isDir && directoryContainsSyncedFiles(rel, synced) {
		return unsafe("cannot sync directory '" + rel + "': it contains files that are already synced")
	}
	if containsGitRepo(fullPath) {
		return unsafe("cannot sync a git repository: " + fullPath)
	}
	if isDir && containsNestedGitRepo(fullPath) {
		return unsafe("cannot sync directory '" + rel + "': it contains a nested git repository")
	}

	if ok, reason := paths.IsSafeToAdd(fullPath, repoRoot); !ok {
		return unsafe(reason)
	}
	return safe()
}

// validateSymlinkCreation dry-runs the link placement before the original
// is touched: the source must exist, the repo destination must be free
// and the target's parent must be creatable and writable.
func validateSymlinkCreation(originalSource, repoDest, target string) ValidationResult {
	if _, err := os.Lstat(originalSource); err != nil {
		return unsafe("source file does not exist: " + originalSource)
	}
	if _, err := os.Lstat(repoDest); err == nil {
		return unsafe("destination already exists in repository: " + repoDest)
	}

	parent := filepath.Dir(target)
	info, err := os.Stat(parent)
	switch {
	case err == nil && !info.IsDir():
		return unsafe("target parent exists but is not a directory: " + parent)
	case err != nil:
		if mkErr := os.MkdirAll(parent, 0o755); mkErr != nil {
			return unsafe("cannot create target parent directory: " + parent)
		}
		// empty dry-run directory, remove it again
		if entries, readErr := os.ReadDir(parent); readErr == nil && len(entries) == 0 {
			os.Remove(parent)
		}
		return safe()
	}

	probe := filepath.Join(parent, ".dotstate_write_test")
	f, err := os.Create(probe)
	if err != nil {
		return unsafe("cannot write to target location: " + parent)
	}
	f.Close()
	os.Remove(probe)
	return safe()
}
