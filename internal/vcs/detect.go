package vcs

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DetectionResult contains information about the detected working copy
type DetectionResult struct {
	// Type is the detected backend type
	Type Type

	// Root is the working copy root directory path
	Root string

	// MetaDir is the backend metadata directory path (.git)
	MetaDir string

	// IsWorktree indicates this is a git worktree (not main repo)
	IsWorktree bool
}

// Detect identifies the backend for a given directory by walking up
// parent directories until a metadata directory is found.
//
// Returns ErrNotInVCS if no working copy is found.
func Detect(path string) (*DetectionResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	current := absPath
	for {
		gitPath := filepath.Join(current, ".git")

		// .git is a directory for regular repos, a file for worktrees
		if info, err := os.Stat(gitPath); err == nil {
			result := &DetectionResult{
				Type:    TypeGit,
				Root:    current,
				MetaDir: gitPath,
			}
			if info.Mode().IsRegular() {
				result.IsWorktree = true
				result.MetaDir = resolveGitDirFile(current, gitPath)
			}
			return result, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return nil, ErrNotInVCS
		}
		current = parent
	}
}

// resolveGitDirFile reads the "gitdir: <path>" line of a worktree's .git file.
func resolveGitDirFile(worktreePath, gitFile string) string {
	content, err := os.ReadFile(gitFile)
	if err != nil {
		return gitFile
	}

	line := strings.TrimSpace(string(content))
	if !strings.HasPrefix(line, "gitdir: ") {
		return gitFile
	}

	gitDir := strings.TrimPrefix(line, "gitdir: ")
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(worktreePath, gitDir)
	}
	return filepath.Clean(gitDir)
}

// IsGitAvailable checks if the git command is available on the system
func IsGitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// DetectWithAvailability performs detection and checks binary availability.
// Returns an error if the required VCS binary is not available.
func DetectWithAvailability(path string) (*DetectionResult, error) {
	result, err := Detect(path)
	if err != nil {
		return nil, err
	}

	if result.Type == TypeGit && !IsGitAvailable() {
		return nil, ErrVCSNotAvailable
	}

	return result, nil
}
