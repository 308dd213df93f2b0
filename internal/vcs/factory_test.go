package vcs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectGitDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0755); err != nil {
		t.Fatalf("failed to create .git: %v", err)
	}
	nested := filepath.Join(root, "src", "util")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("failed to create nested dir: %v", err)
	}

	result, err := Detect(nested)
	if err != nil {
		t.Fatalf("Detect() failed: %v", err)
	}

	if result.Type != TypeGit {
		t.Errorf("Type = %v, want %v", result.Type, TypeGit)
	}
	if result.Root != root {
		t.Errorf("Root = %v, want %v", result.Root, root)
	}
	if result.IsWorktree {
		t.Error("IsWorktree = true for a regular .git directory")
	}
}

func TestDetectWorktreeFile(t *testing.T) {
	root := t.TempDir()
	gitFile := filepath.Join(root, ".git")
	if err := os.WriteFile(gitFile, []byte("gitdir: ../main/.git/worktrees/wt\n"), 0644); err != nil {
		t.Fatalf("failed to write .git file: %v", err)
	}

	result, err := Detect(root)
	if err != nil {
		t.Fatalf("Detect() failed: %v", err)
	}

	if !result.IsWorktree {
		t.Error("IsWorktree = false for a .git file")
	}
	want := filepath.Clean(filepath.Join(root, "../main/.git/worktrees/wt"))
	if result.MetaDir != want {
		t.Errorf("MetaDir = %v, want %v", result.MetaDir, want)
	}
}

func TestDetectOutsideRepository(t *testing.T) {
	dir := t.TempDir()

	_, err := Detect(dir)
	if err == nil {
		// A parent of the temp dir may itself be a repository
		t.Skip("temp dir is inside a repository")
	}
	if !errors.Is(err, ErrNotInVCS) {
		t.Errorf("Detect() error = %v, want ErrNotInVCS", err)
	}
}

func TestOpenTypeUsesExplicitType(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0755); err != nil {
		t.Fatalf("failed to create .git: %v", err)
	}

	typeName := uniqueTestType("explicit")
	Register(typeName, newMockConnector(typeName))

	c, err := OpenType(typeName, root, Options{})
	if err != nil {
		t.Fatalf("OpenType() failed: %v", err)
	}
	if c.Name() != typeName {
		t.Errorf("Name() = %v, want %v", c.Name(), typeName)
	}
	if c.Root() != root {
		t.Errorf("Root() = %v, want %v", c.Root(), root)
	}
}

func TestOpenTypeRejectsUnknownBeforeDetection(t *testing.T) {
	// no .git here: an unknown type must be reported, not ErrNotInVCS
	_, err := OpenType(uniqueTestType("unknown"), t.TempDir(), Options{})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("OpenType() error = %v, want ErrUnknownBackend", err)
	}
}
