// Package security validates filesystem paths derived from stored data.
// Clip paths are read back from the events database before serving, so a
// corrupted or tampered row must not be able to address files outside the
// clip directory.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateClipPath checks that path resolves to a location inside clipDir.
// Symlinks are resolved on both sides so a link planted inside the clip
// directory cannot escape it. clipDir must exist.
func ValidateClipPath(path, clipDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to resolve clip path: %w", err)
	}
	absDir, err := filepath.Abs(clipDir)
	if err != nil {
		return fmt.Errorf("failed to resolve clip directory: %w", err)
	}

	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve clip directory symlinks: %w", err)
	}
	canonicalPath := resolveExisting(absPath)

	rel, err := filepath.Rel(canonicalDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("clip path is outside the clip directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("clip path %q escapes %q", path, clipDir)
	}
	return nil
}

// resolveExisting resolves symlinks in path. When the path itself does not
// exist yet, the nearest existing ancestor is resolved instead so a symlinked
// parent cannot smuggle the path out of bounds.
func resolveExisting(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	for dir := absPath; ; {
		parent := filepath.Dir(dir)
		if parent == dir {
			return absPath
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, absPath)
			return filepath.Join(resolved, rel)
		}
		dir = parent
	}
}
