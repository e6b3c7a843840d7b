// Package security holds the path checks applied to operator-supplied
// output locations before the engine writes reports or databases.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowedDirs is returned when a path resolves outside every
// allowed directory.
var ErrOutsideAllowedDirs = errors.New("path outside allowed directories")

// ResolveOutputPath cleans path, resolves symlinks on its nearest existing
// ancestor and returns the absolute result if it lies within one of
// allowedDirs. With no allowedDirs the working directory and the system
// temp directory are allowed.
func ResolveOutputPath(path string, allowedDirs ...string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty output path")
	}
	if len(allowedDirs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		allowedDirs = []string{cwd, os.TempDir()}
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	canonical := canonicalise(abs)

	for _, dir := range allowedDirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		root, err := filepath.EvalSymlinks(absDir)
		if err != nil {
			continue
		}
		if within(root, canonical) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideAllowedDirs, path)
}

// canonicalise resolves symlinks in the longest existing prefix of abs, so a
// not-yet-created file below a symlinked directory is judged by where the
// link points.
func canonicalise(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest)
		}
		if filepath.Dir(dir) == dir {
			return abs
		}
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

const maxFilenameLen = 96

// SanitizeFilename maps an arbitrary label (a category or camera id) to a
// file-name-safe token: runs of characters outside [A-Za-z0-9._-] become a
// single underscore and leading or trailing dots and underscores are trimmed.
func SanitizeFilename(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		ok := r == '.' || r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('_')
		}
		pending = false
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
