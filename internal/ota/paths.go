package ota

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsafePath marks a user-supplied path that would resolve outside its
// root directory.
var ErrUnsafePath = errors.New("path escapes its root directory")

// SecurePath joins parts under root and confirms the result stays inside it.
// The returned path is absolute and cleaned.
func SecurePath(root string, parts ...string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	full := filepath.Join(append([]string{rootAbs}, parts...)...)
	return checkContained(rootAbs, full)
}

// SecureResolve validates an externally supplied path, absolute or relative
// to root, against root.
func SecureResolve(root, path string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	full := path
	if filepath.IsAbs(full) {
		full = filepath.Clean(full)
	} else {
		full = filepath.Join(rootAbs, full)
	}
	return checkContained(rootAbs, full)
}

// checkContained rejects paths outside the root, following symlinks on
// whatever portion of the path already exists so a link planted inside the
// root cannot point elsewhere. Components not on disk yet are re-attached
// to the deepest existing ancestor before the check.
func checkContained(rootAbs, full string) (string, error) {
	if !within(rootAbs, full) {
		return "", ErrUnsafePath
	}

	resolvedRoot := rootAbs
	if r, err := filepath.EvalSymlinks(rootAbs); err == nil {
		resolvedRoot = r
	}

	base := full
	var tail []string
	for {
		if r, err := filepath.EvalSymlinks(base); err == nil {
			resolved := filepath.Join(append([]string{r}, tail...)...)
			if !within(resolvedRoot, resolved) {
				return "", ErrUnsafePath
			}
			return full, nil
		}
		parent := filepath.Dir(base)
		if parent == base {
			return full, nil
		}
		tail = append([]string{filepath.Base(base)}, tail...)
		base = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
