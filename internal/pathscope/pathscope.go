// Package pathscope implements the pure path-resolution safety check that
// stands between an LLM-proposed file path and the IO Actor: it rejects
// any path that would escape a configured workspace root, whether via
// ".." traversal, an absolute path outside the root, or a symlink whose
// canonical target leaves the root.
package pathscope

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/weave-editor/weave/internal/weaveerr"
)

// Resolve resolves userPath against root and returns the absolute path,
// or a Domain error with CodePathOutsideRoot if the result would escape
// root. Relative paths are joined to root; absolute paths are accepted
// only if they are (post-normalization) a descendant of root.
//
// The deepest existing part of the path is canonicalized (symlinks
// resolved): the whole path if it exists, otherwise its deepest existing
// ancestor, with the missing components rejoined. A symlinked file or
// parent therefore cannot be used to smuggle the final path outside root.
func Resolve(userPath, root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", weaveerr.Domainf(weaveerr.CodePathOutsideRoot, "cannot resolve workspace root: %v", err).
			WithRetryHint("workspace root is misconfigured")
	}
	absRoot = filepath.Clean(absRoot)

	var candidate string
	if filepath.IsAbs(userPath) {
		candidate = filepath.Clean(userPath)
	} else {
		candidate = filepath.Clean(filepath.Join(absRoot, userPath))
	}

	if !isDescendant(absRoot, candidate) {
		return "", weaveerr.Domainf(weaveerr.CodePathOutsideRoot,
			"file_path must be a relative path under the workspace root; received %q", userPath).
			WithRetryHint(fmt.Sprintf("file_path must be a relative path under %s", absRoot))
	}

	resolved, err := canonicalizeExistingParent(candidate)
	if err != nil {
		return "", weaveerr.Domainf(weaveerr.CodePathOutsideRoot, "cannot canonicalize path %q: %v", userPath, err)
	}

	if !isDescendant(absRoot, resolved) {
		return "", weaveerr.Domainf(weaveerr.CodePathOutsideRoot,
			"file_path resolves outside the workspace root via symlink; received %q", userPath).
			WithRetryHint(fmt.Sprintf("file_path must resolve under %s", absRoot))
	}

	return resolved, nil
}

// isDescendant reports whether candidate is root itself or a path under it.
func isDescendant(root, candidate string) bool {
	if candidate == root {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(candidate, root+sep)
}

// canonicalizeExistingParent resolves symlinks in the deepest existing
// ancestor of path, then rejoins the remaining (possibly non-existent)
// components, touching the filesystem only for path segments that
// actually exist.
func canonicalizeExistingParent(path string) (string, error) {
	if _, err := os.Lstat(path); err == nil {
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return "", err
		}
		return filepath.Clean(real), nil
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if dir == path {
		return path, nil
	}

	realDir, err := canonicalizeExistingParent(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(realDir, base), nil
}

// RelativeToRoot returns path relative to root for use in user-visible
// previews and persisted records. Falls back to path unchanged if it
// is not under root.
func RelativeToRoot(path, root string) string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(filepath.Clean(absRoot), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
