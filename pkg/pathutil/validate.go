// Package pathutil provides path and name validation utilities for hookctl.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/jvs-project/hookctl/pkg/errclass"
)

// ValidateName checks that name is a bare, safe file name (a trash entry):
// not empty, not "." or "..", no separators, no control characters. Spaces and
// non-ASCII letters are allowed. It returns the NFC-normalized name.
func ValidateName(name string) (string, error) {
	if name == "" {
		return "", errclass.ErrNameInvalid.WithMessage("name must not be empty")
	}

	// NFC normalize
	name = norm.NFC.String(name)

	if name == "." || name == ".." {
		return "", errclass.ErrNameInvalid.WithMessagef("name must not be %q", name)
	}

	if strings.ContainsAny(name, "/\\") {
		return "", errclass.ErrNameInvalid.WithMessagef("name must not contain separators: %s", name)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return "", errclass.ErrNameInvalid.WithMessagef("name must not contain control characters: %q", name)
		}
	}

	return name, nil
}

// Canonicalize resolves p against workDir (when relative) and cleans it.
func Canonicalize(workDir, p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(workDir, p)
	}
	return filepath.Abs(p)
}

// WithinRoot verifies that target does not escape root once symlinks are
// resolved. It returns the resolved target. Nothing is opened or executed.
func WithinRoot(root, target string) (string, error) {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", errclass.ErrSandboxViolation.WithMessagef("cannot resolve sandbox root: %v", err)
	}

	// Try resolving target; if it doesn't exist, resolve closest ancestor
	resolvedTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		if os.IsNotExist(err) {
			resolvedTarget = resolveClosestAncestor(target)
		} else {
			return "", errclass.ErrSandboxViolation.WithMessagef("cannot resolve target: %v", err)
		}
	}

	if !IsUnder(resolvedRoot, resolvedTarget) {
		return "", errclass.ErrSandboxViolation.WithMessagef("path escapes sandbox root: %s", target)
	}

	return resolvedTarget, nil
}

// IsUnder reports whether path equals root or lies beneath it. Both must be clean.
func IsUnder(root, path string) bool {
	if path == root {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, strings.TrimSuffix(root, sep)+sep)
}

// resolveClosestAncestor walks up from path to find the closest existing
// ancestor, resolves it, then appends the remaining components.
func resolveClosestAncestor(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	if dir == path {
		return filepath.Clean(path)
	}

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if os.IsNotExist(err) {
			resolved = resolveClosestAncestor(dir)
		} else {
			return filepath.Clean(path)
		}
	}
	return filepath.Join(resolved, base)
}
