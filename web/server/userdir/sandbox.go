package userdir

import (
	"fmt"
	"path"
	"strings"
)

// ValidatePath checks that a client-supplied relative path can't escape the
// directory it's joined to. It rejects NUL bytes, absolute paths and any ".."
// segment, even one that would be harmless after cleaning. It never accesses
// the filesystem.
func ValidatePath(rel string) error {
	switch {
	case strings.ContainsRune(rel, 0):
		return fmt.Errorf("%w: contains a NUL byte", ErrPathRejected)
	case strings.HasPrefix(rel, "/"):
		return fmt.Errorf("%w: absolute path", ErrPathRejected)
	}

	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: parent directory reference", ErrPathRejected)
		}
	}

	return nil
}

// Contain joins rel to root and returns the cleaned result, which is
// guaranteed to be root itself or one of its descendants. root must be an
// absolute path.
func Contain(root, rel string) (string, error) {
	if !path.IsAbs(root) {
		return "", fmt.Errorf("%w: root '%s' is not absolute", ErrPathRejected, root)
	}
	if err := ValidatePath(rel); err != nil {
		return "", err
	}

	root = path.Clean(root)
	target := path.Join(root, rel)
	if !within(root, target) {
		return "", fmt.Errorf("%w: resolves outside of root", ErrPathRejected)
	}

	return target, nil
}

// within reports whether the clean path p is root or one of its descendants.
func within(root, p string) bool {
	return p == root || strings.HasPrefix(p, strings.TrimSuffix(root, "/")+"/")
}
