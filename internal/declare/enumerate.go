package declare

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EnumerateOptions controls directory traversal.
type EnumerateOptions struct {
	// Recursive walks subdirectories. Ignored when the root is a file.
	Recursive bool

	// SkipSidecars drops "*.json" entries so metadata sidecars are never
	// declared as data files themselves.
	SkipSidecars bool
}

// Enumerate produces the ordered candidate paths for a root.
//
// A regular file yields exactly itself. A directory yields every regular
// file found by traversal, lexicographically sorted so re-runs see the same
// sequence. Symbolic links are never followed: following them risks
// duplicate declarations and traversal loops.
//
// A missing root, or a root that is neither a regular file nor a directory,
// fails with ErrInvalidInput.
func Enumerate(root string, opts EnumerateOptions) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, invalidInputf(root, "%v", err)
	}

	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, invalidInputf(abs, "path does not exist")
		}
		return nil, invalidInputf(abs, "%v", err)
	}

	switch {
	case info.Mode().IsRegular():
		return []string{abs}, nil
	case info.IsDir():
		// handled below
	default:
		return nil, invalidInputf(abs, "not a regular file or directory (mode %s)", info.Mode())
	}

	var paths []string
	if opts.Recursive {
		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, invalidInputf(abs, "walking directory: %v", err)
		}
	} else {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, invalidInputf(abs, "reading directory: %v", err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				paths = append(paths, filepath.Join(abs, e.Name()))
			}
		}
	}

	if opts.SkipSidecars {
		kept := paths[:0]
		for _, p := range paths {
			if !strings.HasSuffix(p, sidecarSuffix) {
				kept = append(kept, p)
			}
		}
		paths = kept
	}

	// WalkDir already visits lexicographically, but the ordering contract
	// must not depend on that implementation detail.
	sort.Strings(paths)
	return paths, nil
}
