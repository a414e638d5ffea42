// Package pathbuf provides root-relative path joining, splitting and
// validation for the backup engine. It plays the role that C1 (allocator &
// regions) and C2 (path strings) play in the source design: where the
// original relied on scope-bound arenas and explicit buffer reuse, Go's
// garbage collector already manages path-string lifetimes, so this package
// narrows to the part of C1/C2 that still has a job in Go — fast,
// allocation-light joining/splitting/validation of root-relative paths,
// modeled directly on mutagen/pkg/synchronization/core's path helpers
// (pathJoin, pathDir, PathBase, pathLess).
package pathbuf

import "strings"

// Join is a fast alternative to path.Join for root-relative paths. It avoids
// path.Join's cleaning overhead. The leaf must be non-empty.
func Join(base, leaf string) string {
	if leaf == "" {
		panic("pathbuf: empty leaf name")
	}
	if base == "" {
		return leaf
	}
	return base + "/" + leaf
}

// Dir returns the parent of a root-relative path. The root itself ("") has
// no parent and passing it panics.
func Dir(path string) string {
	if path == "" {
		panic("pathbuf: empty path")
	}
	lastSlash := strings.LastIndexByte(path, '/')
	if lastSlash == -1 {
		return ""
	}
	if lastSlash == 0 {
		panic("pathbuf: empty parent path")
	}
	return path[:lastSlash]
}

// Base returns the final element of a root-relative path. The root path
// ("") returns "".
func Base(path string) string {
	if path == "" {
		return ""
	}
	lastSlash := strings.LastIndexByte(path, '/')
	if lastSlash == -1 {
		return path
	}
	if lastSlash == len(path)-1 {
		panic("pathbuf: empty base name")
	}
	return path[lastSlash+1:]
}

// Less reports whether first sorts before second in depth-first traversal
// order, comparing path components rather than raw bytes.
func Less(first, second string) bool {
	if first == second {
		return false
	} else if first == "" {
		return true
	} else if second == "" {
		return false
	}
	for {
		firstSlash := strings.IndexByte(first, '/')
		var firstComponent string
		if firstSlash == -1 {
			firstComponent = first
		} else {
			firstComponent = first[:firstSlash]
		}

		secondSlash := strings.IndexByte(second, '/')
		var secondComponent string
		if secondSlash == -1 {
			secondComponent = second
		} else {
			secondComponent = second[:secondSlash]
		}

		if firstComponent < secondComponent {
			return true
		} else if secondComponent < firstComponent {
			return false
		}

		if firstSlash == -1 {
			return true
		} else if secondSlash == -1 {
			return false
		}
		first = first[firstSlash+1:]
		second = second[secondSlash+1:]
	}
}

// Split breaks a path into its '/'-separated elements. The root path ("")
// splits to an empty slice.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// HasDotElement reports whether path contains a "." or ".." element, which
// is forbidden everywhere a path is accepted by the engine (selectors,
// metadata names, restore targets).
func HasDotElement(path string) bool {
	for _, element := range Split(path) {
		if element == "." || element == ".." {
			return true
		}
	}
	return false
}

// ValidName reports whether name is a valid single path element: non-empty,
// free of '/' and NUL bytes, and not "." or "..".
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\x00")
}
