// Package fsutil provides the safe IO primitives the backup engine is built
// on: atomic rename, directory/file fsync, stat/lstat/readlink and directory
// iteration. It is grounded on mutagen/pkg/filesystem (atomic.go,
// atomic_posix.go, directory_posix.go's Rename, directory.go) trimmed to the
// POSIX-only, single-process scope this engine requires (C3).
package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"sort"
	"syscall"
)

// isCrossDeviceError checks whether an error returned by os.Rename is due to
// an attempted rename across devices, mirroring
// mutagen/pkg/filesystem/atomic_posix.go's isCrossDeviceError.
func isCrossDeviceError(err error) bool {
	linkErr, ok := err.(*os.LinkError)
	if !ok {
		return false
	}
	errno, ok := linkErr.Err.(syscall.Errno)
	return ok && errno == syscall.EXDEV
}

// Rename renames oldPath to newPath. It reports whether the failure (if any)
// was an EXDEV cross-device error, matching the teacher's Rename contract so
// callers can decide whether to fall back to copy+remove.
func Rename(oldPath, newPath string) (crossDevice bool, err error) {
	if err := os.Rename(oldPath, newPath); err != nil {
		return isCrossDeviceError(err), err
	}
	return false, nil
}

// FsyncFile opens path and calls Sync on it, matching the fdatasync-on-file
// step of the repository's atomic commit protocol (spec §4.1).
func FsyncFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open file for fsync: %w", err)
	}
	defer file.Close()
	if err := file.Sync(); err != nil {
		return fmt.Errorf("unable to fsync file: %w", err)
	}
	return nil
}

// FsyncDirectory opens the directory at path and syncs it, matching the
// directory-fsync step required after every mkdir and every rename that
// changes a directory entry (spec §4.1/§5).
func FsyncDirectory(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open directory for fsync: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("unable to fsync directory: %w", err)
	}
	return nil
}

// MkdirAllSynced creates path (and any missing parents) if it does not
// already exist, fsyncing each newly created directory along with its
// parent, so that a crash immediately afterward cannot lose the directory
// entry.
func MkdirAllSynced(path string, perm os.FileMode) error {
	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path exists and is not a directory: %s", path)
		}
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("unable to stat path: %w", err)
	}

	parent := dirOf(path)
	if parent != "" && parent != path {
		if err := MkdirAllSynced(parent, perm); err != nil {
			return err
		}
	}

	if err := os.Mkdir(path, perm); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("unable to create directory: %w", err)
	}
	if err := FsyncDirectory(path); err != nil {
		return err
	}
	if parent != "" {
		if err := FsyncDirectory(parent); err != nil {
			return err
		}
	}
	return nil
}

func dirOf(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i <= 0 {
		return ""
	}
	return path[:i]
}

// Lstat is a thin wrapper over os.Lstat with a uniform error message,
// matching the teacher's habit of wrapping every syscall boundary.
func Lstat(path string) (fs.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("unable to lstat %s: %w", path, err)
	}
	return info, nil
}

// Readlink reads the target of a symbolic link.
func Readlink(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("unable to read link %s: %w", path, err)
	}
	return target, nil
}

// DirectoryEntry is a single entry returned by ReadDirSorted.
type DirectoryEntry struct {
	Name string
	Mode fs.FileMode
}

// ReadDirSorted lists the contents of a directory, sorted by name. Sorting
// is not required for correctness (spec §5 ordering guarantees explicitly
// call directory order POSIX-unspecified) but it makes traversal
// deterministic for tests, matching the spirit of
// mutagen/pkg/filesystem/directory.go's DirectoryContentsByPath.
func ReadDirSorted(path string) ([]DirectoryEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read directory %s: %w", path, err)
	}
	result := make([]DirectoryEntry, len(entries))
	for i, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("unable to stat directory entry %s: %w", entry.Name(), err)
		}
		result[i] = DirectoryEntry{Name: entry.Name(), Mode: info.Mode()}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
