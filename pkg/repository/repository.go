// Package repository implements the content-addressed repository layer
// (C5): deterministic path construction keyed by (hash, size, slot),
// atomic write-then-rename commits with full directory fsync, existence
// checks, and raw-mode writes for the metadata file (spec §4.1, §6.2). It
// is grounded on mutagen/pkg/synchronization/endpoint/local/staging's
// Stager/Store pair and on mutagen/pkg/filesystem's atomic-write and
// locking helpers, adapted from mutagen's single-level
// digest-plus-path-hash fan-out to the spec's two-level hex fan-out with
// slot-based collision disambiguation instead of a secondary path hash.
package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AlxHnr/nano-backup-go/internal/fsutil"
	"github.com/AlxHnr/nano-backup-go/pkg/logging"
)

const (
	// MetadataName is the name of the serialised Metadata file within the
	// repository root (spec §4.1, §6.2).
	MetadataName = "metadata"
	// LockfileName is the name of the advisory lockfile (spec §4.1, §5).
	LockfileName = "lockfile"
	// tempFileName is the name of the scratch write target for atomic
	// commits (spec §4.1, §6.2). It may be left over after a crash and must
	// be safely overwritable.
	tempFileName = "tmp-file"

	dirPermissions  = 0700
	filePermissions = 0600
)

// ErrNotFound is returned by OpenReader when the requested content does not
// exist in the repository (spec §4.1 "fails with not_found if missing").
var ErrNotFound = errors.New("repository: content not found")

// Repository is a directory owned by this engine, providing content-
// addressed storage plus raw-mode storage for the metadata file.
type Repository struct {
	root   string
	logger *logging.Logger
	lock   *fsutil.Locker
}

// Open creates (if necessary) and locks the repository rooted at path. The
// caller must call Close when done, releasing the advisory lock.
func Open(path string, logger *logging.Logger) (*Repository, error) {
	if err := fsutil.MkdirAllSynced(path, dirPermissions); err != nil {
		return nil, fmt.Errorf("unable to create repository root: %w", err)
	}

	lock, err := fsutil.NewLocker(filepath.Join(path, LockfileName), filePermissions)
	if err != nil {
		return nil, fmt.Errorf("unable to open repository lockfile: %w", err)
	}
	if err := lock.Lock(false); err != nil {
		lock.Close()
		return nil, fmt.Errorf("repository is locked by another process: %w", err)
	}

	return &Repository{root: path, logger: logger, lock: lock}, nil
}

// Close releases the repository's advisory lock.
func (r *Repository) Close() error {
	if err := r.lock.Unlock(); err != nil {
		return err
	}
	return r.lock.Close()
}

// Root returns the repository's root directory.
func (r *Repository) Root() string {
	return r.root
}

func (r *Repository) path(addr Address) string {
	return filepath.Join(r.root, filepath.FromSlash(addr.relativePath()))
}

// Exists reports whether content at the given address exists in the
// repository (a pure path check, spec §4.1).
func (r *Repository) Exists(addr Address) bool {
	_, err := os.Lstat(r.path(addr))
	return err == nil
}

// Reader reads a stored file's exact bytes (spec §4.1 "exact-size read; EOF
// or IO is fatal" — the fatality of a short read/IO error here is the
// caller's responsibility via internal/fatal, mirroring the single
// fatal-failure model).
type Reader struct {
	file *os.File
}

// OpenReader opens a reader for the content at addr. It returns ErrNotFound
// if the content does not exist.
func (r *Repository) OpenReader(addr Address) (*Reader, error) {
	file, err := os.Open(r.path(addr))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("unable to open repository content: %w", err)
	}
	return &Reader{file: file}, nil
}

// Read implements io.Reader.
func (rd *Reader) Read(buf []byte) (int, error) {
	return rd.file.Read(buf)
}

// Close closes the reader.
func (rd *Reader) Close() error {
	return rd.file.Close()
}

// Writer streams data into the repository's scratch tmp-file and, on
// Close, performs the crash-atomic commit protocol of spec §4.1: flush,
// fsync the file, ensure fan-out directories exist (creating and fsyncing
// as needed), rename into place, fsync the containing directory, fsync
// the repository root.
type Writer struct {
	repo      *Repository
	file      *os.File
	finalPath string
}

// openWriter is shared by OpenWriter and OpenWriterRaw: both stage their
// data in the repository root's tmp-file before committing it elsewhere
// (spec §4.1).
func (r *Repository) openWriter(finalPath string) (*Writer, error) {
	tempPath := filepath.Join(r.root, tempFileName)
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("unable to create scratch write file: %w", err)
	}
	return &Writer{repo: r, file: file, finalPath: finalPath}, nil
}

// OpenWriter opens a writer that will commit its content to the path
// derived from addr (content-addressed write).
func (r *Repository) OpenWriter(addr Address) (*Writer, error) {
	return r.openWriter(r.path(addr))
}

// OpenWriterRaw opens a writer whose final path is given explicitly instead
// of derived from a content address — used for the metadata file (spec §4.1,
// GLOSSARY "Raw-mode write").
func (r *Repository) OpenWriterRaw(finalPath string) (*Writer, error) {
	return r.openWriter(finalPath)
}

// Write implements io.Writer.
func (w *Writer) Write(buf []byte) (int, error) {
	return w.file.Write(buf)
}

// Close performs the atomic commit protocol and releases the writer.
func (w *Writer) Close() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("unable to fsync scratch file: %w", err)
	}
	tempPath := w.file.Name()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("unable to close scratch file: %w", err)
	}

	parent := filepath.Dir(w.finalPath)
	if parent != w.repo.root {
		if err := fsutil.MkdirAllSynced(parent, dirPermissions); err != nil {
			return fmt.Errorf("unable to create containing directory: %w", err)
		}
	}

	if err := os.Rename(tempPath, w.finalPath); err != nil {
		return fmt.Errorf("unable to commit scratch file: %w", err)
	}
	if err := fsutil.FsyncDirectory(parent); err != nil {
		return err
	}
	if parent != w.repo.root {
		if err := fsutil.FsyncDirectory(w.repo.root); err != nil {
			return err
		}
	}
	return nil
}

// MetadataPath returns the absolute path of the repository's metadata file.
func (r *Repository) MetadataPath() string {
	return filepath.Join(r.root, MetadataName)
}
