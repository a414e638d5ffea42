package fsutil

import (
	"fmt"
	"os"
	"syscall"

	"github.com/google/uuid"
)

// Locker provides advisory, whole-file exclusive locking, grounded on
// mutagen/pkg/filesystem/locking (locker.go, locker_posix.go), trimmed to the
// POSIX-only form; the repository's advisory lockfile uses it non-blocking
// (spec §4.1/§5).
type Locker struct {
	file *os.File
}

// NewLocker opens (creating if necessary) the file at path and returns a
// Locker in an unlocked state.
func NewLocker(path string, permissions os.FileMode) (*Locker, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, permissions)
	if err != nil {
		return nil, fmt.Errorf("unable to open lock file: %w", err)
	}
	return &Locker{file: file}, nil
}

// Lock attempts to acquire the exclusive lock. If block is false and the
// lock is already held, it returns an error immediately rather than
// waiting — the engine treats a held lockfile as "refuse to run" (spec §5).
func (l *Locker) Lock(block bool) error {
	spec := syscall.Flock_t{Type: syscall.F_WRLCK, Whence: int16(os.SEEK_SET)}
	operation := syscall.F_SETLK
	if block {
		operation = syscall.F_SETLKW
	}
	if err := syscall.FcntlFlock(l.file.Fd(), operation, &spec); err != nil {
		return fmt.Errorf("unable to acquire repository lock: %w", err)
	}

	// Stamp the lockfile with a fresh session identifier, replacing any
	// earlier contents. Nothing in this package reads the stamp back.
	sessionID, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("unable to generate lock session identifier: %w", err)
	}
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("unable to stamp lock session identifier: %w", err)
	}
	if _, err := l.file.WriteAt([]byte(sessionID.String()+"\n"), 0); err != nil {
		return fmt.Errorf("unable to stamp lock session identifier: %w", err)
	}
	return nil
}

// Unlock releases the lock.
func (l *Locker) Unlock() error {
	spec := syscall.Flock_t{Type: syscall.F_UNLCK, Whence: int16(os.SEEK_SET)}
	if err := syscall.FcntlFlock(l.file.Fd(), syscall.F_SETLK, &spec); err != nil {
		return fmt.Errorf("unable to release repository lock: %w", err)
	}
	return nil
}

// Close closes the underlying lock file descriptor.
func (l *Locker) Close() error {
	return l.file.Close()
}
