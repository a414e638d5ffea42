// Package fatal implements the engine's single fatal-failure path (spec
// §4.8, §7 Error handling design): C11. No recoverable errors exist in the
// core; library code returns wrapped errors and only the outermost
// cmd/nanobackup entry point calls Die. This is grounded on mutagen's
// cmd/mutagen (cmd.Fatal), which is likewise the only place mutagen
// terminates the process on error from within a command body.
package fatal

import (
	"fmt"
	"os"
)

// Identifier is prefixed to every fatal message, matching the teacher's
// single-line "tool-identifier: message" convention (spec §7).
var Identifier = "nanobackup"

// Die prints a single-line, tool-prefixed error message to stderr and
// terminates the process with a non-zero exit status. It is the only
// function in this module that calls os.Exit.
func Die(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: error: %s\n", Identifier, err.Error())
	os.Exit(1)
}

// Errno wraps err with context, the way every syscall-boundary error in the
// engine is wrapped. On POSIX, Go's error.Error() on a wrapped
// *os.PathError/syscall.Errno already renders the C strerror string, so no
// separate cgo strerror binding is required to satisfy spec §7's
// "suffixed with the system strerror string" requirement.
func Errno(context string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
