// Package buildinfo carries version and debug-mode information for
// nano-backup, the way mutagen/pkg/mutagen carries it for mutagen.
package buildinfo

import (
	"fmt"
	"os"
)

const (
	// VersionMajor is the current major version of nano-backup.
	VersionMajor = 0
	// VersionMinor is the current minor version of nano-backup.
	VersionMinor = 1
	// VersionPatch is the current patch version of nano-backup.
	VersionPatch = 0
)

// Version is the full, formatted version of nano-backup.
var Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)

// DebugEnabled indicates whether or not nano-backup is running in debug mode.
// It is controlled by the NANOBACKUP_DEBUG environment variable.
var DebugEnabled = os.Getenv("NANOBACKUP_DEBUG") == "1"

// LegalNotice is printed by the "legal" command, covering the third-party
// components this binary links against.
const LegalNotice = `nano-backup

Licensed under the MIT License.

This software contains code from the following third-party projects:

golang.org/x/crypto - BSD-3-Clause
golang.org/x/sys - BSD-3-Clause
golang.org/x/text - BSD-3-Clause
github.com/spf13/cobra - Apache-2.0
github.com/spf13/pflag - BSD-3-Clause
github.com/fatih/color - MIT
github.com/google/uuid - BSD-3-Clause
github.com/dustin/go-humanize - MIT
`
