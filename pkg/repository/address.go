package repository

import (
	"fmt"
	"strconv"

	"github.com/AlxHnr/nano-backup-go/internal/filehash"
)

// Address is the triple (hash, size, slot) that uniquely names a stored
// file, matching the GLOSSARY's "Content address" and spec §4.1/§6.2's
// two-level fan-out naming scheme.
type Address struct {
	Hash filehash.Hash
	Size uint64
	Slot uint8
}

// fanOutPrefixes returns the two single-byte hex fan-out directory names
// derived from the address's hash, per spec §4.1: "<xx>" is the first hash
// byte in hex, "<yy>" is the second.
func (a Address) fanOutPrefixes() (string, string) {
	return fmt.Sprintf("%02x", a.Hash[0]), fmt.Sprintf("%02x", a.Hash[1])
}

// filename renders the exact on-disk filename for the address, per spec
// §6.2: "hh hh hh...hh x <size-as-lowercase-hex> x <slot-as-lowercase-hex>"
// with no leading zeros on size or slot.
func (a Address) filename() string {
	hashHex := fmt.Sprintf("%x", a.Hash[:])
	return hashHex + "x" + strconv.FormatUint(a.Size, 16) + "x" + strconv.FormatUint(uint64(a.Slot), 16)
}

// relativePath returns the address's path relative to the repository root:
// "<xx>/<yy>/<filename>".
func (a Address) relativePath() string {
	xx, yy := a.fanOutPrefixes()
	return xx + "/" + yy + "/" + a.filename()
}
