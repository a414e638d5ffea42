// Package filehash computes the content hash the repository uses as its
// addressing key: BLAKE2b truncated to 20 bytes (spec §3 PathState,
// §4.1 Repository layer). It is grounded on
// mutagen/pkg/synchronization/hashing's Algorithm/Factory pattern (a
// hash.Hash constructor selected once and reused for every file). Callers
// hash a file in a separate pass before copying it into the repository.
package filehash

import (
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// Size is the number of hash bytes stored per regular_file PathState, and
// also the inline-storage threshold (spec §3, §4.5): files of this size or
// smaller are stored directly in the hash field instead of the repository.
const Size = 20

// ReadBufferSize is the block size used for the block-sized reads C4
// specifies.
const ReadBufferSize = 64 * 1024

// Hash is a truncated BLAKE2b-20 digest.
type Hash [Size]byte

// newHasher constructs the single hash algorithm this engine uses. Kept as
// a factory function, mirroring mutagen/pkg/synchronization/hashing's
// Algorithm.Factory() even though there is only one algorithm here, so that
// adding a second content hash later doesn't require touching every caller.
func newHasher() hash.Hash {
	h, err := blake2b.New(Size, nil)
	if err != nil {
		// Size is a compile-time constant within blake2b's supported range
		// (1-64), so construction cannot fail.
		panic(fmt.Sprintf("filehash: blake2b.New failed unexpectedly: %v", err))
	}
	return h
}

// File computes the BLAKE2b-20 hash of the file at path by streaming it
// through block-sized reads, matching C4's "BLAKE2b over a file, block-sized
// reads" contract.
func File(path string) (Hash, error) {
	file, err := os.Open(path)
	if err != nil {
		return Hash{}, fmt.Errorf("unable to open file for hashing: %w", err)
	}
	defer file.Close()
	return Reader(file)
}

// Reader computes the BLAKE2b-20 hash of everything read from r.
func Reader(r io.Reader) (Hash, error) {
	hasher := newHasher()
	buffer := make([]byte, ReadBufferSize)
	for {
		n, err := r.Read(buffer)
		if n > 0 {
			hasher.Write(buffer[:n])
		}
		if err == io.EOF {
			break
		} else if err != nil {
			return Hash{}, fmt.Errorf("unable to read file while hashing: %w", err)
		}
	}
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result, nil
}
