package backup

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/AlxHnr/nano-backup-go/internal/fatal"
	"github.com/AlxHnr/nano-backup-go/internal/filehash"
	"github.com/AlxHnr/nano-backup-go/internal/pathbuf"
	"github.com/AlxHnr/nano-backup-go/pkg/logging"
	"github.com/AlxHnr/nano-backup-go/pkg/metadata"
	"github.com/AlxHnr/nano-backup-go/pkg/must"
	"github.com/AlxHnr/nano-backup-go/pkg/repository"
)

// Finish implements spec §4.5: re-stat and re-read every regular_file history
// head not marked HintFreshHash (whichever backup it belongs to), hash or
// inline-store it, dedup
// against the repository by trying successive slots with a byte-for-byte
// comparison, stamp the current backup's completion time, and persist
// Metadata via the repository's raw-mode atomic write. It is grounded on
// staging/store/store.go's Stage/Sink/createNewFile dedup loop, adapted from
// a hash-addressed single-level layout to this engine's two-level fan-out
// plus explicit collision slot (spec §6.2).
func Finish(m *metadata.Metadata, repo *repository.Repository, basePath string, logger *logging.Logger) error {
	if err := visitCurrentRegularFiles(m.Paths, basePath, func(node *metadata.PathNode, fsPath string) error {
		return commitRegularFile(repo, node, fsPath, logger)
	}); err != nil {
		return err
	}

	m.CurrentBackup.CompletionTime = time.Now().Unix()

	data, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("unable to serialise metadata: %w", err)
	}
	w, err := repo.OpenWriterRaw(repo.MetadataPath())
	if err != nil {
		return fmt.Errorf("unable to open metadata for writing: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("unable to write metadata: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("unable to commit metadata: %w", err)
	}

	m.BackupHistory = append(m.BackupHistory, m.CurrentBackup)
	m.CurrentBackup = &metadata.Backup{ID: uint64(len(m.BackupHistory))}

	return nil
}

// visitCurrentRegularFiles walks every PathNode and calls fn for each
// regular_file history head that has not yet been hashed (Size set,
// Hash/Slot not yet meaningful — detected via the sentinel HintFreshHash bit
// not being set). The head's Backup is not checked.
func visitCurrentRegularFiles(nodes []*metadata.PathNode, basePath string, fn func(*metadata.PathNode, string) error) error {
	for _, node := range nodes {
		if node.NotPartOfRepository() {
			continue
		}
		if node.History != nil && node.History.State.Type == metadata.RegularFile && node.Hint&metadata.HintFreshHash == 0 {
			if err := fn(node, pathbuf.Join(basePath, node.Name)); err != nil {
				return err
			}
		}
		if len(node.Subnodes) > 0 {
			if err := visitCurrentRegularFiles(node.Subnodes, pathbuf.Join(basePath, node.Name), fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// commitRegularFile implements spec §4.5's per-file sequence: open, re-stat,
// and either store the bytes inline (size <= InlineThreshold) or hash and
// copy into the repository, finding a free slot by byte-comparing against
// any existing file of the same (hash, size).
func commitRegularFile(repo *repository.Repository, node *metadata.PathNode, fsPath string, logger *logging.Logger) error {
	state := &node.History.State

	f, err := os.Open(fsPath)
	if err != nil {
		return fatal.Errno(fmt.Sprintf("unable to open %s", fsPath), err)
	}
	defer must.Close(f, logger)

	info, err := f.Stat()
	if err != nil {
		return fatal.Errno(fmt.Sprintf("unable to stat %s", fsPath), err)
	}
	size := uint64(info.Size())
	if size != state.Size {
		// The file changed again between the initiate and finish phases; a
		// single backup run is not atomic with respect to concurrent
		// filesystem mutation outside the engine (spec §5), so this is
		// reported rather than silently backing up stale metadata.
		return fmt.Errorf("%s changed size during backup (was %d, now %d)", fsPath, state.Size, size)
	}

	if size <= metadata.InlineThreshold {
		content := make([]byte, size)
		if _, err := io.ReadFull(f, content); err != nil {
			return fatal.Errno(fmt.Sprintf("unable to read %s", fsPath), err)
		}
		copy(state.Hash[:], content)
		node.Hint |= metadata.HintFreshHash
		return nil
	}

	hash, err := filehash.Reader(f)
	if err != nil {
		return fatal.Errno(fmt.Sprintf("unable to hash %s", fsPath), err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fatal.Errno(fmt.Sprintf("unable to rewind %s", fsPath), err)
	}

	slot, alreadyStored, err := findSlot(repo, hash, size, f)
	if err != nil {
		return err
	}
	if !alreadyStored {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fatal.Errno(fmt.Sprintf("unable to rewind %s", fsPath), err)
		}
		addr := repository.Address{Hash: hash, Size: size, Slot: slot}
		w, err := repo.OpenWriter(addr)
		if err != nil {
			return fmt.Errorf("unable to store %s: %w", fsPath, err)
		}
		if _, err := io.Copy(w, f); err != nil {
			_ = w.Close()
			return fmt.Errorf("unable to store %s: %w", fsPath, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("unable to commit %s: %w", fsPath, err)
		}
	}

	state.Hash = hash
	state.Slot = slot
	node.Hint |= metadata.HintFreshHash
	return nil
}

// findSlot implements spec §4.5's slot-finding loop: starting at slot 0,
// look for an existing repository file with this (hash, size); if one
// exists, byte-compare it against src (rewound by the caller before each
// call this function makes) to decide whether it is the same content or a
// hash collision requiring the next slot (up to 255, per GLOSSARY "Slot").
func findSlot(repo *repository.Repository, hash filehash.Hash, size uint64, src io.ReadSeeker) (slot uint8, alreadyStored bool, err error) {
	for s := 0; s <= 255; s++ {
		addr := repository.Address{Hash: hash, Size: size, Slot: uint8(s)}
		if !repo.Exists(addr) {
			return uint8(s), false, nil
		}
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return 0, false, err
		}
		same, err := sameContent(repo, addr, src)
		if err != nil {
			return 0, false, err
		}
		if same {
			return uint8(s), true, nil
		}
	}
	return 0, false, fmt.Errorf("exhausted all 256 collision slots for hash %x size %d", hash, size)
}

func sameContent(repo *repository.Repository, addr repository.Address, src io.Reader) (bool, error) {
	r, err := repo.OpenReader(addr)
	if err != nil {
		return false, fmt.Errorf("unable to open stored content for comparison: %w", err)
	}
	defer r.Close()

	const bufSize = 64 * 1024
	a, b := make([]byte, bufSize), make([]byte, bufSize)
	for {
		na, erra := io.ReadFull(src, a)
		nb, errb := io.ReadFull(r, b)
		if na != nb || !bytes.Equal(a[:na], b[:nb]) {
			return false, nil
		}
		if erra == io.EOF && errb == io.EOF {
			return true, nil
		}
		if erra == io.ErrUnexpectedEOF {
			erra = nil
		}
		if errb == io.ErrUnexpectedEOF {
			errb = nil
		}
		if erra == io.EOF || errb == io.EOF {
			return erra == errb, nil
		}
		if erra != nil {
			return false, erra
		}
		if errb != nil {
			return false, errb
		}
	}
}
