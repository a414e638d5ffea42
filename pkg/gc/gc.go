// Package gc implements the garbage collector (C10, spec §4.7): a
// predicate-driven recursive delete over the repository's two-level
// fan-out, removing any stored file no longer referenced by the supplied
// Metadata. It is grounded on mutagen/pkg/synchronization/core's recursive
// tree-walking helpers and on staging/store/store.go's fan-out directory
// layout knowledge, adapted to this engine's (hash, size, slot) addressing.
package gc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AlxHnr/nano-backup-go/internal/filehash"
	"github.com/AlxHnr/nano-backup-go/internal/fsutil"
	"github.com/AlxHnr/nano-backup-go/pkg/logging"
	"github.com/AlxHnr/nano-backup-go/pkg/metadata"
	"github.com/AlxHnr/nano-backup-go/pkg/repository"
)

// Report summarises the outcome of a Run (spec §4.7 "report
// deleted_count/deleted_bytes").
type Report struct {
	DeletedCount uint64
	DeletedBytes uint64
}

// liveAddresses collects every (hash, size, slot) address that m's surviving
// tree still cites. States stored inline (size <= InlineThreshold) do not
// name a repository file at all — spec §9's Open Question on "inline-storage
// states being vacuously not referencing any repository file" is resolved by
// simply never adding them to this set, rather than special-casing them at
// delete time: there is no address to protect, so there is nothing to skip.
func liveAddresses(m *metadata.Metadata) map[repository.Address]bool {
	live := make(map[repository.Address]bool)
	record := func(point *metadata.PathHistoryPoint) {
		for p := point; p != nil; p = p.Next {
			if p.State.Type == metadata.RegularFile && p.State.Size > metadata.InlineThreshold {
				live[repository.Address{Hash: p.State.Hash, Size: p.State.Size, Slot: p.State.Slot}] = true
			}
		}
	}
	record(m.ConfigHistory)
	var visit func(nodes []*metadata.PathNode)
	visit = func(nodes []*metadata.PathNode) {
		for _, n := range nodes {
			if n.NotPartOfRepository() {
				continue
			}
			record(n.History)
			visit(n.Subnodes)
		}
	}
	visit(m.Paths)
	return live
}

// parseFilename decodes a stored-file name of the form
// "<hash-hex>x<size-hex>x<slot-hex>" (spec §6.2) back into an Address. It
// returns ok=false for anything that doesn't match the convention, which
// Run treats as foreign and leaves alone rather than deleting.
func parseFilename(name string) (addr repository.Address, ok bool) {
	parts := strings.Split(name, "x")
	if len(parts) != 3 {
		return repository.Address{}, false
	}
	if len(parts[0]) != filehash.Size*2 {
		return repository.Address{}, false
	}
	var hash filehash.Hash
	for i := range hash {
		b, err := strconv.ParseUint(parts[0][i*2:i*2+2], 16, 8)
		if err != nil {
			return repository.Address{}, false
		}
		hash[i] = byte(b)
	}
	size, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return repository.Address{}, false
	}
	slot, err := strconv.ParseUint(parts[2], 16, 8)
	if err != nil {
		return repository.Address{}, false
	}
	return repository.Address{Hash: hash, Size: size, Slot: uint8(slot)}, true
}

// Run deletes every stored file under repo's two-level fan-out that m does
// not reference, without following symlinks (spec §4.7: "doesn't follow
// symlinks" — ReadDir/Lstat below never dereferences a link to decide
// whether to recurse).
func Run(repo *repository.Repository, m *metadata.Metadata, logger *logging.Logger) (Report, error) {
	live := liveAddresses(m)
	var report Report

	topEntries, err := fsutil.ReadDirSorted(repo.Root())
	if err != nil {
		return report, fmt.Errorf("unable to list repository root: %w", err)
	}

	for _, xx := range topEntries {
		if !xx.Mode.IsDir() || len(xx.Name) != 2 {
			continue
		}
		xxPath := filepath.Join(repo.Root(), xx.Name)
		yyEntries, err := fsutil.ReadDirSorted(xxPath)
		if err != nil {
			return report, fmt.Errorf("unable to list fan-out directory %s: %w", xxPath, err)
		}

		for _, yy := range yyEntries {
			if !yy.Mode.IsDir() || len(yy.Name) != 2 {
				continue
			}
			yyPath := filepath.Join(xxPath, yy.Name)
			files, err := fsutil.ReadDirSorted(yyPath)
			if err != nil {
				return report, fmt.Errorf("unable to list fan-out directory %s: %w", yyPath, err)
			}

			for _, file := range files {
				if !file.Mode.IsRegular() {
					continue
				}
				addr, ok := parseFilename(file.Name)
				if !ok {
					logger.Warnf("ignoring unrecognised repository entry %s/%s", yyPath, file.Name)
					continue
				}
				if live[addr] {
					continue
				}

				fullPath := filepath.Join(yyPath, file.Name)
				info, err := os.Lstat(fullPath)
				if err != nil {
					return report, fmt.Errorf("unable to stat %s before deletion: %w", fullPath, err)
				}
				if err := os.Remove(fullPath); err != nil {
					return report, fmt.Errorf("unable to delete %s: %w", fullPath, err)
				}
				report.DeletedCount++
				report.DeletedBytes += uint64(info.Size())
			}

			// Spec §4.7: a fan-out directory's delete predicate also fires
			// once it became empty as a result of the deletions above.
			remaining, err := fsutil.ReadDirSorted(yyPath)
			if err != nil {
				return report, fmt.Errorf("unable to list fan-out directory %s: %w", yyPath, err)
			}
			if len(remaining) == 0 {
				if err := os.Remove(yyPath); err != nil {
					return report, fmt.Errorf("unable to delete empty fan-out directory %s: %w", yyPath, err)
				}
			}
		}

		remaining, err := fsutil.ReadDirSorted(xxPath)
		if err != nil {
			return report, fmt.Errorf("unable to list fan-out directory %s: %w", xxPath, err)
		}
		if len(remaining) == 0 {
			if err := os.Remove(xxPath); err != nil {
				return report, fmt.Errorf("unable to delete empty fan-out directory %s: %w", xxPath, err)
			}
		}
	}

	return report, nil
}
