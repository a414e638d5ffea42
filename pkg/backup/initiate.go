// Package backup implements the backup pipeline (C9): initiation (detect
// changes against a prior Metadata) and finalisation (hash new content,
// dedup against the repository, store it, and write Metadata). It is
// grounded on mutagen/pkg/synchronization/core/scan.go's tree-building walk
// and on the staging Stager/Store's Sink/Commit pattern for streaming new
// content into a content-addressed store (spec §4.4, §4.5).
package backup

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/AlxHnr/nano-backup-go/internal/fatal"
	"github.com/AlxHnr/nano-backup-go/internal/filehash"
	"github.com/AlxHnr/nano-backup-go/internal/pathbuf"
	"github.com/AlxHnr/nano-backup-go/pkg/logging"
	"github.com/AlxHnr/nano-backup-go/pkg/metadata"
	"github.com/AlxHnr/nano-backup-go/pkg/policy"
	"github.com/AlxHnr/nano-backup-go/pkg/search"
)

// stackEntry is one level of the in-memory path tree being diffed against
// the live filesystem, mirroring the search iterator's own frame stack
// (spec §4.3, §4.4). visited tracks which pre-existing children were seen
// this run, so handleNotFoundSubnodes (spec §4.4 step 4) can process
// everything left over once the level is exhausted.
type stackEntry struct {
	children *[]*metadata.PathNode
	path     string
	visited  map[string]bool

	// fallbackPolicy records the policy of the record that opened this
	// level. handleNotFoundSubnodes does not consult it; it decides on
	// each not-found child's own Policy.
	fallbackPolicy metadata.BackupPolicy

	// node is the PathNode this level's children belong to, or nil for the
	// repository root. Used by handleNotFoundSubnodes to cascade
	// not_part_of_repository upward once every child has collapsed (spec
	// §4.4 step 5).
	node *metadata.PathNode
}

// Initiate drives search over the live filesystem rooted at basePath,
// diffing against m (representing the last completed backup) and mutating
// m in place to reflect the current run (spec §4.4). root is the search
// tree built from the user's config.
func Initiate(m *metadata.Metadata, root *policy.SearchNode, basePath string, logger *logging.Logger) error {
	it, err := search.New(root, basePath, logger)
	if err != nil {
		return fmt.Errorf("unable to start search: %w", err)
	}

	stack := []*stackEntry{{
		children:       &m.Paths,
		path:           "",
		visited:        make(map[string]bool),
		fallbackPolicy: metadata.PolicyNone,
	}}

	for {
		record, err := it.Next()
		if err != nil {
			return err
		}

		switch record.Type {
		case search.RecordEndOfSearch:
			// The root frame's own RecordEndOfDirectory (path "") always
			// precedes this and already ran handleNotFoundSubnodes on
			// stack[0], popping it; nothing left to do here.
			return nil

		case search.RecordEndOfDirectory:
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if err := handleNotFoundSubnodes(m, top); err != nil {
				return err
			}

		case search.RecordMatch:
			top := stack[len(stack)-1]
			name := pathbuf.Base(record.Path)
			top.visited[name] = true

			node, err := applyRecord(m, top.children, record, basePath)
			if err != nil {
				return fmt.Errorf("path %q: %w", record.Path, err)
			}

			if record.Stat.Type == metadata.Directory {
				stack = append(stack, &stackEntry{
					children:       &node.Subnodes,
					path:           record.Path,
					visited:        make(map[string]bool),
					fallbackPolicy: record.Policy,
					node:           node,
				})
			}
		}
	}
}

// applyRecord looks up or creates the PathNode for record.Path and applies
// the add/update logic of spec §4.4 steps 1-2. basePath lets it reach the
// live file when a same-size, changed-timestamp comparison requires a rehash
// (spec §4.4's content-change-without-size-change rule).
func applyRecord(m *metadata.Metadata, siblings *[]*metadata.PathNode, record search.Record, basePath string) (*metadata.PathNode, error) {
	existing, ok := m.PathTable[record.Path]
	newState := stateFromStat(record.Stat)

	if !ok {
		node := &metadata.PathNode{
			Name:   pathbuf.Base(record.Path),
			Policy: record.Policy,
			Hint:   metadata.HintAdded,
			History: &metadata.PathHistoryPoint{
				Backup: m.CurrentBackup,
				State:  newState,
			},
		}
		*siblings = append(*siblings, node)
		m.PathTable[record.Path] = node
		m.TotalPathCount++
		return node, nil
	}

	node := existing
	policyChanged := node.Policy != record.Policy
	node.Policy = record.Policy
	node.Hint = 0
	if policyChanged {
		node.Hint |= metadata.HintPolicyChanged
	}

	if record.Policy == metadata.PolicyNone {
		node.History.Backup = m.CurrentBackup
		return node, nil
	}

	head := node.History
	diff := compareStates(head.State, newState)

	if newState.Type == metadata.RegularFile && diff&metadata.HintTimestampChanged != 0 && diff&metadata.HintContentChanged == 0 {
		fsPath := pathbuf.Join(basePath, record.Path)
		changed, err := rehashUnchangedSizeFile(fsPath, head.State, &newState)
		if err != nil {
			return nil, err
		}
		if changed {
			diff |= metadata.HintContentChanged
		} else {
			diff &^= metadata.HintTimestampChanged
		}
	}

	node.Hint |= diff

	if diff == 0 {
		if newState.Type == metadata.RegularFile {
			// Content confirmed unchanged (either nothing differed, or a
			// same-size rehash matched); Finish can skip re-reading it.
			node.Hint |= metadata.HintFreshHash
		}
		head.Backup = m.CurrentBackup
		return node, nil
	}

	if node.Policy == metadata.PolicyTrack {
		node.History = &metadata.PathHistoryPoint{
			Backup: m.CurrentBackup,
			State:  newState,
			Next:   head,
		}
	} else {
		head.Backup = m.CurrentBackup
		head.State = newState
	}

	return node, nil
}

// rehashUnchangedSizeFile implements spec §4.4's rule for a regular_file
// whose timestamp changed but size did not: read the live content and
// compare it against the recorded state to tell a touched-but-unmodified
// file from a genuinely rewritten one. On a match it stamps the known
// hash/slot into newState so Finish does not need to redo the work.
func rehashUnchangedSizeFile(fsPath string, old metadata.PathState, newState *metadata.PathState) (changed bool, err error) {
	f, err := os.Open(fsPath)
	if err != nil {
		return false, fatal.Errno(fmt.Sprintf("unable to open %s", fsPath), err)
	}
	defer f.Close()

	if newState.Size <= metadata.InlineThreshold {
		content := make([]byte, newState.Size)
		if _, err := io.ReadFull(f, content); err != nil {
			return false, fatal.Errno(fmt.Sprintf("unable to read %s", fsPath), err)
		}
		if bytes.Equal(content, old.InlineContent()) {
			newState.Hash = old.Hash
			return false, nil
		}
		return true, nil
	}

	hash, err := filehash.Reader(f)
	if err != nil {
		return false, fatal.Errno(fmt.Sprintf("unable to hash %s", fsPath), err)
	}
	if hash == old.Hash {
		newState.Hash = old.Hash
		newState.Slot = old.Slot
		return false, nil
	}
	return true, nil
}

func stateFromStat(s search.Stat) metadata.PathState {
	state := metadata.PathState{Type: s.Type, UID: s.UID, GID: s.GID}
	switch s.Type {
	case metadata.RegularFile:
		state.Mode = s.Mode
		state.ModTime = s.ModTime
		state.Size = s.Size
		// Content (inline bytes or hash+slot) is filled in during Finish
		// (spec §4.5); a brand-new node's single history point is not
		// content-complete until then.
	case metadata.Symlink:
		state.Target = s.Target
	case metadata.Directory:
		state.Mode = s.Mode
		state.ModTime = s.ModTime
	}
	return state
}

// compareStates implements spec §4.4's "state comparison for nodes that
// still exist", returning the accumulated hint bits. It never rehashes by
// itself: a regular_file whose size is unchanged but timestamp differs comes
// back with only HintTimestampChanged set, and applyRecord resolves
// that ambiguity by rehashing the live file (rehashUnchangedSizeFile) before
// deciding whether content actually changed.
func compareStates(old, new metadata.PathState) metadata.BackupHint {
	var hint metadata.BackupHint

	if old.Type != new.Type {
		hint |= metadata.TransitionHint(old.Type, new.Type)
		hint |= metadata.HintContentChanged
		return hint
	}

	switch new.Type {
	case metadata.RegularFile:
		if old.UID != new.UID || old.GID != new.GID {
			hint |= metadata.HintOwnerChanged
		}
		if old.Mode != new.Mode {
			hint |= metadata.HintPermissionsChanged
		}
		if old.ModTime != new.ModTime {
			hint |= metadata.HintTimestampChanged
		}
		if old.Size != new.Size {
			hint |= metadata.HintContentChanged
		}
	case metadata.Symlink:
		if old.Target != new.Target {
			hint |= metadata.HintContentChanged
		}
	case metadata.Directory:
		if old.Mode != new.Mode {
			hint |= metadata.HintPermissionsChanged
		}
		if old.ModTime != new.ModTime {
			hint |= metadata.HintTimestampChanged
		}
	}
	return hint
}

// handleNotFoundSubnodes implements spec §4.4 step 4/5: every pre-existing
// child of entry that the search did not visit this run is handled by its
// own Policy alone. A none or mirror child disappears (its subtree is marked
// not_part_of_repository, rolling its refcount contribution back for free
// since Metadata.recomputeRefCounts skips flagged subtrees); a copy or track
// child is recorded as removed (HintRemoved plus a non_existing state). The
// ignore list and the parent level's policy are not consulted.
func handleNotFoundSubnodes(m *metadata.Metadata, entry *stackEntry) error {
	for _, node := range *entry.children {
		name := node.Name
		if entry.visited[name] {
			continue
		}

		fullPath := pathbuf.Join(entry.path, name)

		switch node.Policy {
		case metadata.PolicyNone:
			// Selection-only node the search tree no longer reaches at all;
			// drop it from the written tree rather than carry a stale
			// selection artifact forward.
			markSubtreeNotPartOfRepository(m, node, fullPath)

		case metadata.PolicyMirror:
			markSubtreeNotPartOfRepository(m, node, fullPath)

		default: // copy, track
			if node.History.State.Type == metadata.NonExisting {
				continue
			}
			node.Hint = metadata.HintRemoved
			head := node.History
			newState := metadata.PathState{Type: metadata.NonExisting}
			if node.Policy == metadata.PolicyTrack {
				node.History = &metadata.PathHistoryPoint{
					Backup: m.CurrentBackup,
					State:  newState,
					Next:   head,
				}
			} else {
				head.Backup = m.CurrentBackup
				head.State = newState
			}
		}
	}

	// Spec §4.4 step 5: a policy_none node whose remaining descendants have
	// all collapsed to not_part_of_repository collapses itself too. Since
	// RecordEndOfDirectory always closes a child directory before its
	// parent's, this check only ever needs to look one level up at a time;
	// the parent's own handleNotFoundSubnodes call will observe the result
	// and continue the cascade further up.
	if entry.node != nil && entry.node.Policy == metadata.PolicyNone && allSubnodesNotPartOfRepository(*entry.children) {
		markSubtreeNotPartOfRepository(m, entry.node, entry.path)
	}

	return nil
}

// allSubnodesNotPartOfRepository reports whether nodes is non-empty and every
// entry has already collapsed to not_part_of_repository.
func allSubnodesNotPartOfRepository(nodes []*metadata.PathNode) bool {
	if len(nodes) == 0 {
		return false
	}
	for _, n := range nodes {
		if !n.NotPartOfRepository() {
			return false
		}
	}
	return true
}

// markSubtreeNotPartOfRepository flags node and every descendant, and
// removes them from Metadata.PathTable so a later lookup cannot resurrect a
// stale reference (spec §4.4 point 5, §6.1 write-time omission).
func markSubtreeNotPartOfRepository(m *metadata.Metadata, node *metadata.PathNode, fullPath string) {
	node.MarkNotPartOfRepository()
	delete(m.PathTable, fullPath)
	for _, child := range node.Subnodes {
		markSubtreeNotPartOfRepository(m, child, pathbuf.Join(fullPath, child.Name))
	}
}
