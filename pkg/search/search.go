// Package search implements the lazy filesystem search iterator (C8, spec
// §4.3): a stack-of-frames traversal driven by a policy.SearchNode tree,
// emitting match/end-of-directory/end-of-search records. It is grounded on
// mutagen/pkg/synchronization/core/scan.go's directory-recursion walk,
// reworked from scan.go's native-recursive-call traversal into the
// explicit-stack form spec §9's Design Notes calls for ("an implementer
// should consider an explicit work stack to avoid native stack overflow").
package search

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"golang.org/x/text/unicode/norm"

	"github.com/AlxHnr/nano-backup-go/internal/fsutil"
	"github.com/AlxHnr/nano-backup-go/internal/pathbuf"
	"github.com/AlxHnr/nano-backup-go/pkg/logging"
	"github.com/AlxHnr/nano-backup-go/pkg/metadata"
	"github.com/AlxHnr/nano-backup-go/pkg/policy"
)

// RecordType discriminates the kinds of record the iterator emits.
type RecordType uint8

const (
	// RecordMatch carries one matched (or fallback-matched) filesystem
	// entry.
	RecordMatch RecordType = iota
	// RecordEndOfDirectory marks a recursion boundary (spec §4.3).
	RecordEndOfDirectory
	// RecordEndOfSearch terminates the sequence.
	RecordEndOfSearch
)

// Stat carries the subset of entry metadata the backup pipeline needs.
type Stat struct {
	Type    metadata.PathStateType
	UID     uint32
	GID     uint32
	Mode    uint32
	ModTime int64
	Size    uint64
	Target  string // populated only when Type == Symlink
}

// Record is one emission from the iterator (spec §4.3).
type Record struct {
	Type   RecordType
	Path   string
	Node   *policy.SearchNode
	Policy metadata.BackupPolicy
	Stat   Stat
}

type frameKind uint8

const (
	frameDirectAccess frameKind = iota
	frameDirectorySearch
)

// frame is one entry on the iterator's explicit recursion stack (spec §4.3).
// recordPath is the root-relative path that was emitted for the entry which
// caused this frame to be pushed ("" for the root frame, matching spec
// §4.3's "root is treated specially so that emitted absolute paths do not
// start with //").
type frame struct {
	kind       frameKind
	fsPath     string
	recordPath string
	node       *policy.SearchNode

	fallbackPolicy metadata.BackupPolicy
	ignore         *policy.IgnoreList

	children   []*policy.SearchNode
	childIndex int

	entries    []fsutil.DirectoryEntry
	entryIndex int
}

// Iterator performs the lazy traversal described by spec §4.3.
type Iterator struct {
	stack []*frame
	done  bool
}

// New creates an iterator rooted at root, whose tree governs the live
// filesystem directory at basePath.
func New(root *policy.SearchNode, basePath string, logger *logging.Logger) (*Iterator, error) {
	f, err := newFrame(root, basePath, "", metadata.PolicyNone)
	if err != nil {
		return nil, err
	}
	return &Iterator{stack: []*frame{f}}, nil
}

// chooseFrameKind implements spec §4.3's frame-type rule: a direct-access
// frame is used when node is non-nil, its policy is none, and its subnodes
// contain no regex; otherwise a directory-search frame reads the real
// directory.
func chooseFrameKind(node *policy.SearchNode) frameKind {
	if node != nil && node.Policy == metadata.PolicyNone && !node.SubnodesContainRegex {
		return frameDirectAccess
	}
	return frameDirectorySearch
}

func newFrame(node *policy.SearchNode, fsPath, recordPath string, fallbackPolicy metadata.BackupPolicy) (*frame, error) {
	var ignore *policy.IgnoreList
	if node != nil {
		ignore = node.IgnoreExpressions
	}
	f := &frame{fsPath: fsPath, recordPath: recordPath, node: node, fallbackPolicy: fallbackPolicy, ignore: ignore}
	f.kind = chooseFrameKind(node)
	if f.kind == frameDirectAccess {
		f.children = node.Subnodes
		return f, nil
	}
	entries, err := fsutil.ReadDirSorted(fsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read directory %s: %w", fsPath, err)
	}
	f.entries = entries
	return f, nil
}

// newContinuationFrame builds the frame pushed when recursing into a
// directory whose matching node is known (possibly nil for a pure-fallback
// continuation, which carries the parent frame's ignore list forward since
// it has no node of its own to own one).
func newContinuationFrame(node *policy.SearchNode, fsPath, recordPath string, fallbackPolicy metadata.BackupPolicy, inheritedIgnore *policy.IgnoreList) (*frame, error) {
	f, err := newFrame(node, fsPath, recordPath, fallbackPolicy)
	if err != nil {
		return nil, err
	}
	if node == nil {
		f.ignore = inheritedIgnore
	}
	return f, nil
}

func statFor(info fs.FileInfo, fsPath string) (Stat, error) {
	mode := info.Mode()
	s := Stat{
		Mode:    uint32(mode.Perm()),
		ModTime: info.ModTime().Unix(),
	}
	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		s.UID, s.GID = sys.Uid, sys.Gid
	}
	switch {
	case mode&fs.ModeSymlink != 0:
		s.Type = metadata.Symlink
		target, err := fsutil.Readlink(fsPath)
		if err != nil {
			return Stat{}, err
		}
		s.Target = target
		s.Size = uint64(len(target))
	case mode.IsDir():
		s.Type = metadata.Directory
	case mode.IsRegular():
		s.Type = metadata.RegularFile
		s.Size = uint64(info.Size())
	default:
		s.Type = metadata.Other
	}
	return s, nil
}

// matchAgainst implements spec §4.3 step 1: evaluate every candidate
// subnode against entryName; two or more matches is an ambiguity error.
func matchAgainst(candidates []*policy.SearchNode, entryName string) (*policy.SearchNode, error) {
	var matched *policy.SearchNode
	ambiguous := false
	for _, c := range candidates {
		if c.Match(entryName) {
			if matched != nil {
				ambiguous = true
			} else {
				matched = c
			}
		}
	}
	if ambiguous {
		return nil, fmt.Errorf("ambiguous rules for path %q", entryName)
	}
	return matched, nil
}

// nextEntry pulls the next (name, info, candidates) triple out of the top
// frame, or reports that the frame is exhausted.
func nextEntry(f *frame) (name string, info fs.FileInfo, candidates []*policy.SearchNode, ok bool, err error) {
	switch f.kind {
	case frameDirectAccess:
		for f.childIndex < len(f.children) {
			child := f.childIndex
			f.childIndex++
			node := f.children[child]
			fsPath := pathbuf.Join(f.fsPath, node.Name)
			info, err = fsutil.Lstat(fsPath)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					// The node was selected explicitly but no longer exists
					// on disk; skip it so it surfaces as "not visited" to
					// handleNotFoundSubnodes instead of aborting the walk.
					continue
				}
				return "", nil, nil, false, err
			}
			return node.Name, info, f.children, true, nil
		}
		return "", nil, nil, false, nil
	default:
		if f.entryIndex >= len(f.entries) {
			return "", nil, nil, false, nil
		}
		entry := f.entries[f.entryIndex]
		f.entryIndex++
		name = norm.NFC.String(entry.Name)
		fsPath := pathbuf.Join(f.fsPath, entry.Name)
		info, err = fsutil.Lstat(fsPath)
		if err != nil {
			return "", nil, nil, false, err
		}
		return name, info, childrenOf(f.node), true, nil
	}
}

func childrenOf(node *policy.SearchNode) []*policy.SearchNode {
	if node == nil {
		return nil
	}
	return node.Subnodes
}

// Next advances the iterator, returning the next record. After a
// RecordEndOfSearch record, further calls return an error.
func (it *Iterator) Next() (Record, error) {
	for {
		if len(it.stack) == 0 {
			if it.done {
				return Record{}, fmt.Errorf("search: iterator exhausted")
			}
			it.done = true
			return Record{Type: RecordEndOfSearch}, nil
		}

		top := it.stack[len(it.stack)-1]

		name, info, candidates, ok, err := nextEntry(top)
		if err != nil {
			return Record{}, err
		}
		if !ok {
			it.stack = it.stack[:len(it.stack)-1]
			return Record{Type: RecordEndOfDirectory, Path: top.recordPath}, nil
		}

		fsPath := pathbuf.Join(top.fsPath, name)
		recordPath := pathbuf.Join(top.recordPath, name)

		matched, err := matchAgainst(candidates, name)
		if err != nil {
			return Record{}, err
		}

		stat, err := statFor(info, fsPath)
		if err != nil {
			return Record{}, err
		}

		if matched != nil {
			matched.SearchMatch |= policy.ObservedTypeFor(stat.Type)
			record := Record{Type: RecordMatch, Path: recordPath, Node: matched, Policy: matched.Policy, Stat: stat}
			if stat.Type == metadata.Directory {
				child, err := newContinuationFrame(matched, fsPath, recordPath, matched.Policy, top.ignore)
				if err != nil {
					return Record{}, err
				}
				it.stack = append(it.stack, child)
			}
			return record, nil
		}

		if top.fallbackPolicy == metadata.PolicyNone {
			continue
		}

		if top.ignore != nil && top.ignore.Matches(recordPath) {
			continue
		}

		record := Record{Type: RecordMatch, Path: recordPath, Node: nil, Policy: top.fallbackPolicy, Stat: stat}
		if stat.Type == metadata.Directory {
			child, err := newContinuationFrame(nil, fsPath, recordPath, top.fallbackPolicy, top.ignore)
			if err != nil {
				return Record{}, err
			}
			it.stack = append(it.stack, child)
		}
		return record, nil
	}
}
