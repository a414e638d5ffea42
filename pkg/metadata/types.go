// Package metadata implements the in-memory path tree, per-path histories,
// reference-counted backup points, and the on-disk codec (C6, spec §3,
// §4.6, §6.1). It is grounded on the invariant-checking and tree-shape
// conventions of mutagen/pkg/synchronization/core (entry.go's EnsureValid,
// cache.go's EnsureValid/Equal, archive.go's load/save wrapper), adapted
// from mutagen's bidirectional synchronization entry tree to this engine's
// append-only, backup-indexed path history tree. Where the source used a
// sibling-linked list for subnodes (spec §3's PathNode.next), this package
// uses a Go slice — the idiomatic substitute for an intrusive linked list,
// with identical ordering and traversal semantics.
package metadata

import "github.com/AlxHnr/nano-backup-go/internal/filehash"

// BackupPolicy selects how a path is tracked across backups (spec §3).
type BackupPolicy uint8

const (
	// PolicyNone means the path is used for selection only; nothing about
	// it is persisted beyond the current run.
	PolicyNone BackupPolicy = iota
	// PolicyCopy stores only the latest content; no history is kept.
	PolicyCopy
	// PolicyMirror stores only the latest content; removed files disappear
	// entirely from the backup.
	PolicyMirror
	// PolicyTrack stores the full history of every observed state.
	PolicyTrack
	// PolicyIgnore is used only as an ignore-list discriminator during
	// config parsing; it is never assigned to a PathNode.
	PolicyIgnore
)

// String renders the policy the way it appears in config files (spec §4.2).
func (p BackupPolicy) String() string {
	switch p {
	case PolicyNone:
		return "none"
	case PolicyCopy:
		return "copy"
	case PolicyMirror:
		return "mirror"
	case PolicyTrack:
		return "track"
	case PolicyIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// PathStateType enumerates the kinds of filesystem object a PathState can
// describe (spec §3).
type PathStateType uint8

const (
	NonExisting PathStateType = iota
	RegularFile
	Symlink
	Directory
	Other
)

// InlineThreshold is the largest regular_file size stored directly in the
// state's Hash field rather than in the repository (spec §3, GLOSSARY
// "Inline storage").
const InlineThreshold = filehash.Size

// PathState is one observed state of a path: a variant payload discriminated
// by Type (spec §3). Only the fields relevant to Type are meaningful.
type PathState struct {
	Type PathStateType

	UID uint32
	GID uint32

	// regular_file
	Mode    uint32
	ModTime int64
	Size    uint64
	// Hash doubles as inline storage: if Size <= InlineThreshold, the first
	// Size bytes hold the literal file content and Slot is undefined; if
	// Size > InlineThreshold, Hash holds BLAKE2b-20 and Slot disambiguates
	// collisions.
	Hash filehash.Hash
	Slot uint8

	// symlink
	Target string

	// directory reuses Mode and ModTime above.
}

// InlineContent returns the state's inline-stored bytes. Only valid when
// Type is RegularFile and Size <= InlineThreshold.
func (s *PathState) InlineContent() []byte {
	return s.Hash[:s.Size]
}

// Backup is one backup point: a completed run (or the in-progress current
// run) with a reference count tracking how many PathHistory points cite it
// (spec §3). RefCount is advisory during a run — pkg/backup builds
// PathHistory links without maintaining it incrementally — and is made
// authoritative by MarshalBinary/Unmarshal, which always recompute it from
// the actual surviving tree before it is trusted (spec §8's ref_count
// invariant is therefore enforced at the codec boundary rather than by
// scattered increment/decrement bookkeeping during initiation).
type Backup struct {
	ID             uint64
	CompletionTime int64
	RefCount       uint64
}

// PathHistoryPoint binds one PathState to one Backup, in a singly-linked
// list ordered newest first: current-backup first, then descending backup id
// (spec §3).
type PathHistoryPoint struct {
	Backup *Backup
	State  PathState
	Next   *PathHistoryPoint
}

// BackupHint is a bitset recording what the pipeline decided about a node
// during a run (spec §3, GLOSSARY "Hint").
type BackupHint uint32

const (
	HintAdded BackupHint = 1 << iota
	HintRemoved
	HintOwnerChanged
	HintPermissionsChanged
	HintTimestampChanged
	HintContentChanged
	HintFreshHash
	HintNotPartOfRepository
	HintPolicyChanged
	HintLosesHistory

	// Type-transition codes: every ordered pair among the four extant
	// PathStateTypes (regular_file, symlink, directory, other). Transitions
	// into or out of non_existing are represented by HintAdded/HintRemoved
	// instead, matching spec §3's distinction between the plain hints and
	// "nine type-transition codes".
	HintRegularToSymlink
	HintRegularToDirectory
	HintRegularToOther
	HintSymlinkToRegular
	HintSymlinkToDirectory
	HintSymlinkToOther
	HintDirectoryToRegular
	HintDirectoryToSymlink
	HintDirectoryToOther
	HintOtherToRegular
	HintOtherToSymlink
	HintOtherToDirectory
)

// primaryHintMask covers the non-transition bits.
const primaryHintMask = HintAdded | HintRemoved | HintOwnerChanged |
	HintPermissionsChanged | HintTimestampChanged | HintContentChanged |
	HintFreshHash | HintNotPartOfRepository | HintPolicyChanged | HintLosesHistory

// Primary masks out the type-transition bits, yielding the primary hint
// (spec §3: "a helper masks out the higher meta bits to yield the primary
// hint").
func (h BackupHint) Primary() BackupHint {
	return h & primaryHintMask
}

// TransitionHint returns the bit describing a type change from 'from' to
// 'to', or 0 if either endpoint is non_existing (those are Added/Removed,
// not transitions). Used by pkg/backup when comparing a node's old and new
// observed state.
func TransitionHint(from, to PathStateType) BackupHint {
	switch {
	case from == RegularFile && to == Symlink:
		return HintRegularToSymlink
	case from == RegularFile && to == Directory:
		return HintRegularToDirectory
	case from == RegularFile && to == Other:
		return HintRegularToOther
	case from == Symlink && to == RegularFile:
		return HintSymlinkToRegular
	case from == Symlink && to == Directory:
		return HintSymlinkToDirectory
	case from == Symlink && to == Other:
		return HintSymlinkToOther
	case from == Directory && to == RegularFile:
		return HintDirectoryToRegular
	case from == Directory && to == Symlink:
		return HintDirectoryToSymlink
	case from == Directory && to == Other:
		return HintDirectoryToOther
	case from == Other && to == RegularFile:
		return HintOtherToRegular
	case from == Other && to == Symlink:
		return HintOtherToSymlink
	case from == Other && to == Directory:
		return HintOtherToDirectory
	default:
		return 0
	}
}

// PathNode is one tracked path: its name (a single path component — the
// full path is implicit in tree position, per spec §6.1b), its current hint,
// its policy, its non-empty history, and its children (spec §3).
type PathNode struct {
	Name     string
	Hint     BackupHint
	Policy   BackupPolicy
	History  *PathHistoryPoint
	Subnodes []*PathNode

	// notPartOfRepository marks a node for omission from the written tree
	// (spec §4.4 point 5, §6.1 "Nodes flagged not_part_of_repository are
	// omitted from the written tree"). It mirrors HintNotPartOfRepository
	// but is tracked separately since a node's Hint is reset to zero
	// outside of an active run while this flag must survive until write.
	notPartOfRepository bool
}

// NotPartOfRepository reports whether this node is excluded from the next
// write.
func (n *PathNode) NotPartOfRepository() bool { return n.notPartOfRepository }

// MarkNotPartOfRepository flags the node for omission at the next write.
func (n *PathNode) MarkNotPartOfRepository() {
	n.notPartOfRepository = true
	n.Hint |= HintNotPartOfRepository
}

// Metadata is the root of the in-memory model (spec §3).
type Metadata struct {
	CurrentBackup  *Backup
	BackupHistory  []*Backup
	ConfigHistory  *PathHistoryPoint
	TotalPathCount uint64
	PathTable      map[string]*PathNode
	Paths          []*PathNode
}

// New creates an empty Metadata with a fresh current backup, ready to begin
// a run.
func New() *Metadata {
	return &Metadata{
		CurrentBackup: &Backup{ID: 0},
		PathTable:     make(map[string]*PathNode),
	}
}
