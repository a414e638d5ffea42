package metadata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/AlxHnr/nano-backup-go/internal/filehash"
	"github.com/AlxHnr/nano-backup-go/internal/pathbuf"
)

// The on-disk format is little-endian normalised (spec §4.6, §6.1): every
// multi-byte integer is written and read via encoding/binary.LittleEndian
// regardless of host byte order. This sidesteps the union-aliased u32
// endianness-detection trick the source uses at startup (spec §9 Open
// Questions) — encoding/binary's fixed-endianness codecs already guarantee
// identical bytes on every host, which is the actual property spec §9
// requires ("correct behaviour on both little- and big-endian hosts, not a
// specific detection mechanism").

func writeU64(w *bytes.Buffer, v uint64) { binary.Write(w, binary.LittleEndian, v) }
func writeI64(w *bytes.Buffer, v int64)  { binary.Write(w, binary.LittleEndian, v) }
func writeU32(w *bytes.Buffer, v uint32) { binary.Write(w, binary.LittleEndian, v) }
func writeU8(w *bytes.Buffer, v uint8)   { w.WriteByte(v) }

func writeString(w *bytes.Buffer, s string) {
	writeU64(w, uint64(len(s)))
	w.WriteString(s)
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) remaining() int { return len(r.data) - r.pos }

func (r *byteReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("unable to read %d bytes: %w", n, io.ErrUnexpectedEOF)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *byteReader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) u8() (uint8, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) str() (string, error) {
	length, err := r.u64()
	if err != nil {
		return "", err
	}
	if length > (1 << 32) {
		return "", fmt.Errorf("unreasonable string length %d: corrupted metadata", length)
	}
	b, err := r.bytes(int(length))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// renumbering collects surviving (ref_count > 0) backups and assigns them
// dense ascending ids, with the current backup (if referenced) receiving
// the last id, per spec §6.1a "current backup gets the last id after
// renumbering".
type renumbering struct {
	ids            map[*Backup]uint64
	historical     []*Backup
	currentPresent bool
}

// recomputeRefCounts walks the entire tree (config history plus every path's
// history) and recomputes each Backup's RefCount from the actual surviving
// points, rather than trusting incremental bookkeeping — this directly
// satisfies the §8 invariant "every stored ref_count equals the number of
// surviving history points pointing at it" even if some upstream mutation
// forgot to adjust a count.
func (m *Metadata) recomputeRefCounts() map[*Backup]uint64 {
	counts := make(map[*Backup]uint64)
	walk := func(point *PathHistoryPoint) {
		for p := point; p != nil; p = p.Next {
			counts[p.Backup]++
		}
	}
	walk(m.ConfigHistory)
	var visit func(nodes []*PathNode)
	visit = func(nodes []*PathNode) {
		for _, n := range nodes {
			if n.notPartOfRepository {
				continue
			}
			walk(n.History)
			visit(n.Subnodes)
		}
	}
	visit(m.Paths)
	return counts
}

func (m *Metadata) buildRenumbering() renumbering {
	counts := m.recomputeRefCounts()

	historical := make([]*Backup, 0, len(m.BackupHistory))
	for _, b := range m.BackupHistory {
		b.RefCount = counts[b]
		if counts[b] > 0 {
			historical = append(historical, b)
		}
	}
	sort.Slice(historical, func(i, j int) bool { return historical[i].ID < historical[j].ID })

	ids := make(map[*Backup]uint64, len(historical)+1)
	for i, b := range historical {
		ids[b] = uint64(i)
	}

	r := renumbering{ids: ids, historical: historical}
	if m.CurrentBackup != nil && counts[m.CurrentBackup] > 0 {
		r.currentPresent = true
		ids[m.CurrentBackup] = uint64(len(historical))
	}
	return r
}

func encodeHistory(w *bytes.Buffer, ids map[*Backup]uint64, head *PathHistoryPoint) {
	var points []*PathHistoryPoint
	for p := head; p != nil; p = p.Next {
		if _, ok := ids[p.Backup]; ok {
			points = append(points, p)
		}
	}
	writeU64(w, uint64(len(points)))
	for _, p := range points {
		writeU64(w, ids[p.Backup])
		writeU8(w, uint8(p.State.Type))
		if p.State.Type == NonExisting {
			continue
		}
		writeU32(w, p.State.UID)
		writeU32(w, p.State.GID)
		switch p.State.Type {
		case RegularFile:
			writeU32(w, p.State.Mode)
			writeI64(w, p.State.ModTime)
			writeU64(w, p.State.Size)
			if p.State.Size > InlineThreshold {
				w.Write(p.State.Hash[:])
				writeU8(w, p.State.Slot)
			} else if p.State.Size > 0 {
				w.Write(p.State.Hash[:p.State.Size])
			}
		case Symlink:
			writeString(w, p.State.Target)
		case Directory:
			writeU32(w, p.State.Mode)
			writeI64(w, p.State.ModTime)
		}
	}
}

func decodeHistory(r *byteReader, backups map[uint64]*Backup) (*PathHistoryPoint, error) {
	length, err := r.u64()
	if err != nil {
		return nil, err
	}
	var head, tail *PathHistoryPoint
	for i := uint64(0); i < length; i++ {
		backupID, err := r.u64()
		if err != nil {
			return nil, err
		}
		backup, ok := backups[backupID]
		if !ok {
			return nil, fmt.Errorf("corrupted metadata: out-of-range backup id %d", backupID)
		}
		stateTypeRaw, err := r.u8()
		if err != nil {
			return nil, err
		}
		if stateTypeRaw > uint8(Other) {
			return nil, fmt.Errorf("corrupted metadata: bad state type tag %d", stateTypeRaw)
		}
		state := PathState{Type: PathStateType(stateTypeRaw)}
		if state.Type != NonExisting {
			if state.UID, err = r.u32(); err != nil {
				return nil, err
			}
			if state.GID, err = r.u32(); err != nil {
				return nil, err
			}
		}
		switch state.Type {
		case RegularFile:
			if state.Mode, err = r.u32(); err != nil {
				return nil, err
			}
			if state.ModTime, err = r.i64(); err != nil {
				return nil, err
			}
			if state.Size, err = r.u64(); err != nil {
				return nil, err
			}
			if state.Size > InlineThreshold {
				hashBytes, err := r.bytes(filehash.Size)
				if err != nil {
					return nil, err
				}
				copy(state.Hash[:], hashBytes)
				if state.Slot, err = r.u8(); err != nil {
					return nil, err
				}
			} else if state.Size > 0 {
				content, err := r.bytes(int(state.Size))
				if err != nil {
					return nil, err
				}
				copy(state.Hash[:], content)
			}
		case Symlink:
			if state.Target, err = r.str(); err != nil {
				return nil, err
			}
		case Directory:
			if state.Mode, err = r.u32(); err != nil {
				return nil, err
			}
			if state.ModTime, err = r.i64(); err != nil {
				return nil, err
			}
		}
		point := &PathHistoryPoint{Backup: backup, State: state}
		backup.RefCount++
		if head == nil {
			head = point
		} else {
			tail.Next = point
		}
		tail = point
	}
	return head, nil
}

func encodePathList(w *bytes.Buffer, ids map[*Backup]uint64, nodes []*PathNode) {
	var kept []*PathNode
	for _, n := range nodes {
		if !n.notPartOfRepository {
			kept = append(kept, n)
		}
	}
	writeU64(w, uint64(len(kept)))
	for _, n := range kept {
		writeString(w, n.Name)
		writeU8(w, uint8(n.Policy))
		encodeHistory(w, ids, n.History)
		encodePathList(w, ids, n.Subnodes)
	}
}

func decodePathList(r *byteReader, backups map[uint64]*Backup) ([]*PathNode, error) {
	count, err := r.u64()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	nodes := make([]*PathNode, count)
	for i := range nodes {
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		if !pathbuf.ValidName(name) {
			return nil, fmt.Errorf("corrupted metadata: invalid path element %q", name)
		}
		policyRaw, err := r.u8()
		if err != nil {
			return nil, err
		}
		if policyRaw > uint8(PolicyIgnore) {
			return nil, fmt.Errorf("corrupted metadata: invalid policy tag %d", policyRaw)
		}
		history, err := decodeHistory(r, backups)
		if err != nil {
			return nil, err
		}
		if history == nil {
			return nil, fmt.Errorf("corrupted metadata: node %q has empty history", name)
		}
		subnodes, err := decodePathList(r, backups)
		if err != nil {
			return nil, err
		}
		nodes[i] = &PathNode{
			Name:     name,
			Policy:   BackupPolicy(policyRaw),
			History:  history,
			Subnodes: subnodes,
		}
	}
	return nodes, nil
}

// MarshalBinary serialises the metadata per spec §6.1, first renumbering
// backups densely and dropping any whose recomputed ref_count is zero
// (spec §3 "Lifecycle & ownership", §4.6).
func (m *Metadata) MarshalBinary() ([]byte, error) {
	ren := m.buildRenumbering()

	var buf bytes.Buffer
	writeU64(&buf, uint64(len(ren.historical)))
	// A single presence byte disambiguates the conditional
	// current_completion_time field (spec §6.1 field 2): the format is
	// single-pass and sequential, so some discriminator is required for a
	// reader to know whether the field was written; spec §6.1 itself does
	// not specify the discriminator's encoding, only that the field is
	// conditional, so this resolves that gap the same way the endianness
	// question in §9 is resolved — pick the simplest mechanism that
	// satisfies the stated behaviour.
	if ren.currentPresent {
		writeU8(&buf, 1)
		writeI64(&buf, m.CurrentBackup.CompletionTime)
	} else {
		writeU8(&buf, 0)
	}
	for _, b := range ren.historical {
		writeI64(&buf, b.CompletionTime)
	}
	encodeHistory(&buf, ren.ids, m.ConfigHistory)
	writeU64(&buf, m.TotalPathCount)
	encodePathList(&buf, ren.ids, m.Paths)

	// Apply the renumbering to the in-memory model so that it matches what
	// was just written (spec §8 round-trip law: write . load is identity
	// modulo dense renumbering, which this makes true of the in-memory
	// state too).
	for _, b := range ren.historical {
		b.ID = ren.ids[b]
	}
	if ren.currentPresent {
		m.CurrentBackup.ID = ren.ids[m.CurrentBackup]
	}
	m.BackupHistory = ren.historical

	return buf.Bytes(), nil
}

// Unmarshal decodes a metadata file per spec §6.1. A stray trailing byte at
// EOF is fatal (spec §4.6).
func Unmarshal(data []byte) (*Metadata, error) {
	r := &byteReader{data: data}

	backupCount, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("unable to read backup count: %w", err)
	}

	// A current backup is present iff it had a nonzero ref_count when
	// written. MarshalBinary records that as a one-byte presence marker,
	// followed by the completion time only when the marker is nonzero.
	hasCurrent, err := r.u8()
	if err != nil {
		return nil, fmt.Errorf("unable to read current-backup marker: %w", err)
	}
	var currentCompletionTime int64
	if hasCurrent != 0 {
		if currentCompletionTime, err = r.i64(); err != nil {
			return nil, fmt.Errorf("unable to read current completion time: %w", err)
		}
	}

	backups := make(map[uint64]*Backup, backupCount+1)
	history := make([]*Backup, backupCount)
	for i := uint64(0); i < backupCount; i++ {
		completionTime, err := r.i64()
		if err != nil {
			return nil, fmt.Errorf("unable to read completion time %d: %w", i, err)
		}
		b := &Backup{ID: i, CompletionTime: completionTime}
		history[i] = b
		backups[i] = b
	}

	var current *Backup
	if hasCurrent != 0 {
		current = &Backup{ID: backupCount, CompletionTime: currentCompletionTime}
		backups[backupCount] = current
	} else {
		current = &Backup{ID: backupCount}
	}

	configHistory, err := decodeHistory(r, backups)
	if err != nil {
		return nil, fmt.Errorf("unable to read config history: %w", err)
	}

	totalPathCount, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("unable to read total path count: %w", err)
	}

	paths, err := decodePathList(r, backups)
	if err != nil {
		return nil, fmt.Errorf("unable to read path list: %w", err)
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("corrupted metadata: %d stray trailing bytes", r.remaining())
	}

	m := &Metadata{
		CurrentBackup:  current,
		BackupHistory:  history,
		ConfigHistory:  configHistory,
		TotalPathCount: totalPathCount,
		Paths:          paths,
		PathTable:      make(map[string]*PathNode),
	}
	rebuildPathTable(m)
	return m, nil
}

func rebuildPathTable(m *Metadata) {
	var visit func(prefix string, nodes []*PathNode)
	visit = func(prefix string, nodes []*PathNode) {
		for _, n := range nodes {
			full := pathbuf.Join(prefix, n.Name)
			m.PathTable[full] = n
			visit(full, n.Subnodes)
		}
	}
	visit("", m.Paths)
}
