package metadata

import "fmt"

// Verify checks the invariants of spec §8 against the in-memory model: every
// node's history is non-empty, every referenced backup is reachable from
// BackupHistory or is the current backup, ids are consistent, and the
// path-table maps exactly the set of nodes reachable from Paths. It is
// grounded on mutagen/pkg/synchronization/core's EnsureValid methods
// (entry.go, cache.go), which perform the same kind of walk-and-check over
// an in-memory tree before it is trusted.
func (m *Metadata) Verify() error {
	validBackups := make(map[*Backup]bool, len(m.BackupHistory)+1)
	for _, b := range m.BackupHistory {
		validBackups[b] = true
	}
	if m.CurrentBackup != nil {
		validBackups[m.CurrentBackup] = true
	}

	checkHistory := func(context string, head *PathHistoryPoint, required bool) error {
		if head == nil {
			if required {
				return fmt.Errorf("%s: history is empty", context)
			}
			return nil
		}
		seenCurrent := false
		sawHistorical := false
		for p := head; p != nil; p = p.Next {
			if !validBackups[p.Backup] {
				return fmt.Errorf("%s: history point references unknown backup", context)
			}
			if p.Backup == m.CurrentBackup {
				if sawHistorical {
					return fmt.Errorf("%s: current backup point does not precede historical points", context)
				}
				seenCurrent = true
			} else {
				sawHistorical = true
			}
		}
		_ = seenCurrent
		return nil
	}

	// config_history may legitimately be empty (e.g. no backup has run yet),
	// unlike every PathNode's history, which the pipeline never leaves empty
	// once a path is tracked (spec §3).
	if err := checkHistory("config_history", m.ConfigHistory, false); err != nil {
		return err
	}

	reachable := make(map[string]*PathNode)
	var visit func(prefix string, nodes []*PathNode) error
	visit = func(prefix string, nodes []*PathNode) error {
		for _, n := range nodes {
			full := prefix + "/" + n.Name
			if prefix == "" {
				full = n.Name
			}
			if err := checkHistory(full, n.History, true); err != nil {
				return err
			}
			reachable[full] = n
			if err := visit(full, n.Subnodes); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit("", m.Paths); err != nil {
		return err
	}

	if len(reachable) != len(m.PathTable) {
		return fmt.Errorf("path table size %d does not match reachable node count %d", len(m.PathTable), len(reachable))
	}
	for path, node := range reachable {
		if m.PathTable[path] != node {
			return fmt.Errorf("path table entry for %q does not match tree", path)
		}
	}

	counts := m.recomputeRefCounts()
	for _, b := range m.BackupHistory {
		if counts[b] != b.RefCount {
			return fmt.Errorf("backup %d ref_count %d does not match %d surviving points", b.ID, b.RefCount, counts[b])
		}
	}

	return nil
}
