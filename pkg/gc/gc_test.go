package gc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AlxHnr/nano-backup-go/internal/filehash"
	"github.com/AlxHnr/nano-backup-go/pkg/metadata"
	"github.com/AlxHnr/nano-backup-go/pkg/repository"
)

func addressWithLabel(label string, size uint64, slot uint8) repository.Address {
	var hash filehash.Hash
	copy(hash[:], []byte(label))
	return repository.Address{Hash: hash, Size: size, Slot: slot}
}

func TestParseFilenameRoundTrip(t *testing.T) {
	addr := addressWithLabel("abc-label", 1234, 7)

	hexHash := ""
	for _, b := range addr.Hash {
		hexHash += hexByte(b)
	}
	name := hexHash + "x4d2x7"

	got, ok := parseFilename(name)
	if !ok {
		t.Fatalf("parseFilename(%q) failed to parse", name)
	}
	if got != addr {
		t.Errorf("parseFilename(%q) = %+v, want %+v", name, got, addr)
	}
}

func hexByte(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0xf]})
}

func TestParseFilenameRejectsMalformed(t *testing.T) {
	cases := []string{
		"toofewxparts",
		"",
		"abcdx10x1",                                  // hash too short
		"0123456789012345678901234567890123456789xZZx1", // non-hex size
		"0123456789012345678901234567890123456789x1xZZ", // non-hex slot
	}
	for _, name := range cases {
		if _, ok := parseFilename(name); ok {
			t.Errorf("parseFilename(%q) unexpectedly succeeded", name)
		}
	}
}

func TestLiveAddressesSkipsInlineAndNotPartOfRepository(t *testing.T) {
	liveAddr := addressWithLabel("live", 30, 0)
	inlineAddr := addressWithLabel("inline-but-tiny", 5, 0)
	hiddenAddr := addressWithLabel("hidden", 40, 2)
	configAddr := addressWithLabel("config", 99, 1)

	m := metadata.New()
	liveNode := &metadata.PathNode{
		Name: "live.bin", Policy: metadata.PolicyCopy,
		History: &metadata.PathHistoryPoint{Backup: m.CurrentBackup, State: metadata.PathState{
			Type: metadata.RegularFile, Size: liveAddr.Size, Hash: liveAddr.Hash, Slot: liveAddr.Slot,
		}},
	}
	inlineNode := &metadata.PathNode{
		Name: "tiny.bin", Policy: metadata.PolicyCopy,
		History: &metadata.PathHistoryPoint{Backup: m.CurrentBackup, State: metadata.PathState{
			Type: metadata.RegularFile, Size: inlineAddr.Size, Hash: inlineAddr.Hash, Slot: inlineAddr.Slot,
		}},
	}
	hiddenNode := &metadata.PathNode{
		Name: "hidden.bin", Policy: metadata.PolicyCopy,
		History: &metadata.PathHistoryPoint{Backup: m.CurrentBackup, State: metadata.PathState{
			Type: metadata.RegularFile, Size: hiddenAddr.Size, Hash: hiddenAddr.Hash, Slot: hiddenAddr.Slot,
		}},
	}
	hiddenNode.MarkNotPartOfRepository()

	m.Paths = []*metadata.PathNode{liveNode, inlineNode, hiddenNode}
	m.ConfigHistory = &metadata.PathHistoryPoint{Backup: m.CurrentBackup, State: metadata.PathState{
		Type: metadata.RegularFile, Size: configAddr.Size, Hash: configAddr.Hash, Slot: configAddr.Slot,
	}}

	live := liveAddresses(m)

	if !live[liveAddr] {
		t.Error("liveAddr should be live")
	}
	if !live[configAddr] {
		t.Error("configAddr should be live")
	}
	if live[inlineAddr] {
		t.Error("an inline-stored state should not produce a live address")
	}
	if live[hiddenAddr] {
		t.Error("a not-part-of-repository node should not contribute a live address")
	}
	if len(live) != 2 {
		t.Errorf("len(live) = %d, want 2", len(live))
	}
}

func writeStoredFile(t *testing.T, repo *repository.Repository, addr repository.Address, content []byte) {
	t.Helper()
	w, err := repo.OpenWriter(addr)
	if err != nil {
		t.Fatalf("OpenWriter failed: %v", err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestRunDeletesUnreferencedFiles(t *testing.T) {
	repo, err := repository.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("repository.Open failed: %v", err)
	}
	defer repo.Close()

	liveAddr := addressWithLabel("keep-me", 25, 0)
	deadAddr := addressWithLabel("delete-me", 30, 0)
	liveContent := make([]byte, 25)
	deadContent := make([]byte, 30)
	writeStoredFile(t, repo, liveAddr, liveContent)
	writeStoredFile(t, repo, deadAddr, deadContent)

	m := metadata.New()
	m.Paths = []*metadata.PathNode{{
		Name: "kept.bin", Policy: metadata.PolicyCopy,
		History: &metadata.PathHistoryPoint{Backup: m.CurrentBackup, State: metadata.PathState{
			Type: metadata.RegularFile, Size: liveAddr.Size, Hash: liveAddr.Hash, Slot: liveAddr.Slot,
		}},
	}}

	report, err := Run(repo, m, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.DeletedCount != 1 {
		t.Errorf("DeletedCount = %d, want 1", report.DeletedCount)
	}
	if report.DeletedBytes != uint64(len(deadContent)) {
		t.Errorf("DeletedBytes = %d, want %d", report.DeletedBytes, len(deadContent))
	}
	if repo.Exists(deadAddr) {
		t.Error("deadAddr should have been deleted")
	}
	if !repo.Exists(liveAddr) {
		t.Error("liveAddr should still exist")
	}
}

// TestRunPrunesEmptyFanOutDirectories covers spec §4.7: once the last file
// in a <xx>/<yy> fan-out directory is deleted, that directory (and its now-
// empty <xx> parent, if it too has nothing left) must be removed as well.
func TestRunPrunesEmptyFanOutDirectories(t *testing.T) {
	repo, err := repository.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("repository.Open failed: %v", err)
	}
	defer repo.Close()

	deadAddr := addressWithLabel("delete-me-entirely", 30, 0)
	writeStoredFile(t, repo, deadAddr, make([]byte, 30))

	filename := func(a repository.Address) string {
		hexHash := ""
		for _, b := range a.Hash {
			hexHash += hexByte(b)
		}
		return hexHash[:2]
	}
	xx := filename(deadAddr)
	xxPath := filepath.Join(repo.Root(), xx)
	if _, err := os.Stat(xxPath); err != nil {
		t.Fatalf("expected fan-out directory %s to exist before Run: %v", xxPath, err)
	}

	report, err := Run(repo, metadata.New(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.DeletedCount != 1 {
		t.Errorf("DeletedCount = %d, want 1", report.DeletedCount)
	}
	if repo.Exists(deadAddr) {
		t.Error("deadAddr should have been deleted")
	}
	if _, err := os.Stat(xxPath); !os.IsNotExist(err) {
		t.Errorf("expected emptied fan-out directory %s to be removed, stat err = %v", xxPath, err)
	}
}

func TestRunLeavesUnrecognisedFilesAlone(t *testing.T) {
	repo, err := repository.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("repository.Open failed: %v", err)
	}
	defer repo.Close()

	junkDir := filepath.Join(repo.Root(), "zz", "zz")
	if err := os.MkdirAll(junkDir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	junkPath := filepath.Join(junkDir, "not-an-address")
	if err := os.WriteFile(junkPath, []byte("junk"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	report, err := Run(repo, metadata.New(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.DeletedCount != 0 {
		t.Errorf("DeletedCount = %d, want 0", report.DeletedCount)
	}
	if _, err := os.Stat(junkPath); err != nil {
		t.Errorf("unrecognised file was removed: %v", err)
	}
}
