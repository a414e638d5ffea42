package metadata

import (
	"testing"

	"github.com/AlxHnr/nano-backup-go/pkg/repository"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	repo, err := repository.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("repository.Open failed: %v", err)
	}
	defer repo.Close()

	m := buildSampleMetadata()
	if err := Save(m, repo); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(repo)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.TotalPathCount != m.TotalPathCount {
		t.Errorf("TotalPathCount = %d, want %d", loaded.TotalPathCount, m.TotalPathCount)
	}
	if len(loaded.Paths) != len(m.Paths) {
		t.Errorf("got %d root paths, want %d", len(loaded.Paths), len(m.Paths))
	}
}

func TestLoadMissingFileReturnsFreshMetadata(t *testing.T) {
	repo, err := repository.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("repository.Open failed: %v", err)
	}
	defer repo.Close()

	loaded, err := Load(repo)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.CurrentBackup == nil || loaded.CurrentBackup.ID != 0 {
		t.Fatal("Load on a missing file did not return a fresh Metadata")
	}
	if len(loaded.Paths) != 0 {
		t.Fatal("Load on a missing file returned non-empty Paths")
	}
}
