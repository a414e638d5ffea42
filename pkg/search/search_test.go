package search

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/AlxHnr/nano-backup-go/pkg/metadata"
	"github.com/AlxHnr/nano-backup-go/pkg/policy"
)

func drain(t *testing.T, it *Iterator) []Record {
	t.Helper()
	var records []Record
	for {
		record, err := it.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		records = append(records, record)
		if record.Type == RecordEndOfSearch {
			return records
		}
	}
}

func matchPaths(records []Record) []string {
	var paths []string
	for _, r := range records {
		if r.Type == RecordMatch {
			paths = append(paths, r.Path)
		}
	}
	sort.Strings(paths)
	return paths
}

func TestDirectAccessOnlyVisitsSelectedEntries(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"only.txt", "ignored.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("unable to write %s: %v", name, err)
		}
	}

	root, err := policy.ParseConfig([]byte("[track]\n/only.txt\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	it, err := New(root, dir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	records := drain(t, it)

	paths := matchPaths(records)
	if len(paths) != 1 || paths[0] != "only.txt" {
		t.Fatalf("matched paths = %v, want [\"only.txt\"]", paths)
	}
}

func TestSubtreeFallbackPolicyScansRealDirectory(t *testing.T) {
	dir := t.TempDir()
	subPath := filepath.Join(dir, "sub")
	nestedPath := filepath.Join(subPath, "nested")
	if err := os.MkdirAll(nestedPath, 0o755); err != nil {
		t.Fatalf("unable to create directories: %v", err)
	}
	for _, path := range []string{
		filepath.Join(subPath, "a.txt"),
		filepath.Join(subPath, "b.txt"),
		filepath.Join(nestedPath, "c.txt"),
	} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("unable to write %s: %v", path, err)
		}
	}

	root, err := policy.ParseConfig([]byte("[track]\n/sub\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	it, err := New(root, dir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	records := drain(t, it)

	paths := matchPaths(records)
	want := []string{"sub", "sub/a.txt", "sub/b.txt", "sub/nested", "sub/nested/c.txt"}
	if len(paths) != len(want) {
		t.Fatalf("matched paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("matched paths = %v, want %v", paths, want)
		}
	}

	for _, r := range records {
		if r.Type == RecordMatch && r.Path != "sub" {
			if r.Policy != metadata.PolicyTrack {
				t.Errorf("record %q has policy %v, want PolicyTrack", r.Path, r.Policy)
			}
		}
	}
}

func TestAmbiguousRegexMatchIsAnError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("unable to write file: %v", err)
	}

	root, err := policy.ParseConfig([]byte("[track]\n//.*\\.txt\n//file\\..*\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	it, err := New(root, dir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := it.Next(); err == nil {
		t.Fatal("expected an ambiguous-match error")
	}
}

func TestIteratorErrorsAfterEndOfSearch(t *testing.T) {
	dir := t.TempDir()
	root, err := policy.ParseConfig([]byte("[track]\n/a.txt\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("unable to write file: %v", err)
	}

	it, err := New(root, dir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	drain(t, it)

	if _, err := it.Next(); err == nil {
		t.Fatal("expected an error for calling Next again after RecordEndOfSearch")
	}
}

// TestDirectAccessSkipsSelectorNamingDeletedEntry covers spec §4.4 step 4's
// removal-detection path: a selector naming an entry that no longer exists
// on disk must be silently skipped by the direct-access frame rather than
// aborting the whole search, so the caller's own not-found handling can
// record the removal instead.
func TestDirectAccessSkipsSelectorNamingDeletedEntry(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "present.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("unable to write file: %v", err)
	}

	root, err := policy.ParseConfig([]byte("[track]\n/missing.txt\n[track]\n/present.txt\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	it, err := New(root, dir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	records := drain(t, it)

	paths := matchPaths(records)
	if len(paths) != 1 || paths[0] != "present.txt" {
		t.Fatalf("matched paths = %v, want [\"present.txt\"]", paths)
	}
}

func TestIgnoreListSkipsFallbackMatches(t *testing.T) {
	dir := t.TempDir()
	subPath := filepath.Join(dir, "sub")
	if err := os.MkdirAll(subPath, 0o755); err != nil {
		t.Fatalf("unable to create directory: %v", err)
	}
	for _, name := range []string{"keep.txt", "skip.tmp"} {
		if err := os.WriteFile(filepath.Join(subPath, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("unable to write %s: %v", name, err)
		}
	}

	root, err := policy.ParseConfig([]byte("[ignore]\n/.*\\.tmp$\n[track]\n/sub\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	it, err := New(root, dir, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	records := drain(t, it)

	paths := matchPaths(records)
	for _, p := range paths {
		if p == "sub/skip.tmp" {
			t.Fatalf("ignored file sub/skip.tmp was matched: %v", paths)
		}
	}
	found := false
	for _, p := range paths {
		if p == "sub/keep.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sub/keep.txt to be matched, got %v", paths)
	}
}
