package metadata

import "testing"

func TestVerifyAcceptsSampleMetadata(t *testing.T) {
	m := buildSampleMetadata()
	if err := m.Verify(); err != nil {
		t.Fatalf("Verify failed on well-formed metadata: %v", err)
	}
}

func TestVerifyAcceptsEmptyConfigHistory(t *testing.T) {
	m := New()
	if err := m.Verify(); err != nil {
		t.Fatalf("Verify failed on fresh metadata with no config history: %v", err)
	}
}

func TestVerifyRejectsEmptyNodeHistory(t *testing.T) {
	m := New()
	m.Paths = []*PathNode{{Name: "broken"}}
	rebuildPathTable(m)
	if err := m.Verify(); err == nil {
		t.Fatal("expected Verify to reject a node with empty history")
	}
}

func TestVerifyRejectsStalePathTable(t *testing.T) {
	m := buildSampleMetadata()
	delete(m.PathTable, "link")
	if err := m.Verify(); err == nil {
		t.Fatal("expected Verify to reject a path table missing a reachable node")
	}
}

func TestVerifyRejectsMismatchedRefCount(t *testing.T) {
	m := buildSampleMetadata()
	data, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(decoded.BackupHistory) == 0 {
		decoded.BackupHistory = append(decoded.BackupHistory, &Backup{ID: 99, RefCount: 5})
		if err := decoded.Verify(); err == nil {
			t.Fatal("expected Verify to reject a bogus ref_count")
		}
	}
}
