package policy

import (
	"testing"

	"github.com/AlxHnr/nano-backup-go/pkg/metadata"
)

func TestNewRoot(t *testing.T) {
	root := NewRoot()
	if root.Name != "/" {
		t.Errorf("root.Name = %q, want \"/\"", root.Name)
	}
	if root.Policy != metadata.PolicyNone {
		t.Errorf("root.Policy = %v, want PolicyNone", root.Policy)
	}
	if !root.PolicyInherited {
		t.Error("root.PolicyInherited = false, want true")
	}
	if root.IgnoreExpressions == nil {
		t.Error("root.IgnoreExpressions is nil")
	}
}

func TestMatchLiteral(t *testing.T) {
	n := &SearchNode{Name: "documents"}
	if !n.Match("documents") {
		t.Error("expected literal match")
	}
	if n.Match("other") {
		t.Error("unexpected literal match")
	}
}

func TestMatchRegex(t *testing.T) {
	root := NewRoot()
	child, _, err := root.childOrCreate(`.*\.go`, true, 1, metadata.PolicyNone)
	if err != nil {
		t.Fatalf("childOrCreate failed: %v", err)
	}
	if !child.Match("main.go") {
		t.Error("expected regex match against main.go")
	}
	if child.Match("main.txt") {
		t.Error("unexpected regex match against main.txt")
	}
}

func TestChildOrCreateReusesExistingLiteralChild(t *testing.T) {
	root := NewRoot()
	first, created, err := root.childOrCreate("home", false, 1, metadata.PolicyNone)
	if err != nil {
		t.Fatalf("childOrCreate failed: %v", err)
	}
	if !created {
		t.Fatal("expected first childOrCreate to create a new node")
	}
	second, created, err := root.childOrCreate("home", false, 2, metadata.PolicyCopy)
	if err != nil {
		t.Fatalf("childOrCreate failed: %v", err)
	}
	if created {
		t.Fatal("expected second childOrCreate to reuse the existing node")
	}
	if first != second {
		t.Fatal("childOrCreate returned different nodes for the same literal name")
	}
}

func TestAssignPolicyPropagatesToInheritedDescendantsOnly(t *testing.T) {
	root := NewRoot()
	home, _, err := root.childOrCreate("home", false, 1, root.Policy)
	if err != nil {
		t.Fatalf("childOrCreate failed: %v", err)
	}
	user, _, err := home.childOrCreate("user", false, 2, home.Policy)
	if err != nil {
		t.Fatalf("childOrCreate failed: %v", err)
	}
	user.assignPolicy(metadata.PolicyTrack, 3)

	home.assignPolicy(metadata.PolicyCopy, 4)

	if home.Policy != metadata.PolicyCopy {
		t.Errorf("home.Policy = %v, want PolicyCopy", home.Policy)
	}
	if user.Policy != metadata.PolicyTrack {
		t.Errorf("user.Policy = %v, want PolicyTrack (explicit assignment must survive ancestor propagation)", user.Policy)
	}
}

func TestAssignPolicyPropagatesToUnassignedDescendants(t *testing.T) {
	root := NewRoot()
	home, _, err := root.childOrCreate("home", false, 1, root.Policy)
	if err != nil {
		t.Fatalf("childOrCreate failed: %v", err)
	}
	docs, _, err := home.childOrCreate("docs", false, 2, home.Policy)
	if err != nil {
		t.Fatalf("childOrCreate failed: %v", err)
	}

	home.assignPolicy(metadata.PolicyMirror, 3)

	if !docs.PolicyInherited {
		t.Fatal("docs should still be marked as inheriting its policy")
	}
	if docs.Policy != metadata.PolicyMirror {
		t.Errorf("docs.Policy = %v, want PolicyMirror (should inherit from home)", docs.Policy)
	}
}

func TestObservedTypeFor(t *testing.T) {
	cases := map[metadata.PathStateType]ObservedType{
		metadata.RegularFile: ObservedRegularFile,
		metadata.Symlink:     ObservedSymlink,
		metadata.Directory:   ObservedDirectory,
		metadata.Other:       ObservedOther,
		metadata.NonExisting: 0,
	}
	for stateType, want := range cases {
		if got := ObservedTypeFor(stateType); got != want {
			t.Errorf("ObservedTypeFor(%v) = %v, want %v", stateType, got, want)
		}
	}
}
