package policy

import (
	"strings"
	"testing"

	"github.com/AlxHnr/nano-backup-go/pkg/metadata"
)

func TestParseConfigSimpleSelector(t *testing.T) {
	config := "[track]\n/home/user/documents\n"
	root, err := ParseConfig([]byte(config))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	home, ok := root.findChild("home", false)
	if !ok {
		t.Fatal("root has no \"home\" child")
	}
	user, ok := home.findChild("user", false)
	if !ok {
		t.Fatal("home has no \"user\" child")
	}
	documents, ok := user.findChild("documents", false)
	if !ok {
		t.Fatal("user has no \"documents\" child")
	}
	if documents.Policy != metadata.PolicyTrack {
		t.Errorf("documents.Policy = %v, want PolicyTrack", documents.Policy)
	}
}

func TestParseConfigExplicitAssignmentSurvivesAncestorReassignment(t *testing.T) {
	config := "[track]\n/home/user\n[copy]\n/home\n"
	root, err := ParseConfig([]byte(config))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	home, _ := root.findChild("home", false)
	user, _ := home.findChild("user", false)
	if home.Policy != metadata.PolicyCopy {
		t.Errorf("home.Policy = %v, want PolicyCopy", home.Policy)
	}
	if user.Policy != metadata.PolicyTrack {
		t.Errorf("user.Policy = %v, want PolicyTrack", user.Policy)
	}
}

func TestParseConfigRedefinitionFails(t *testing.T) {
	config := "[track]\n/home\n[copy]\n/home\n"
	if _, err := ParseConfig([]byte(config)); err == nil {
		t.Fatal("expected error redefining an already-assigned path")
	}
}

func TestParseConfigRegexSegment(t *testing.T) {
	config := `[track]
/home//.*\.go
`
	root, err := ParseConfig([]byte(config))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	home, ok := root.findChild("home", false)
	if !ok {
		t.Fatal("root has no \"home\" child")
	}
	if len(home.Subnodes) != 1 || home.Subnodes[0].Regex == nil {
		t.Fatal("expected home to have one regex subnode")
	}
	if !home.Subnodes[0].Match("main.go") {
		t.Error("expected regex subnode to match main.go")
	}
}

func TestParseConfigIgnoreBlock(t *testing.T) {
	config := "[ignore]\n/.*\\.tmp$\n[track]\n/home\n"
	root, err := ParseConfig([]byte(config))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if !root.IgnoreExpressions.Matches("cache.tmp") {
		t.Error("expected ignore pattern to match cache.tmp")
	}
}

func TestParseConfigPathBeforePolicyFails(t *testing.T) {
	config := "/home\n[track]\n"
	if _, err := ParseConfig([]byte(config)); err == nil {
		t.Fatal("expected error for a selector line before any policy token")
	}
}

func TestParseConfigInvalidBracketToken(t *testing.T) {
	config := "[bogus]\n/home\n"
	if _, err := ParseConfig([]byte(config)); err == nil {
		t.Fatal("expected error for an unrecognised bracket token")
	}
}

func TestParseConfigCommentsAndBlankLinesSkipped(t *testing.T) {
	config := "# a comment\n\n[track]\n\n# another\n/home\n"
	root, err := ParseConfig([]byte(config))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if _, ok := root.findChild("home", false); !ok {
		t.Fatal("expected /home selector to be parsed despite surrounding comments")
	}
}

func TestParseConfigTrimsBOM(t *testing.T) {
	config := "\xef\xbb\xbf[track]\n/home\n"
	root, err := ParseConfig([]byte(config))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if _, ok := root.findChild("home", false); !ok {
		t.Fatal("expected /home selector to be parsed after BOM trimming")
	}
}

func TestParseConfigRejectsNullByte(t *testing.T) {
	config := "[track]\n/home\x00file\n"
	if _, err := ParseConfig([]byte(config)); err == nil {
		t.Fatal("expected error for a line containing a null byte")
	}
}

func TestParseConfigRejectsDotElements(t *testing.T) {
	config := "[track]\n/home/../etc\n"
	if _, err := ParseConfig([]byte(config)); err == nil {
		t.Fatal("expected error for a selector containing a \"..\" element")
	}
}

func TestParseConfigUnrecognisedLine(t *testing.T) {
	config := "[track]\nnot-a-valid-line\n"
	if _, err := ParseConfig([]byte(config)); err == nil {
		t.Fatal("expected error for an unrecognised config line")
	}
}

func TestSplitSelectorDoubledSlashMarksRegex(t *testing.T) {
	segments := splitSelector(`/home//.*\.go/README`)
	if len(segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(segments))
	}
	if segments[0].name != "home" || segments[0].isRegex {
		t.Errorf("segments[0] = %+v, want literal \"home\"", segments[0])
	}
	if !segments[1].isRegex || segments[1].name != `.*\.go` {
		t.Errorf("segments[1] = %+v, want regex %q", segments[1], `.*\.go`)
	}
	if segments[2].name != "README" || segments[2].isRegex {
		t.Errorf("segments[2] = %+v, want literal \"README\"", segments[2])
	}
}

func TestParseConfigRealistic(t *testing.T) {
	config := strings.Join([]string{
		"[track]",
		"/home/user/documents",
		"[copy]",
		"/home/user/.config",
		"[mirror]",
		"/var/www",
		"[ignore]",
		`/.*\.swp$`,
	}, "\n")

	root, err := ParseConfig([]byte(config))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if root.IgnoreExpressions.Matches("file.swp") == false {
		t.Error("expected ignore pattern to match file.swp")
	}
}
