package pathbuf

import "testing"

func TestJoin(t *testing.T) {
	if got := Join("", "a"); got != "a" {
		t.Fatalf("Join(\"\", \"a\") = %q, want %q", got, "a")
	}
	if got := Join("a", "b"); got != "a/b" {
		t.Fatalf("Join(\"a\", \"b\") = %q, want %q", got, "a/b")
	}
	if got := Join("a/b", "c"); got != "a/b/c" {
		t.Fatalf("Join(\"a/b\", \"c\") = %q, want %q", got, "a/b/c")
	}
}

func TestJoinPanicsOnEmptyLeaf(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Join with empty leaf did not panic")
		}
	}()
	Join("a", "")
}

func TestDir(t *testing.T) {
	cases := map[string]string{
		"a":     "",
		"a/b":   "a",
		"a/b/c": "a/b",
	}
	for path, want := range cases {
		if got := Dir(path); got != want {
			t.Errorf("Dir(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestDirPanicsOnRoot(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Dir(\"\") did not panic")
		}
	}()
	Dir("")
}

func TestBase(t *testing.T) {
	cases := map[string]string{
		"":      "",
		"a":     "a",
		"a/b":   "b",
		"a/b/c": "c",
	}
	for path, want := range cases {
		if got := Base(path); got != want {
			t.Errorf("Base(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestLess(t *testing.T) {
	cases := []struct {
		first, second string
		want          bool
	}{
		{"", "a", true},
		{"a", "", false},
		{"a", "a", false},
		{"a", "b", true},
		{"b", "a", false},
		{"a", "a/b", true},
		{"a/b", "a", false},
		{"a/b", "a/c", true},
	}
	for _, c := range cases {
		if got := Less(c.first, c.second); got != c.want {
			t.Errorf("Less(%q, %q) = %v, want %v", c.first, c.second, got, c.want)
		}
	}
}

func TestSplit(t *testing.T) {
	if got := Split(""); got != nil {
		t.Fatalf("Split(\"\") = %v, want nil", got)
	}
	got := Split("a/b/c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Split(\"a/b/c\") = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Split(\"a/b/c\")[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHasDotElement(t *testing.T) {
	cases := map[string]bool{
		"":          false,
		"a/b":       false,
		"a/./b":     true,
		"a/../b":    true,
		"a/..b":     false,
		"..a/b":     false,
		"a/b/..":    true,
	}
	for path, want := range cases {
		if got := HasDotElement(path); got != want {
			t.Errorf("HasDotElement(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestValidName(t *testing.T) {
	valid := []string{"a", "a.txt", "a b", ".hidden"}
	for _, name := range valid {
		if !ValidName(name) {
			t.Errorf("ValidName(%q) = false, want true", name)
		}
	}
	invalid := []string{"", ".", "..", "a/b", "a\x00b"}
	for _, name := range invalid {
		if ValidName(name) {
			t.Errorf("ValidName(%q) = true, want false", name)
		}
	}
}
