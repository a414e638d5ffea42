package policy

import "regexp"

// ignorePattern is one compiled POSIX extended regular expression from the
// config's shared [ignore] block (spec §4.2). HasMatched records whether
// the pattern has ever matched during the current run, enabling the same
// kind of post-run "did this rule ever fire" reporting that
// SearchNode.SearchMatch provides for selectors (spec §4.3).
//
// Grounded on the pattern/collection split of
// mutagen/pkg/synchronization/core/ignore.go, rewritten from glob matching
// (doublestar/docker-fileutils) to POSIX-ERE matching via the standard
// library's regexp.CompilePOSIX — no pack library compiles POSIX extended
// regular expressions, so this is the one component of the repository built
// on the standard library without a third-party substitute (see
// SPEC_FULL.md DOMAIN STACK and DESIGN.md).
type ignorePattern struct {
	source     string
	expression *regexp.Regexp
	hasMatched bool
}

// IgnoreList is the tree-wide collection of ignore regular expressions,
// shared by every SearchNode in a tree (spec §3 SearchNode.ignore_expressions,
// GLOSSARY "Ignore list").
type IgnoreList struct {
	patterns []*ignorePattern
}

// NewIgnoreList creates an empty, shared ignore list.
func NewIgnoreList() *IgnoreList {
	return &IgnoreList{}
}

// Add compiles source as a POSIX extended regular expression and appends it
// to the list. Compilation errors surface the regex engine's own message
// (spec §4.2 "unparseable regex → fail surfacing the regex engine message").
func (l *IgnoreList) Add(source string) error {
	expression, err := regexp.CompilePOSIX(source)
	if err != nil {
		return err
	}
	l.patterns = append(l.patterns, &ignorePattern{source: source, expression: expression})
	return nil
}

// Matches reports whether path matches any ignore expression, marking that
// expression's HasMatched flag when it does (spec §4.3 step 4).
func (l *IgnoreList) Matches(path string) bool {
	matched := false
	for _, p := range l.patterns {
		if p.expression.MatchString(path) {
			p.hasMatched = true
			matched = true
		}
	}
	return matched
}

// Unmatched returns the source text of every ignore expression that never
// matched during the run, for post-run reporting.
func (l *IgnoreList) Unmatched() []string {
	var result []string
	for _, p := range l.patterns {
		if !p.hasMatched {
			result = append(result, p.source)
		}
	}
	return result
}
