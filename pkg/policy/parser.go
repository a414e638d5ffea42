package policy

import (
	"fmt"
	"strings"

	"github.com/AlxHnr/nano-backup-go/internal/pathbuf"
	"github.com/AlxHnr/nano-backup-go/pkg/metadata"
)

// ParseConfig builds a search tree from a line-oriented config per spec
// §4.2. Recognised bracket tokens ([copy], [mirror], [track], [ignore]) set
// the current policy context; lines beginning with '/' define selectors
// (or, under [ignore], POSIX-ERE ignore patterns); blank lines and '#'
// comments are skipped; a leading UTF-8 BOM is tolerated.
func ParseConfig(data []byte) (*SearchNode, error) {
	if i := indexByte(data, 0); i != -1 {
		return nil, fmt.Errorf("line contains a null byte at offset %d", i)
	}

	data = trimBOM(data)
	root := NewRoot()

	var currentPolicy metadata.BackupPolicy
	havePolicy := false

	lines := strings.Split(string(data), "\n")
	for i, rawLine := range lines {
		lineNr := i + 1
		line := strings.TrimRight(rawLine, "\r")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}

		if strings.HasPrefix(trimmed, "[") {
			if !strings.HasSuffix(trimmed, "]") {
				return nil, fmt.Errorf("line %d: invalid bracket token %q", lineNr, trimmed)
			}
			token := trimmed[1 : len(trimmed)-1]
			policy, ok := tokenToPolicy(token)
			if !ok {
				return nil, fmt.Errorf("line %d: invalid bracket token %q", lineNr, token)
			}
			currentPolicy = policy
			havePolicy = true
			continue
		}

		if strings.HasPrefix(trimmed, "/") {
			if !havePolicy {
				return nil, fmt.Errorf("line %d: path %q given before any policy token", lineNr, trimmed)
			}
			if currentPolicy == metadata.PolicyIgnore {
				if err := root.IgnoreExpressions.Add(trimmed[1:]); err != nil {
					return nil, fmt.Errorf("line %d: invalid ignore expression: %w", lineNr, err)
				}
				continue
			}
			if err := addSelector(root, trimmed, currentPolicy, lineNr); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNr, err)
			}
			continue
		}

		return nil, fmt.Errorf("line %d: unrecognised config line %q", lineNr, trimmed)
	}

	return root, nil
}

func tokenToPolicy(token string) (metadata.BackupPolicy, bool) {
	switch token {
	case "copy":
		return metadata.PolicyCopy, true
	case "mirror":
		return metadata.PolicyMirror, true
	case "track":
		return metadata.PolicyTrack, true
	case "ignore":
		return metadata.PolicyIgnore, true
	default:
		return 0, false
	}
}

// segment is one path element of a selector line, optionally marked as a
// regular expression.
type segment struct {
	name    string
	isRegex bool
}

// splitSelector splits a selector line (beginning with '/') into segments. A
// doubled slash ("//") preceding a segment marks that segment as a POSIX-ERE
// regex rather than a literal name, matching spec §4.2's "a segment that
// itself starts with /regex (a leading slash within the segment)" — the
// doubled slash is the only way an interior segment can carry an extra
// leading '/' once the line has been split on '/'.
func splitSelector(line string) []segment {
	raw := strings.Split(line, "/")
	// raw[0] is "" because line starts with '/'.
	raw = raw[1:]

	var segments []segment
	for i := 0; i < len(raw); i++ {
		if raw[i] == "" && i+1 < len(raw) {
			i++
			segments = append(segments, segment{name: raw[i], isRegex: true})
			continue
		}
		segments = append(segments, segment{name: raw[i]})
	}
	return segments
}

// addSelector materialises the node chain for a selector line and assigns
// the leaf its policy, propagating inheritance (spec §4.2).
func addSelector(root *SearchNode, line string, policy metadata.BackupPolicy, lineNr int) error {
	segments := splitSelector(line)
	if len(segments) == 0 {
		return fmt.Errorf("empty selector path")
	}

	node := root
	var fullPath string
	for _, seg := range segments {
		if !seg.isRegex {
			if seg.name == "" {
				return fmt.Errorf("selector path contains an empty element")
			}
			if seg.name == "." || seg.name == ".." {
				return fmt.Errorf("selector path contains a %q element", seg.name)
			}
		}
		fullPath = pathbuf.Join(fullPath, seg.name)

		child, created, err := node.childOrCreate(seg.name, seg.isRegex, lineNr, node.Policy)
		if err != nil {
			return fmt.Errorf("unparseable regex %q: %w", seg.name, err)
		}
		node = child
		_ = created
	}

	if !node.PolicyInherited {
		if node.Policy == policy {
			return fmt.Errorf("path %q already has policy %s", fullPath, node.Policy)
		}
		return fmt.Errorf("path %q already has policy %s, cannot redefine as %s", fullPath, node.Policy, policy)
	}

	node.assignPolicy(policy, lineNr)
	return nil
}

func indexByte(data []byte, b byte) int {
	for i, c := range data {
		if c == b {
			return i
		}
	}
	return -1
}

func trimBOM(data []byte) []byte {
	const bom = "\xef\xbb\xbf"
	if len(data) >= 3 && string(data[:3]) == bom {
		return data[3:]
	}
	return data
}
