// Package policy implements the search tree (C7): a policy selector DAG
// built from a config, with inheritance and a shared ignore list (spec
// §3 SearchNode, §4.2). It is grounded on the shape of
// mutagen/pkg/synchronization/core/ignore.go (a parsed-pattern type plus a
// collection type exposing match methods), generalised here into a tree of
// named/regex selector nodes instead of a flat ignore-only collection.
package policy

import (
	"regexp"

	"github.com/AlxHnr/nano-backup-go/pkg/metadata"
)

// ObservedType is a bitset of PathStateTypes a SearchNode has matched
// against, supporting spec §4.3's "post-run reporting of nodes that never
// matched anything or matched unexpected types".
type ObservedType uint8

const (
	ObservedRegularFile ObservedType = 1 << iota
	ObservedSymlink
	ObservedDirectory
	ObservedOther
)

// ObservedTypeFor converts a metadata.PathStateType into its ObservedType
// bit, or 0 for NonExisting (which is never "observed" by the search tree).
func ObservedTypeFor(t metadata.PathStateType) ObservedType {
	switch t {
	case metadata.RegularFile:
		return ObservedRegularFile
	case metadata.Symlink:
		return ObservedSymlink
	case metadata.Directory:
		return ObservedDirectory
	case metadata.Other:
		return ObservedOther
	default:
		return 0
	}
}

// SearchNode is one node of the selector tree (spec §3). The root node has
// Name "/", Policy PolicyNone, and owns the tree's IgnoreExpressions.
type SearchNode struct {
	Name   string
	Regex  *regexp.Regexp
	Policy metadata.BackupPolicy

	// PolicyInherited is false once a config line has explicitly assigned
	// this node a policy (spec §4.2 inheritance rule).
	PolicyInherited bool

	LineNr       int
	PolicyLineNr int

	SearchMatch ObservedType

	Subnodes             []*SearchNode
	SubnodesContainRegex bool

	// IgnoreExpressions is shared by every node in the tree (spec §3).
	IgnoreExpressions *IgnoreList
}

// NewRoot creates the root of a fresh search tree.
func NewRoot() *SearchNode {
	return &SearchNode{
		Name:              "/",
		Policy:            metadata.PolicyNone,
		PolicyInherited:   true,
		IgnoreExpressions: NewIgnoreList(),
	}
}

// Match reports whether entryName matches this node: literal nodes compare
// by name equality, regex nodes match the compiled expression (spec §4.3
// matching rule step 1).
func (n *SearchNode) Match(entryName string) bool {
	if n.Regex != nil {
		return n.Regex.MatchString(entryName)
	}
	return n.Name == entryName
}

// findChild returns the existing subnode with the given literal name or
// regex source, and whether it was found.
func (n *SearchNode) findChild(name string, isRegex bool) (*SearchNode, bool) {
	for _, c := range n.Subnodes {
		if isRegex {
			if c.Regex != nil && c.Regex.String() == name {
				return c, true
			}
		} else if c.Regex == nil && c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// childOrCreate returns the existing child matching name/isRegex, or
// materialises a new one with the given inherited policy (spec §4.2 "Parent
// nodes that do not yet exist are materialised with inherited policy").
func (n *SearchNode) childOrCreate(name string, isRegex bool, lineNr int, inheritedPolicy metadata.BackupPolicy) (*SearchNode, bool, error) {
	if existing, ok := n.findChild(name, isRegex); ok {
		return existing, false, nil
	}

	child := &SearchNode{
		Name:              name,
		Policy:            inheritedPolicy,
		PolicyInherited:   true,
		LineNr:            lineNr,
		IgnoreExpressions: n.IgnoreExpressions,
	}
	if isRegex {
		expression, err := regexp.CompilePOSIX(name)
		if err != nil {
			return nil, false, err
		}
		child.Regex = expression
		n.SubnodesContainRegex = true
	}
	n.Subnodes = append(n.Subnodes, child)
	return child, true, nil
}

// assignPolicy overrides node's own policy (spec §4.2 inheritance rule:
// "Assigning a policy to a node overrides the node's own policy ... Then
// the policy propagates recursively to every descendant whose policy is
// none or was inherited").
func (n *SearchNode) assignPolicy(policy metadata.BackupPolicy, lineNr int) {
	n.Policy = policy
	n.PolicyInherited = false
	n.PolicyLineNr = lineNr
	n.propagate(policy)
}

func (n *SearchNode) propagate(policy metadata.BackupPolicy) {
	for _, c := range n.Subnodes {
		if c.PolicyInherited {
			c.Policy = policy
			c.propagate(policy)
		}
	}
}
