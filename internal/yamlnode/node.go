// SPDX-License-Identifier: AGPL-3.0-or-later

// Package yamlnode reads and edits yaml.v3 node trees in place, keeping
// mapping key order intact.
package yamlnode

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Content unwraps document and alias nodes down to the value they carry.
func Content(n *yaml.Node) *yaml.Node {
	for n != nil {
		switch n.Kind {
		case yaml.DocumentNode:
			if len(n.Content) == 0 {
				return nil
			}
			n = n.Content[0]
		case yaml.AliasNode:
			n = n.Alias
		default:
			return n
		}
	}
	return nil
}

func IsMapping(n *yaml.Node) bool {
	n = Content(n)
	return n != nil && n.Kind == yaml.MappingNode
}

func IsNull(n *yaml.Node) bool {
	n = Content(n)
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// Lookup returns the value stored under key in a mapping node.
func Lookup(n *yaml.Node, key string) (*yaml.Node, bool) {
	n = Content(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil, false
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return Content(n.Content[i+1]), true
		}
	}
	return nil, false
}

// LookupPath follows nested mapping keys, reporting false at the first miss.
func LookupPath(n *yaml.Node, keys ...string) (*yaml.Node, bool) {
	cur := n
	for _, k := range keys {
		next, ok := Lookup(cur, k)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Pairs iterates a mapping node in document order. Non-mappings yield nothing.
func Pairs(n *yaml.Node, fn func(key string, value *yaml.Node) error) error {
	n = Content(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if err := fn(n.Content[i].Value, Content(n.Content[i+1])); err != nil {
			return err
		}
	}
	return nil
}

// Scalar returns the text of a scalar node, or "" for anything else.
func Scalar(n *yaml.Node) string {
	n = Content(n)
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

// Set stores value under key in the mapping m, replacing an existing entry
// in place or appending a new one.
func Set(m *yaml.Node, key string, value *yaml.Node) {
	m = Content(m)
	if m == nil || m.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content, String(key), value)
}

// EnsureMapping returns the mapping stored under key in m, creating it (or
// replacing a null or scalar) when needed.
func EnsureMapping(m *yaml.Node, key string) *yaml.Node {
	if child, ok := Lookup(m, key); ok && child != nil && child.Kind == yaml.MappingNode {
		return child
	}
	child := Mapping()
	Set(m, key, child)
	return child
}

// EnsurePath applies EnsureMapping for each key in turn.
func EnsurePath(m *yaml.Node, keys ...string) *yaml.Node {
	cur := m
	for _, k := range keys {
		cur = EnsureMapping(cur, k)
	}
	return cur
}

// Mapping returns an empty block mapping node.
func Mapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

// String returns a string scalar node.
func String(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

// Bool returns a boolean scalar node.
func Bool(v bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v)}
}

// Float returns a float scalar node whose text always resolves as a float.
func Float(v float64) *yaml.Node {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: s}
}
