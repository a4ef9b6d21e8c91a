// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import "strings"

// textOnlyString renders a content node list (element children, or an
// attribute's value) to the plain-text representation both encoders
// need: XML mode escapes it afterward; JSON mode uses it directly as
// a string scalar or as "#text".
func textOnlyString(nodes []*Node) string {
	var b strings.Builder
	for _, n := range nodes {
		switch n.Kind {
		case NodeText, NodeCData:
			b.WriteString(n.Text)
		case NodeValue:
			if n.RV != nil && !n.RV.IsNull {
				b.WriteString(n.RV.Text)
			}
		case NodeCharRef:
			b.WriteRune(rune(n.CharRef))
		case NodeEntityRef:
			b.WriteString(resolveEntity(n.Name))
		}
	}
	return b.String()
}

// predefined XML entities; anything else passes through literally,
// since the decoder has no DTD to consult.
func resolveEntity(name string) string {
	switch name {
	case "amp":
		return "&"
	case "lt":
		return "<"
	case "gt":
		return ">"
	case "quot":
		return `"`
	case "apos":
		return "'"
	default:
		return "&" + name + ";"
	}
}

// firstElement returns the first NodeElement in nodes, skipping any
// leading NodeComment diagnostic placeholders.
func firstElement(nodes []*Node) *Node {
	for _, n := range nodes {
		if n.Kind == NodeElement {
			return n
		}
	}
	return nil
}

// findAttr returns the content nodes of the first attribute named
// name, if present.
func findAttr(attrs []*Attr, name string) ([]*Node, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// splitChildren partitions an element's children into element
// children (for the JSON object / XML nesting case) and
// content/diagnostic children (text, values, comments, ...).
func splitChildren(children []*Node) (elements []*Node, rest []*Node) {
	for _, c := range children {
		if c.Kind == NodeElement {
			elements = append(elements, c)
		} else {
			rest = append(rest, c)
		}
	}
	return elements, rest
}
