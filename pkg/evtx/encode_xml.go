// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"fmt"
	"strings"
)

// EncodeXML serializes a decoded record's content tree to canonical
// XML: elements and attributes in source order, values escaped,
// unpaired UTF-16 surrogates already normalized to U+FFFD by the
// UTF-16 decode step in value.go/nametable.go.
func EncodeXML(nodes []*Node) (string, error) {
	var b strings.Builder
	serializeNodes(&b, nodes)
	return b.String(), nil
}

func serializeNodes(b *strings.Builder, nodes []*Node) {
	for _, n := range nodes {
		serializeNode(b, n)
	}
}

func serializeNode(b *strings.Builder, n *Node) {
	switch n.Kind {
	case NodeElement:
		b.WriteByte('<')
		b.WriteString(n.Name)
		for _, a := range n.Attrs {
			b.WriteByte(' ')
			b.WriteString(a.Name)
			b.WriteString(`="`)
			b.WriteString(xmlEscape(textOnlyString(a.Value), true))
			b.WriteByte('"')
		}
		if len(n.Children) == 0 {
			b.WriteString("/>")
			return
		}
		b.WriteByte('>')
		serializeNodes(b, n.Children)
		b.WriteString("</")
		b.WriteString(n.Name)
		b.WriteByte('>')

	case NodeText, NodeCData:
		b.WriteString(xmlEscape(n.Text, false))

	case NodeCharRef:
		fmt.Fprintf(b, "&#%d;", n.CharRef)

	case NodeEntityRef:
		b.WriteByte('&')
		b.WriteString(n.Name)
		b.WriteByte(';')

	case NodePI:
		b.WriteString("<?")
		b.WriteString(n.Name)
		if n.Text != "" {
			b.WriteByte(' ')
			b.WriteString(n.Text)
		}
		b.WriteString("?>")

	case NodeValue:
		if n.RV == nil || n.RV.IsNull {
			return
		}
		if n.RV.Nested != nil {
			serializeNodes(b, n.RV.Nested)
			return
		}
		b.WriteString(xmlEscape(n.RV.Text, false))

	case NodeComment:
		b.WriteString("<!--")
		b.WriteString(strings.ReplaceAll(n.Text, "--", "- -"))
		b.WriteString("-->")
	}
}

// xmlEscape escapes the five predefined XML entities; quote also
// escapes '"' (needed inside a double-quoted attribute value, not
// needed in element text).
func xmlEscape(s string, quote bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '\'':
			b.WriteString("&apos;")
		case '"':
			if quote {
				b.WriteString("&quot;")
			} else {
				b.WriteByte('"')
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
