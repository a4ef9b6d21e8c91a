// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeXMLSimpleElement(t *testing.T) {
	t.Parallel()
	nodes := []*Node{{
		Kind: NodeElement,
		Name: "Event",
		Attrs: []*Attr{
			{Name: "Id", Value: []*Node{{Kind: NodeText, Text: "4624"}}},
		},
		Children: []*Node{
			{Kind: NodeText, Text: "hello & <world>"},
		},
	}}
	s, err := EncodeXML(nodes)
	require.NoError(t, err)
	assert.Equal(t, `<Event Id="4624">hello &amp; &lt;world&gt;</Event>`, s)
}

func TestEncodeXMLEmptyElementSelfCloses(t *testing.T) {
	t.Parallel()
	nodes := []*Node{{Kind: NodeElement, Name: "Empty"}}
	s, err := EncodeXML(nodes)
	require.NoError(t, err)
	assert.Equal(t, "<Empty/>", s)
}

func TestEncodeXMLNodeValueNull(t *testing.T) {
	t.Parallel()
	nodes := []*Node{{Kind: NodeValue, RV: &renderedValue{IsNull: true}}}
	s, err := EncodeXML(nodes)
	require.NoError(t, err)
	assert.Equal(t, "", s)
}

func TestEncodeXMLNodeValueNested(t *testing.T) {
	t.Parallel()
	nodes := []*Node{{Kind: NodeValue, RV: &renderedValue{Nested: []*Node{
		{Kind: NodeText, Text: "nested"},
	}}}}
	s, err := EncodeXML(nodes)
	require.NoError(t, err)
	assert.Equal(t, "nested", s)
}

func TestEncodeXMLComment(t *testing.T) {
	t.Parallel()
	nodes := []*Node{{Kind: NodeComment, Text: "bad--value"}}
	s, err := EncodeXML(nodes)
	require.NoError(t, err)
	assert.Equal(t, "<!--bad- -value-->", s)
}

func TestEncodeXMLCharAndEntityRef(t *testing.T) {
	t.Parallel()
	nodes := []*Node{
		{Kind: NodeCharRef, CharRef: 65},
		{Kind: NodeEntityRef, Name: "amp"},
	}
	s, err := EncodeXML(nodes)
	require.NoError(t, err)
	assert.Equal(t, "&#65;&amp;", s)
}
