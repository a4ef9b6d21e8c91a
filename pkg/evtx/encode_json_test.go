// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeJSON(t *testing.T, b []byte) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal(b, &v))
	return v
}

func TestEncodeJSONScalarElement(t *testing.T) {
	t.Parallel()
	nodes := []*Node{{
		Kind:     NodeElement,
		Name:     "Level",
		Children: []*Node{{Kind: NodeValue, RV: &renderedValue{JSON: float64(4)}}},
	}}
	b, err := EncodeJSON(nodes)
	require.NoError(t, err)
	assert.Equal(t, float64(4), decodeJSON(t, b))
}

func TestEncodeJSONObjectWithAttributesAndChildren(t *testing.T) {
	t.Parallel()
	nodes := []*Node{{
		Kind: NodeElement,
		Name: "Provider",
		Attrs: []*Attr{
			{Name: "Name", Value: []*Node{{Kind: NodeValue, RV: &renderedValue{JSON: "Microsoft-Windows-Kernel"}}}},
		},
		Children: []*Node{
			{Kind: NodeElement, Name: "EventID", Children: []*Node{
				{Kind: NodeValue, RV: &renderedValue{JSON: float64(41)}},
			}},
		},
	}}
	b, err := EncodeJSON(nodes)
	require.NoError(t, err)
	got := decodeJSON(t, b).(map[string]any)
	attrs := got["#attributes"].(map[string]any)
	assert.Equal(t, "Microsoft-Windows-Kernel", attrs["Name"])
	assert.Equal(t, float64(41), got["EventID"])
}

func TestEncodeJSONEventDataFlattening(t *testing.T) {
	t.Parallel()
	data := func(name string, val float64) *Node {
		return &Node{
			Kind: NodeElement,
			Name: "Data",
			Attrs: []*Attr{
				{Name: "Name", Value: []*Node{{Kind: NodeValue, RV: &renderedValue{JSON: name}}}},
			},
			Children: []*Node{{Kind: NodeValue, RV: &renderedValue{JSON: val}}},
		}
	}
	nodes := []*Node{{
		Kind: NodeElement,
		Name: "EventData",
		Children: []*Node{
			data("ProcessId", 1234),
			data("ImageName", 5678),
		},
	}}
	b, err := EncodeJSON(nodes)
	require.NoError(t, err)
	got := decodeJSON(t, b).(map[string]any)
	assert.Equal(t, float64(1234), got["ProcessId"])
	assert.Equal(t, float64(5678), got["ImageName"])
}

func TestEncodeJSONDuplicateKeysAreSuffixed(t *testing.T) {
	t.Parallel()
	child := func() *Node {
		return &Node{Kind: NodeElement, Name: "X", Children: []*Node{
			{Kind: NodeValue, RV: &renderedValue{JSON: float64(1)}},
		}}
	}
	nodes := []*Node{{
		Kind:     NodeElement,
		Name:     "Root",
		Attrs:    []*Attr{{Name: "a", Value: []*Node{{Kind: NodeValue, RV: &renderedValue{JSON: "v"}}}}},
		Children: []*Node{child(), child()},
	}}
	b, err := EncodeJSON(nodes)
	require.NoError(t, err)
	got := decodeJSON(t, b).(map[string]any)
	assert.Contains(t, got, "X")
	assert.Contains(t, got, "X_1")
}

func TestEncodeJSONEmptyElementIsNull(t *testing.T) {
	t.Parallel()
	nodes := []*Node{{Kind: NodeElement, Name: "Empty"}}
	b, err := EncodeJSON(nodes)
	require.NoError(t, err)
	assert.Nil(t, decodeJSON(t, b))
}

func TestEncodeJSONMalformedRecordPlaceholder(t *testing.T) {
	t.Parallel()
	nodes := []*Node{{Kind: NodeComment, Text: "malformed record"}}
	b, err := EncodeJSON(nodes)
	require.NoError(t, err)
	got := decodeJSON(t, b).(map[string]any)
	assert.Equal(t, "malformed record", got["#error"])
}
