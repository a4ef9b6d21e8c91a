// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountSlots(t *testing.T) {
	t.Parallel()
	nodes := []*Node{
		{
			Kind: NodeElement,
			Name: "Event",
			Attrs: []*Attr{
				{Name: "Id", Value: []*Node{{Kind: NodeSubstitution, SubID: 0}}},
			},
			Children: []*Node{
				{Kind: NodeSubstitution, SubID: 1},
				{Kind: NodeText, Text: "literal"},
			},
		},
	}
	assert.Equal(t, 2, countSlots(nodes))
}

func TestInstantiateSkeletonClonesElements(t *testing.T) {
	t.Parallel()
	skeleton := []*Node{
		{Kind: NodeElement, Name: "Event", Children: []*Node{
			{Kind: NodeText, Text: "literal"},
		}},
	}
	ctx := &parseCtx{cfg: DefaultConfig()}
	out, err := instantiateSkeleton(ctx, skeleton, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Event", out[0].Name)
	assert.NotSame(t, skeleton[0], out[0])
	assert.Equal(t, "literal", out[0].Children[0].Text)
}

func TestGetOrCompileCachesByGUID(t *testing.T) {
	t.Parallel()
	chunk := buildChunk(t, 1, 1, chunkHeaderSize, false)
	// a template body with a fragment header followed immediately by
	// an EndOfStream token compiles to an empty, reusable skeleton.
	off := chunkHeaderSize
	chunk[off] = tokFragmentHeader
	chunk[off+1] = 1
	chunk[off+2] = 1
	chunk[off+3] = 0
	chunk[off+4] = tokEOF

	ctx := &parseCtx{chunk: chunk, diag: NewDiagnostics(), cfg: DefaultConfig()}
	var guid GUID
	guid[0] = 0x42

	first := getOrCompile(guid, ctx, off)
	second := getOrCompile(guid, ctx, off)
	assert.Same(t, first, second)
	assert.False(t, first.NotCompilable)
	assert.Empty(t, first.Skeleton)
}
