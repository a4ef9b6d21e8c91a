// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package crc32evtx_test

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evtxlab/evtxcore/internal/crc32evtx"
)

func TestChecksumMatchesStdlibIEEE(t *testing.T) {
	t.Parallel()
	data := []byte("the quick brown fox jumps over the lazy dog")
	assert.Equal(t, crc32.ChecksumIEEE(data), crc32evtx.Checksum(data))
}

func TestVerifyRangesConcatenatesInOrder(t *testing.T) {
	t.Parallel()
	buf := []byte("ABCDEFGHIJ")
	want := crc32.ChecksumIEEE([]byte("ABCIJ"))

	ok, err := crc32evtx.VerifyRanges(buf, []crc32evtx.Range{{Start: 0, End: 3}, {Start: 8, End: 10}}, want)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = crc32evtx.VerifyRanges(buf, []crc32evtx.Range{{Start: 0, End: 3}}, want)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRangesOutOfBounds(t *testing.T) {
	t.Parallel()
	_, err := crc32evtx.VerifyRanges([]byte("short"), []crc32evtx.Range{{Start: 0, End: 100}}, 0)
	require.Error(t, err)
}
