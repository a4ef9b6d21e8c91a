// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evtxlab/evtxcore/internal/crc32evtx"
)

// buildChunk returns a chunkSize-byte buffer with a valid chunk
// header (magic, record-id range, free-space offset) and the
// remainder zeroed. recordsEnd is written as FreeSpaceOffset.
func buildChunk(t *testing.T, firstID, lastID uint64, recordsEnd uint32, withCRC bool) []byte {
	t.Helper()
	chunk := make([]byte, chunkSize)
	copy(chunk, chunkMagicString)
	binary.LittleEndian.PutUint64(chunk[24:], firstID)
	binary.LittleEndian.PutUint64(chunk[32:], lastID)
	binary.LittleEndian.PutUint32(chunk[48:], recordsEnd)
	if withCRC {
		binary.LittleEndian.PutUint32(chunk[124:], crc32evtx.Checksum(append(append([]byte{}, chunk[0:120]...), chunk[128:chunkHeaderSize]...)))
	}
	return chunk
}

// putRecordFrame writes a well-formed record frame of the given total
// size at pos, with a trailing size trailer, and returns the offset
// of the first payload byte.
func putRecordFrame(chunk []byte, pos int, recordID, filetime uint64, size uint32) int {
	copy(chunk[pos:], recordMagicBytes)
	binary.LittleEndian.PutUint32(chunk[pos+4:], size)
	binary.LittleEndian.PutUint64(chunk[pos+8:], recordID)
	binary.LittleEndian.PutUint64(chunk[pos+16:], filetime)
	binary.LittleEndian.PutUint32(chunk[pos+int(size)-4:], size)
	return pos + 24
}

func TestParseChunkHeaderOK(t *testing.T) {
	t.Parallel()
	chunk := buildChunk(t, 1, 5, chunkHeaderSize, true)
	h, err := parseChunkHeader(chunk, true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, h.FirstRecordID)
	assert.EqualValues(t, 5, h.LastRecordID)
	assert.True(t, h.ChecksumChecked)
	assert.True(t, h.ChecksumOK)
	assert.EqualValues(t, 5, h.ExpectedRecordCount())
}

func TestParseChunkHeaderBadMagic(t *testing.T) {
	t.Parallel()
	chunk := buildChunk(t, 1, 1, chunkHeaderSize, false)
	copy(chunk, "NOTACHNK")
	_, err := parseChunkHeader(chunk, false)
	require.Error(t, err)
	var evErr *Error
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, KindBadChunkMagic, evErr.Kind)
}

func TestParseChunkHeaderZeroed(t *testing.T) {
	t.Parallel()
	chunk := make([]byte, chunkSize)
	_, err := parseChunkHeader(chunk, false)
	require.Error(t, err)
	var evErr *Error
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, KindBadChunkMagic, evErr.Kind)
}

func TestParseChunkHeaderChecksumMismatch(t *testing.T) {
	t.Parallel()
	chunk := buildChunk(t, 1, 1, chunkHeaderSize, true)
	chunk[124] ^= 0xFF
	h, err := parseChunkHeader(chunk, true)
	require.NoError(t, err)
	assert.False(t, h.ChecksumOK)
}

func TestWalkRecordsSingleFrame(t *testing.T) {
	t.Parallel()
	chunk := buildChunk(t, 1, 1, chunkHeaderSize+40, false)
	putRecordFrame(chunk, chunkHeaderSize, 1, 0, 40)
	header, err := parseChunkHeader(chunk, false)
	require.NoError(t, err)

	var warnings []string
	frames := walkRecords(chunk, header, func(msg string) { warnings = append(warnings, msg) })
	require.Len(t, frames, 1)
	assert.EqualValues(t, 1, frames[0].recordID)
	assert.True(t, frames[0].sizeOK)
	assert.Empty(t, warnings)
}

func TestWalkRecordsTrailerMismatch(t *testing.T) {
	t.Parallel()
	chunk := buildChunk(t, 1, 1, chunkHeaderSize+40, false)
	putRecordFrame(chunk, chunkHeaderSize, 1, 0, 40)
	binary.LittleEndian.PutUint32(chunk[chunkHeaderSize+36:], 41) // corrupt trailer
	header, err := parseChunkHeader(chunk, false)
	require.NoError(t, err)

	var warnings []string
	frames := walkRecords(chunk, header, func(msg string) { warnings = append(warnings, msg) })
	require.Len(t, frames, 1)
	assert.False(t, frames[0].sizeOK)
	assert.Len(t, warnings, 1)
}

func TestWalkRecordsStopsOnBadMagicMidChunk(t *testing.T) {
	t.Parallel()
	chunk := buildChunk(t, 1, 2, chunkHeaderSize+80, false)
	putRecordFrame(chunk, chunkHeaderSize, 1, 0, 40)
	// second frame's magic is left zeroed, simulating a corrupt tail.
	header, err := parseChunkHeader(chunk, false)
	require.NoError(t, err)

	var warnings []string
	frames := walkRecords(chunk, header, func(msg string) { warnings = append(warnings, msg) })
	require.Len(t, frames, 1)
	assert.Len(t, warnings, 1)
}

func TestWalkRecordsFirstFrameBadMagicIsSilent(t *testing.T) {
	t.Parallel()
	chunk := buildChunk(t, 1, 1, chunkHeaderSize+40, false)
	// no record written at all: first frame's magic check fails silently.
	header, err := parseChunkHeader(chunk, false)
	require.NoError(t, err)

	var warnings []string
	frames := walkRecords(chunk, header, func(msg string) { warnings = append(warnings, msg) })
	assert.Empty(t, frames)
	assert.Empty(t, warnings)
}

func TestWalkRecordsSizeTooSmall(t *testing.T) {
	t.Parallel()
	chunk := buildChunk(t, 1, 2, chunkHeaderSize+80, false)
	putRecordFrame(chunk, chunkHeaderSize, 1, 0, 40)
	// second frame declares a size below the 28-byte floor.
	copy(chunk[chunkHeaderSize+40:], recordMagicBytes)
	binary.LittleEndian.PutUint32(chunk[chunkHeaderSize+44:], 10)
	header, err := parseChunkHeader(chunk, false)
	require.NoError(t, err)

	var warnings []string
	frames := walkRecords(chunk, header, func(msg string) { warnings = append(warnings, msg) })
	require.Len(t, frames, 1)
	assert.Len(t, warnings, 1)
}
