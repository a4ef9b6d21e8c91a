// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evtxlab/evtxcore/internal/crc32evtx"
)

// putBareElementRecord writes a record frame at pos whose BinXml
// payload is the simplest possible shape: a fragment header followed
// directly by a bare, attribute-less, childless <name/> element (no
// template instance at all — decodeRecordPayload's tokOpenStart
// branch). It returns the frame's total size.
func putBareElementRecord(chunk []byte, pos int, recordID uint64, name string) uint32 {
	nameUTF16 := make([]byte, len(name)*2)
	for i, r := range name {
		binary.LittleEndian.PutUint16(nameUTF16[i*2:], uint16(r))
	}

	p := pos + 24 // payloadStart
	buf := chunk[p:]

	buf[0] = tokFragmentHeader
	buf[1], buf[2], buf[3] = 1, 1, 0

	buf[4] = tokOpenStart
	elementHeaderPos := 5 // relative to p
	// dep_id (u16) left zero, data_size (u32) left zero.
	cursor := elementHeaderPos + 10
	binary.LittleEndian.PutUint32(buf[elementHeaderPos+6:], uint32(p+cursor)) // name_offset == cursor (inline)

	// inline name entry at p+cursor: next-chain, hash, numChars, UTF-16LE, null.
	binary.LittleEndian.PutUint16(buf[cursor+6:], uint16(len(name)))
	copy(buf[cursor+8:], nameUTF16)
	newPos := cursor + 8 + len(nameUTF16) + 2

	buf[newPos] = tokCloseEmpty
	payloadLen := newPos + 1

	size := uint32(24 + payloadLen + 8) // leave a little trailing padding before the trailer
	copy(chunk[pos:], recordMagicBytes)
	binary.LittleEndian.PutUint32(chunk[pos+4:], size)
	binary.LittleEndian.PutUint64(chunk[pos+8:], recordID)
	binary.LittleEndian.PutUint64(chunk[pos+16:], 0)
	binary.LittleEndian.PutUint32(chunk[pos+int(size)-4:], size)
	return size
}

func TestDecodeChunkBareElement(t *testing.T) {
	t.Parallel()
	chunk := buildChunk(t, 1, 1, 0, false)
	size := putBareElementRecord(chunk, chunkHeaderSize, 1, "Event")
	binary.LittleEndian.PutUint32(chunk[48:], uint32(chunkHeaderSize)+size) // FreeSpaceOffset

	var soFar uint64
	diag, records := decodeChunk(context.Background(), chunk, 0, 0, DefaultConfig(), &soFar, true)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(1), records[0].RecordID)
	assert.Equal(t, "<Event/>", string(records[0].Payload))
	assert.Equal(t, 1, diag.RecordsParsed)
	assert.Empty(t, diag.RecordErrors)
}

func buildOneChunkFile(t *testing.T) []byte {
	t.Helper()
	chunk := buildChunk(t, 1, 1, 0, false)
	size := putBareElementRecord(chunk, chunkHeaderSize, 1, "Event")
	binary.LittleEndian.PutUint32(chunk[48:], uint32(chunkHeaderSize)+size)

	fileHdr := buildFileHeader(t, 0, func(b []byte) {
		binary.LittleEndian.PutUint16(b[42:], 1) // ChunkCount
	})
	buf := append(fileHdr, chunk...)
	return buf
}

func TestParseEndToEnd(t *testing.T) {
	t.Parallel()
	buf := buildOneChunkFile(t)

	records, diag, totals, err := Parse(context.Background(), buf, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, totals.NumChunks)

	var got []Record
	for r := range records {
		got = append(got, r)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "<Event/>", string(got[0].Payload))
	assert.Equal(t, 1, diag.RecordsParsed)
	assert.Equal(t, 1, diag.ChunksParsed)
}

func TestParseEndToEndJSONFormat(t *testing.T) {
	t.Parallel()
	buf := buildOneChunkFile(t)
	cfg := DefaultConfig()
	cfg.OutputFormat = FormatJSON

	records, _, _, err := Parse(context.Background(), buf, cfg)
	require.NoError(t, err)
	var got []Record
	for r := range records {
		got = append(got, r)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "null", string(got[0].Payload))
}

func TestParseBadFileMagicIsFatal(t *testing.T) {
	t.Parallel()
	buf := make([]byte, 4096)
	_, _, _, err := Parse(context.Background(), buf, DefaultConfig())
	require.Error(t, err)
}

func TestParseWorkerCountParallelPreservesOrder(t *testing.T) {
	t.Parallel()
	one := buildOneChunkFile(t)
	// stitch two independent single-chunk files' chunks together
	// behind one file header claiming two chunks.
	chunk2 := buildChunk(t, 2, 2, 0, false)
	size := putBareElementRecord(chunk2, chunkHeaderSize, 2, "Event2")
	binary.LittleEndian.PutUint32(chunk2[48:], uint32(chunkHeaderSize)+size)

	fileHdr := buildFileHeader(t, 0, func(b []byte) {
		binary.LittleEndian.PutUint16(b[42:], 2)
	})
	buf := append(fileHdr, one[4096:]...)
	buf = append(buf, chunk2...)

	cfg := DefaultConfig()
	cfg.WorkerCount = 4
	records, _, totals, err := Parse(context.Background(), buf, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, totals.NumChunks)

	var got []Record
	for r := range records {
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Equal(t, uint32(0), got[0].ChunkIndex)
	assert.Equal(t, uint32(1), got[1].ChunkIndex)
}

func TestParseVerifyChecksumsRecordArea(t *testing.T) {
	t.Parallel()
	chunk := buildChunk(t, 1, 1, 0, false)
	size := putBareElementRecord(chunk, chunkHeaderSize, 1, "Event")
	freeSpace := uint32(chunkHeaderSize) + size
	binary.LittleEndian.PutUint32(chunk[48:], freeSpace)
	binary.LittleEndian.PutUint32(chunk[52:], crc32evtx.Checksum(chunk[chunkHeaderSize:freeSpace]))

	fileHdr := buildFileHeader(t, 0, func(b []byte) {
		binary.LittleEndian.PutUint16(b[42:], 1)
	})
	buf := append(fileHdr, chunk...)

	cfg := DefaultConfig()
	cfg.VerifyChecksums = true
	records, diag, _, err := Parse(context.Background(), buf, cfg)
	require.NoError(t, err)
	for range records {
	}
	for _, w := range diag.ChunkWarnings {
		assert.NotContains(t, w.Message, "record area checksum mismatch")
	}
}
