// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"bytes"

	"github.com/evtxlab/evtxcore/internal/bytereader"
	"github.com/evtxlab/evtxcore/internal/crc32evtx"
)

const (
	fileHeaderSize  = 4096
	chunkSize       = 65536
	fileMagicString = "ElfFile\x00"
)

var fileMagic = []byte(fileMagicString)

// FileHeader is the fixed 4096-byte block at the start of an EVTX
// file.
type FileHeader struct {
	FirstChunkNumber uint64
	LastChunkNumber  uint64
	NextRecordID     uint64
	HeaderSize       uint32
	MinorVersion     uint16
	MajorVersion     uint16
	HeaderBlockSize  uint16
	ChunkCount       uint16
	Flags            uint32
	Checksum         uint32

	ChecksumOK      bool
	ChecksumChecked bool
}

const (
	fileFlagDirty  = 1 << 0
	fileFlagFull   = 1 << 1
	fileFlagNoCRC  = 1 << 2
)

func (h FileHeader) Dirty() bool { return h.Flags&fileFlagDirty != 0 }
func (h FileHeader) Full() bool  { return h.Flags&fileFlagFull != 0 }
func (h FileHeader) NoCRC() bool { return h.Flags&fileFlagNoCRC != 0 }

// parseFileHeader reads and validates the file header at the start of
// buf. A bad magic or a header too short to read is fatal; the CRC,
// if requested, is advisory only.
func parseFileHeader(buf []byte, verifyChecksum bool) (FileHeader, error) {
	r := bytereader.New(buf)

	magic, err := r.Slice(0, 8)
	if err != nil {
		return FileHeader{}, newErr(KindTruncated, err, "file header: need %d bytes, have %d", fileHeaderSize, len(buf))
	}
	if !bytes.Equal(magic, fileMagic) {
		return FileHeader{}, newErr(KindBadFileMagic, nil, "file header: bad magic %q", magic)
	}

	var h FileHeader
	h.FirstChunkNumber, err = r.U64(8)
	if err != nil {
		return FileHeader{}, newErr(KindTruncated, err, "file header")
	}
	h.LastChunkNumber, err = r.U64(16)
	if err != nil {
		return FileHeader{}, newErr(KindTruncated, err, "file header")
	}
	h.NextRecordID, err = r.U64(24)
	if err != nil {
		return FileHeader{}, newErr(KindTruncated, err, "file header")
	}
	hsz, err := r.U32(32)
	if err != nil {
		return FileHeader{}, newErr(KindTruncated, err, "file header")
	}
	h.HeaderSize = hsz
	h.MinorVersion, err = r.U16(36)
	if err != nil {
		return FileHeader{}, newErr(KindTruncated, err, "file header")
	}
	h.MajorVersion, err = r.U16(38)
	if err != nil {
		return FileHeader{}, newErr(KindTruncated, err, "file header")
	}
	h.HeaderBlockSize, err = r.U16(40)
	if err != nil {
		return FileHeader{}, newErr(KindTruncated, err, "file header")
	}
	h.ChunkCount, err = r.U16(42)
	if err != nil {
		return FileHeader{}, newErr(KindTruncated, err, "file header")
	}
	h.Flags, err = r.U32(120)
	if err != nil {
		return FileHeader{}, newErr(KindTruncated, err, "file header")
	}
	h.Checksum, err = r.U32(124)
	if err != nil {
		return FileHeader{}, newErr(KindTruncated, err, "file header")
	}

	if h.HeaderBlockSize == 0 {
		h.HeaderBlockSize = fileHeaderSize
	}

	if verifyChecksum && !h.NoCRC() {
		h.ChecksumChecked = true
		region, err := r.Slice(0, 120)
		if err == nil {
			h.ChecksumOK = crc32evtx.Checksum(region) == h.Checksum
		}
	}

	return h, nil
}

// chunkOffsets enumerates the absolute byte offsets of every
// plausible chunk in buf, starting at HeaderBlockSize and stepping by
// chunkSize while a full chunk still fits. It does not validate each
// chunk's own magic; that happens during chunk header parsing — a
// chunk with a bad or zeroed magic is simply skipped by the caller
// rather than halting enumeration.
func chunkOffsets(buf []byte, h FileHeader) []int {
	start := int(h.HeaderBlockSize)
	if start <= 0 {
		start = fileHeaderSize
	}
	var offsets []int
	for off := start; off+chunkSize <= len(buf); off += chunkSize {
		offsets = append(offsets, off)
	}
	return offsets
}
