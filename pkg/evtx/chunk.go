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
	chunkHeaderSize            = 512
	chunkMagicString           = "ElfChnk\x00"
	commonStringTableCount     = 64
	commonStringTableOffset    = 128
	templatePointerCount       = 32
	templatePointerTableOffset = commonStringTableOffset + commonStringTableCount*4
	recordMagic                = 0x00002A2A
)

var chunkMagic = []byte(chunkMagicString)

const chunkFlagNoCRC = 1 << 2

// ChunkHeader is the fixed 512-byte header at the start of a chunk.
type ChunkHeader struct {
	FirstRecordNumber uint64
	LastRecordNumber  uint64
	FirstRecordID     uint64
	LastRecordID      uint64
	HeaderSize        uint32
	LastRecordOffset  uint32
	FreeSpaceOffset   uint32
	RecordsCRC32      uint32
	Flags             uint32
	HeaderCRC32       uint32

	CommonStringOffsets [commonStringTableCount]uint32
	TemplatePointers    [templatePointerCount]uint32

	ChecksumOK      bool
	ChecksumChecked bool
}

func (h ChunkHeader) NoCRC() bool { return h.Flags&chunkFlagNoCRC != 0 }

// ExpectedRecordCount is the header's hint for how many record frames
// the chunk holds; implementations size containers to this but must
// tolerate deviation.
func (h ChunkHeader) ExpectedRecordCount() uint64 {
	if h.LastRecordID < h.FirstRecordID {
		return 0
	}
	return h.LastRecordID - h.FirstRecordID + 1
}

// parseChunkHeader reads the 512-byte header at the start of chunk
// (a chunkSize-byte sub-range of the file). A bad magic is a
// per-chunk advisory: the caller skips this chunk and moves on rather
// than aborting the parse.
func parseChunkHeader(chunk []byte, verifyChecksum bool) (ChunkHeader, error) {
	r := bytereader.New(chunk)

	magic, err := r.Slice(0, 8)
	if err != nil {
		return ChunkHeader{}, newErr(KindTruncated, err, "chunk header")
	}
	if bytes.Equal(magic, make([]byte, 8)) {
		// A fully-zeroed chunk is a legitimate "never written"
		// slot, not corruption; treat it like a bad-magic skip
		// without a warning.
		return ChunkHeader{}, newErr(KindBadChunkMagic, nil, "empty/zeroed chunk")
	}
	if !bytes.Equal(magic, chunkMagic) {
		return ChunkHeader{}, newErr(KindBadChunkMagic, nil, "bad chunk magic %q", magic)
	}

	var h ChunkHeader
	mustU64 := func(off int) uint64 { v, e := r.U64(off); if e != nil { err = e }; return v }
	mustU32 := func(off int) uint32 { v, e := r.U32(off); if e != nil { err = e }; return v }

	h.FirstRecordNumber = mustU64(8)
	h.LastRecordNumber = mustU64(16)
	h.FirstRecordID = mustU64(24)
	h.LastRecordID = mustU64(32)
	h.HeaderSize = mustU32(40)
	h.LastRecordOffset = mustU32(44)
	h.FreeSpaceOffset = mustU32(48)
	h.RecordsCRC32 = mustU32(52)
	// 56..119 reserved/unused.
	h.Flags = mustU32(120)
	h.HeaderCRC32 = mustU32(124)
	if err != nil {
		return ChunkHeader{}, newErr(KindTruncated, err, "chunk header")
	}

	for i := 0; i < commonStringTableCount; i++ {
		v, e := r.U32(commonStringTableOffset + i*4)
		if e != nil {
			return ChunkHeader{}, newErr(KindTruncated, e, "chunk header: common-string table")
		}
		h.CommonStringOffsets[i] = v
	}
	for i := 0; i < templatePointerCount; i++ {
		v, e := r.U32(templatePointerTableOffset + i*4)
		if e != nil {
			return ChunkHeader{}, newErr(KindTruncated, e, "chunk header: template pointer table")
		}
		h.TemplatePointers[i] = v
	}

	if h.FreeSpaceOffset > chunkSize {
		h.FreeSpaceOffset = chunkSize
	}

	if verifyChecksum && !h.NoCRC() {
		h.ChecksumChecked = true
		ok, e := crc32evtx.VerifyRanges(chunk, []crc32evtx.Range{{Start: 0, End: 120}, {Start: 128, End: chunkHeaderSize}}, h.HeaderCRC32)
		if e == nil {
			h.ChecksumOK = ok
		}
	}

	return h, nil
}

// recordFrame is one event record's position within its chunk, plus
// the fields read directly from its fixed-size frame header.
type recordFrame struct {
	offset       int // chunk-relative
	size         uint32
	recordID     uint64
	filetime     uint64
	payloadStart int
	payloadEnd   int
	sizeOK       bool
}

var recordMagicBytes = []byte{0x2a, 0x2a, 0x00, 0x00}

// walkRecords enumerates record frames from chunkHeaderSize up to
// header.FreeSpaceOffset. It stops silently on EOF-like
// conditions (bad magic, size<28, frame would overrun records_end)
// unless that happens after at least one record has already been
// read, in which case it is reported as a chunk warning (mid-stream
// corruption) via warn.
func walkRecords(chunk []byte, header ChunkHeader, warn func(string)) []recordFrame {
	recordsEnd := int(header.FreeSpaceOffset)
	if recordsEnd > len(chunk) {
		recordsEnd = len(chunk)
	}

	var frames []recordFrame
	pos := chunkHeaderSize
	first := true
	for pos+28 <= recordsEnd {
		r := bytereader.New(chunk)
		magic, err := r.Slice(pos, 4)
		if err != nil || !bytes.Equal(magic, recordMagicBytes) {
			if !first {
				warn("record enumeration stopped: bad magic mid-chunk at offset " + itoa(pos))
			}
			break
		}
		size, err := r.U32(pos + 4)
		if err != nil {
			if !first {
				warn("record enumeration stopped: truncated size field at offset " + itoa(pos))
			}
			break
		}
		if size < 28 {
			if !first {
				warn("record enumeration stopped: size " + itoa(int(size)) + " < 28 at offset " + itoa(pos))
			}
			break
		}
		if pos+int(size) > recordsEnd {
			if !first {
				warn("record enumeration stopped: frame would overrun free space at offset " + itoa(pos))
			}
			break
		}

		recordID, err1 := r.U64(pos + 8)
		filetime, err2 := r.U64(pos + 16)
		if err1 != nil || err2 != nil {
			break
		}

		f := recordFrame{
			offset:       pos,
			size:         size,
			recordID:     recordID,
			filetime:     filetime,
			payloadStart: pos + 24,
			payloadEnd:   pos + int(size) - 4,
		}

		trailer, err := r.U32(pos + int(size) - 4)
		f.sizeOK = err == nil && trailer == size
		if !f.sizeOK {
			warn("record " + itoa64(recordID) + ": trailing size mismatch")
		}

		frames = append(frames, f)
		pos += int(size)
		first = false
	}
	return frames
}
