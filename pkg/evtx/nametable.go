// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"unicode/utf16"

	"github.com/evtxlab/evtxcore/internal/bytereader"
)

// nameTable resolves element/attribute name strings by chunk-relative
// offset, caching each decoded name and pre-seeding from the chunk
// header's common-string offset table. It is owned by a single
// chunk's decode and discarded at chunk completion: there is nothing
// to synchronize.
type nameTable struct {
	chunk []byte
	cache map[int]string
}

func newNameTable(chunk []byte, header ChunkHeader) *nameTable {
	nt := &nameTable{
		chunk: chunk,
		cache: make(map[int]string, commonStringTableCount),
	}
	for _, off := range header.CommonStringOffsets {
		if off == 0 {
			continue
		}
		if _, ok := nt.cache[int(off)]; ok {
			continue
		}
		if s, err := nt.decode(int(off)); err == nil {
			nt.cache[int(off)] = s
		}
	}
	return nt
}

// Lookup returns the name at chunk-relative offset off, decoding and
// caching it on first use. A malformed or out-of-bounds offset yields
// an empty string and an error the caller may choose to surface as a
// diagnostic.
func (nt *nameTable) Lookup(off int) (string, error) {
	if s, ok := nt.cache[off]; ok {
		return s, nil
	}
	s, err := nt.decode(off)
	if err != nil {
		return "", err
	}
	nt.cache[off] = s
	return s, nil
}

// decode reads a name entry: u32 next-chain (ignored; the chain is
// only meaningful for an O(1) hash lookup we don't need, since
// callers always address a name by its direct offset), u16 hash
// (ignored), u16 num_chars, then num_chars UTF-16LE code units and a
// terminating u16 null.
func (nt *nameTable) decode(off int) (string, error) {
	r := bytereader.New(nt.chunk)

	numChars, err := r.U16(off + 6)
	if err != nil {
		return "", newErr(KindMalformedName, err, "name at offset %d: truncated header", off)
	}
	units := make([]uint16, numChars)
	base := off + 8
	for i := 0; i < int(numChars); i++ {
		u, err := r.U16(base + i*2)
		if err != nil {
			return "", newErr(KindMalformedName, err, "name at offset %d: truncated body", off)
		}
		units[i] = u
	}
	return string(utf16.Decode(units)), nil
}
