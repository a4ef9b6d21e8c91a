// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package crc32evtx computes the IEEE 802.3 reflected-polynomial
// CRC32 that EVTX uses for its advisory file-header and chunk-header
// checksums: init 0xFFFFFFFF, reflected polynomial 0xEDB88320, final
// XOR 0xFFFFFFFF.
package crc32evtx

import (
	"fmt"
	"hash/crc32"
)

var table = crc32.MakeTable(crc32.IEEE)

// Checksum returns the IEEE CRC32 of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, table)
}

// Range is a half-open byte range [Start, End) that advisory
// verification runs the checksum over.
type Range struct {
	Start, End int
}

// VerifyRanges concatenates the named ranges of buf (in order) and
// returns whether their combined CRC32 equals want. Chunk headers
// checksum two disjoint ranges ([0,120) and [128,512), skipping the
// flags and header_crc32 fields themselves); file headers and record
// areas checksum a single contiguous range.
func VerifyRanges(buf []byte, ranges []Range, want uint32) (bool, error) {
	var concat []byte
	for _, rg := range ranges {
		if rg.Start < 0 || rg.End > len(buf) || rg.Start > rg.End {
			return false, fmt.Errorf("crc32evtx: range [%d,%d) out of bounds for %d-byte buffer", rg.Start, rg.End, len(buf))
		}
		concat = append(concat, buf[rg.Start:rg.End]...)
	}
	return Checksum(concat) == want, nil
}
