// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bytereader

import (
	"math"
)

// Range is an immutable, borrowed byte range with bounds-checked
// little-endian primitive reads. A Range does not carry a cursor: the
// position of every read is an explicit parameter, so that the same
// Range can be read from many positions (or many Ranges can share a
// cursor variable held by the caller) without any aliasing surprises.
type Range struct {
	buf []byte
}

// New wraps buf for bounds-checked reads. buf is borrowed, not copied;
// the caller retains ownership and must not mutate it while the Range
// is in use.
func New(buf []byte) Range {
	return Range{buf: buf}
}

// Len returns the length of the underlying range.
func (r Range) Len() int {
	return len(r.buf)
}

func need(n int) error {
	if n < 0 {
		return &InvalidRange{Length: n}
	}
	return nil
}

// Slice returns the n bytes starting at off, still borrowed from the
// underlying range.
func (r Range) Slice(off, n int) ([]byte, error) {
	if off < 0 {
		return nil, &InvalidRange{Offset: off, Length: n}
	}
	if err := need(n); err != nil {
		return nil, err
	}
	if off > len(r.buf) || n > len(r.buf)-off {
		have := len(r.buf) - off
		if have < 0 {
			have = 0
		}
		return nil, &Truncated{Offset: off, Need: n, Have: have}
	}
	return r.buf[off : off+n], nil
}

// Sub returns a new Range over the sub-range [off, off+n), for
// handing a chunk- or value-local byte range down to a nested
// decoder.
func (r Range) Sub(off, n int) (Range, error) {
	b, err := r.Slice(off, n)
	if err != nil {
		return Range{}, err
	}
	return Range{buf: b}, nil
}

// U8 reads an unsigned byte at off.
func (r Range) U8(off int) (uint8, error) {
	b, err := r.Slice(off, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// I8 reads a signed byte at off.
func (r Range) I8(off int) (int8, error) {
	v, err := r.U8(off)
	return int8(v), err
}

// U16 reads a little-endian uint16 at off.
func (r Range) U16(off int) (uint16, error) {
	b, err := r.Slice(off, 2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// I16 reads a little-endian int16 at off.
func (r Range) I16(off int) (int16, error) {
	v, err := r.U16(off)
	return int16(v), err
}

// U32 reads a little-endian uint32 at off.
func (r Range) U32(off int) (uint32, error) {
	b, err := r.Slice(off, 4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// I32 reads a little-endian int32 at off.
func (r Range) I32(off int) (int32, error) {
	v, err := r.U32(off)
	return int32(v), err
}

// U64 reads a little-endian uint64 at off.
func (r Range) U64(off int) (uint64, error) {
	b, err := r.Slice(off, 8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// I64 reads a little-endian int64 at off.
func (r Range) I64(off int) (int64, error) {
	v, err := r.U64(off)
	return int64(v), err
}

// F32 reads a little-endian IEEE-754 single-precision float at off.
func (r Range) F32(off int) (float32, error) {
	v, err := r.U32(off)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// F64 reads a little-endian IEEE-754 double-precision float at off.
func (r Range) F64(off int) (float64, error) {
	v, err := r.U64(off)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// U48BE reads a big-endian 48-bit unsigned integer at off. EVTX's SID
// substitution value (§4.8 type 0x13) is the only field in the format
// that is not little-endian.
func (r Range) U48BE(off int) (uint64, error) {
	b, err := r.Slice(off, 6)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < 6; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}
