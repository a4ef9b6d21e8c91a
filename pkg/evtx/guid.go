// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"encoding/hex"
	"fmt"

	"github.com/evtxlab/evtxcore/internal/bytereader"
)

// GUID is a 16-byte Windows GUID as it appears on the wire: three
// little-endian groups (Data1 uint32, Data2 uint16, Data3 uint16)
// followed by eight raw bytes (Data4). GUID keeps this on-wire byte
// layout and reorders only at format time, so a GUID read straight
// off the wire and used as a map key compares equal to another read
// of the same bytes without any conversion step.
type GUID [16]byte

// String renders the GUID in the canonical
// {xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx} form, with the first three
// groups byte-swapped from their on-wire little-endian order and the
// last two groups emitted as-is.
func (g GUID) String() string {
	var buf [38]byte
	buf[0] = '{'
	buf[37] = '}'

	hex.Encode(buf[1:9], []byte{g[3], g[2], g[1], g[0]})
	buf[9] = '-'
	hex.Encode(buf[10:14], []byte{g[5], g[4]})
	buf[14] = '-'
	hex.Encode(buf[15:19], []byte{g[7], g[6]})
	buf[19] = '-'
	hex.Encode(buf[20:24], g[8:10])
	buf[24] = '-'
	hex.Encode(buf[25:37], g[10:16])

	return string(buf[:])
}

// IsZero reports whether g is the all-zero GUID, which is what a
// MissingTemplateRef carries when no definition was found to read a
// GUID from.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

func (g GUID) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v', 's':
		_, _ = fmt.Fprint(f, g.String())
	default:
		_, _ = fmt.Fprintf(f, "%%!%c(evtx.GUID=%s)", verb, g.String())
	}
}

// readGUID decodes a GUID from the 16 bytes at off within r.
func readGUID(r bytereader.Range, off int) (GUID, error) {
	b, err := r.Slice(off, 16)
	if err != nil {
		return GUID{}, err
	}
	var g GUID
	copy(g[:], b)
	return g, nil
}
