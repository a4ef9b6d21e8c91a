// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bytereader provides bounds-checked little-endian primitive
// reads over an immutable, borrowed byte range.
package bytereader

import "fmt"

// Truncated is returned whenever a read would run past the end of the
// borrowed range. Offset is the absolute position the read started
// at; Need is how many bytes the read wanted; Have is how many were
// actually available from Offset to the end of the range.
type Truncated struct {
	Offset int
	Need   int
	Have   int
}

func (e *Truncated) Error() string {
	return fmt.Sprintf("truncated: offset=%d need=%d have=%d", e.Offset, e.Need, e.Have)
}

// InvalidRange is returned when a caller asks for a negative offset
// or length, which is always a programming error rather than a
// malformed file.
type InvalidRange struct {
	Offset int
	Length int
}

func (e *InvalidRange) Error() string {
	return fmt.Sprintf("invalid range: offset=%d length=%d", e.Offset, e.Length)
}
