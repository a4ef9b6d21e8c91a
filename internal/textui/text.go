// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"fmt"
	"io"

	"golang.org/x/exp/constraints"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.English)

// Fprintf is like fmt.Fprintf but adds golang.org/x/text/message's
// numeric-formatting verbs (comma-grouped integers, percentages),
// used for cmd/evtxdump's "N records parsed, M warnings, K errors"
// summary line.
func Fprintf(w io.Writer, key string, a ...any) (n int, err error) {
	return printer.Fprintf(w, key, a...)
}

// Sprintf is the Sprintf counterpart of Fprintf.
func Sprintf(key string, a ...any) string {
	return printer.Sprintf(key, a...)
}

// Portion renders a fraction N/D as both a percentage and
// parenthetically as the exact comma-grouped fraction, e.g.
// "34% (1,204/3,500)". Nothing in this module calls it; the CLI's
// progress line renders its fraction from a plain float64.
type Portion[T constraints.Integer] struct {
	N, D T
}

var _ fmt.Stringer = Portion[int]{}

func (p Portion[T]) String() string {
	frac := float64(1)
	if p.D > 0 {
		frac = float64(p.N) / float64(p.D)
	}
	return printer.Sprintf("%v (%v/%v)", number.Percent(frac), uint64(p.N), uint64(p.D))
}
