// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/evtxlab/evtxcore/internal/bytereader"
)

// Base substitution value types; the array bit 0x80 is masked off by
// splitting valType before dispatch.
const (
	valNull       = 0x00
	valStringW    = 0x01
	valStringA    = 0x02
	valInt8       = 0x03
	valUInt8      = 0x04
	valInt16      = 0x05
	valUInt16     = 0x06
	valInt32      = 0x07
	valUInt32     = 0x08
	valInt64      = 0x09
	valUInt64     = 0x0A
	valFloat32    = 0x0B
	valFloat64    = 0x0C
	valBool       = 0x0D
	valBinary     = 0x0E
	valGUID       = 0x0F
	valSizeT      = 0x10
	valFileTime   = 0x11
	valSysTime    = 0x12
	valSID        = 0x13
	valHexInt32   = 0x14
	valHexInt64   = 0x15
	valBinXml     = 0x21

	arrayFlag = 0x80
)

// filetimeEpochDelta is the number of 100ns ticks between the
// FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01).
const filetimeEpochDelta int64 = 116444736000000000

// elementSize returns the fixed byte width of base type kind for
// array striding, and false for types that cannot appear in an array
// (Binary, BinXml, strings, Null).
func elementSize(kind byte) (int, bool) {
	switch kind {
	case valInt8, valUInt8:
		return 1, true
	case valInt16, valUInt16:
		return 2, true
	case valInt32, valUInt32, valFloat32, valHexInt32:
		return 4, true
	case valInt64, valUInt64, valFloat64, valFileTime, valHexInt64:
		return 8, true
	case valGUID, valSysTime:
		return 16, true
	default:
		return 0, false
	}
}

// renderedValue is what both encoders (C10) need from a rendered
// substitution: Text is the XML-mode string and JSON the typed Go
// value (string/float64/bool/[]any) the JSON encoder emits. Binary,
// SID, GUID, hex and time kinds are strings in JSON too; every
// integer kind is a float64 in JSON, so 64-bit values beyond 2^53
// lose precision there while Text keeps the exact decimal.
type renderedValue struct {
	Text       string
	JSON       any
	IsNull     bool
	Nested     []*Node // only for valBinXml
	NestedDiag func(*Diagnostics)
}

// renderValue decodes the size-byte value blob per valType. recurse
// is used to parse an embedded BinXml value (kind 0x21); binxml.go
// always supplies one, and renderArray passes nil since none of its
// fixed-width element kinds is BinXml.
func renderValue(data []byte, valType byte, recurse func([]byte) ([]*Node, error)) (renderedValue, error) {
	if valType == valNull || len(data) == 0 {
		return renderedValue{IsNull: true}, nil
	}

	if valType&arrayFlag != 0 {
		return renderArray(data, valType&^arrayFlag)
	}

	switch valType {
	case valStringW:
		s := decodeUTF16LE(data)
		s = strings.TrimSuffix(s, "\x00")
		return renderedValue{Text: s, JSON: s}, nil
	case valStringA:
		s := decodeAnsi(data)
		return renderedValue{Text: s, JSON: s}, nil
	case valInt8:
		v := int8(data[0])
		return renderedValue{Text: strconv.FormatInt(int64(v), 10), JSON: float64(v)}, nil
	case valUInt8:
		v := data[0]
		return renderedValue{Text: strconv.FormatUint(uint64(v), 10), JSON: float64(v)}, nil
	case valInt16, valUInt16, valInt32, valUInt32, valInt64, valUInt64:
		return renderInt(data, valType)
	case valFloat32:
		r := bytereader.New(data)
		f, err := r.F32(0)
		if err != nil {
			return renderedValue{}, err
		}
		s := strconv.FormatFloat(float64(f), 'g', -1, 32)
		return renderedValue{Text: s, JSON: float64(f)}, nil
	case valFloat64:
		r := bytereader.New(data)
		f, err := r.F64(0)
		if err != nil {
			return renderedValue{}, err
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		return renderedValue{Text: s, JSON: f}, nil
	case valBool:
		r := bytereader.New(data)
		v, err := r.U32(0)
		if err != nil {
			// Some producers write bools as a single byte;
			// tolerate that rather than failing the value.
			v = uint32(data[0])
		}
		b := v != 0
		if b {
			return renderedValue{Text: "true", JSON: true}, nil
		}
		return renderedValue{Text: "false", JSON: false}, nil
	case valBinary:
		s := hexLower(data)
		return renderedValue{Text: s, JSON: s}, nil
	case valGUID:
		if len(data) < 16 {
			return renderedValue{}, newErr(KindUnknownToken, nil, "GUID value truncated")
		}
		var g GUID
		copy(g[:], data)
		return renderedValue{Text: g.String(), JSON: g.String()}, nil
	case valSizeT:
		s := renderSizeT(data)
		return renderedValue{Text: s, JSON: s}, nil
	case valFileTime:
		return renderFileTime(data)
	case valSysTime:
		return renderSysTime(data)
	case valSID:
		s, err := renderSID(data)
		if err != nil {
			return renderedValue{}, err
		}
		return renderedValue{Text: s, JSON: s}, nil
	case valHexInt32:
		r := bytereader.New(data)
		v, err := r.U32(0)
		if err != nil {
			return renderedValue{}, err
		}
		s := fmt.Sprintf("0x%08X", v)
		return renderedValue{Text: s, JSON: s}, nil
	case valHexInt64:
		r := bytereader.New(data)
		v, err := r.U64(0)
		if err != nil {
			return renderedValue{}, err
		}
		s := fmt.Sprintf("0x%016X", v)
		return renderedValue{Text: s, JSON: s}, nil
	case valBinXml:
		if recurse == nil {
			return renderedValue{}, newErr(KindInternal, nil, "embedded BinXml rendering unavailable")
		}
		nodes, err := recurse(data)
		if err != nil {
			return renderedValue{}, err
		}
		return renderedValue{Nested: nodes}, nil
	default:
		return renderedValue{Text: hexLower(data), JSON: hexLower(data)}, nil
	}
}

func renderInt(data []byte, valType byte) (renderedValue, error) {
	r := bytereader.New(data)
	switch valType {
	case valInt16:
		v, err := r.I16(0)
		return intResult(int64(v), err)
	case valUInt16:
		v, err := r.U16(0)
		return intResult(int64(v), err)
	case valInt32:
		v, err := r.I32(0)
		return intResult(int64(v), err)
	case valUInt32:
		v, err := r.U32(0)
		return intResult(int64(v), err)
	case valInt64:
		v, err := r.I64(0)
		return intResult(v, err)
	case valUInt64:
		v, err := r.U64(0)
		if err != nil {
			return renderedValue{}, err
		}
		return renderedValue{Text: strconv.FormatUint(v, 10), JSON: float64(v)}, nil
	}
	return renderedValue{}, newErr(KindInternal, nil, "renderInt: unreachable valType 0x%02x", valType)
}

func intResult(v int64, err error) (renderedValue, error) {
	if err != nil {
		return renderedValue{}, err
	}
	return renderedValue{Text: strconv.FormatInt(v, 10), JSON: float64(v)}, nil
}

func renderSizeT(data []byte) string {
	r := bytereader.New(data)
	if len(data) >= 8 {
		if v, err := r.U64(0); err == nil {
			return fmt.Sprintf("0x%x", v)
		}
	}
	if len(data) >= 4 {
		if v, err := r.U32(0); err == nil {
			return fmt.Sprintf("0x%x", v)
		}
	}
	return "0x" + hexLower(data)
}

func renderFileTime(data []byte) (renderedValue, error) {
	r := bytereader.New(data)
	ticks, err := r.U64(0)
	if err != nil {
		return renderedValue{}, err
	}
	if ticks == 0 {
		return renderedValue{Text: "", JSON: ""}, nil
	}
	s := FormatFILETIME(ticks)
	return renderedValue{Text: s, JSON: s}, nil
}

// FormatFILETIME renders a Windows FILETIME tick count as
// yyyy-MM-ddTHH:mm:ss.fffffffZ.
func FormatFILETIME(ticks uint64) string {
	totalTicks := int64(ticks) - filetimeEpochDelta
	totalNs := totalTicks * 100
	t := time.Unix(0, totalNs).UTC()
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%07dZ",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(),
		(ticks % 10000000))
}

func renderSysTime(data []byte) (renderedValue, error) {
	if len(data) < 16 {
		return renderedValue{}, newErr(KindUnknownToken, nil, "SystemTime value truncated")
	}
	r := bytereader.New(data)
	year, _ := r.U16(0)
	month, _ := r.U16(2)
	// dayOfWeek at offset 4 is skipped; it's redundant with the date.
	day, _ := r.U16(6)
	hour, _ := r.U16(8)
	minute, _ := r.U16(10)
	sec, _ := r.U16(12)
	ms, _ := r.U16(14)
	s := fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%03dZ", year, month, day, hour, minute, sec, ms)
	return renderedValue{Text: s, JSON: s}, nil
}

func renderSID(data []byte) (string, error) {
	if len(data) < 8 {
		return "", newErr(KindUnknownToken, nil, "SID value truncated")
	}
	revision := data[0]
	subAuthCount := int(data[1])
	r := bytereader.New(data)
	authority, err := r.U48BE(2)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "S-%d-%d", revision, authority)
	off := 8
	for i := 0; i < subAuthCount && off+4 <= len(data); i++ {
		sub, err := r.U32(off)
		if err != nil {
			break
		}
		fmt.Fprintf(&b, "-%d", sub)
		off += 4
	}
	return b.String(), nil
}

// renderArray decodes an array-flagged substitution value.
func renderArray(data []byte, base byte) (renderedValue, error) {
	switch base {
	case valStringW:
		units := decodeUTF16LEUnits(data)
		var parts []string
		start := 0
		for i, u := range units {
			if u == 0 {
				if i > start {
					parts = append(parts, string(utf16.Decode(units[start:i])))
				}
				start = i + 1
			}
		}
		if start < len(units) {
			parts = append(parts, string(utf16.Decode(units[start:])))
		}
		jsonArr := make([]any, len(parts))
		for i, p := range parts {
			jsonArr[i] = p
		}
		return renderedValue{Text: strings.Join(parts, ", "), JSON: jsonArr}, nil
	case valBinary, valBinXml:
		// Arrays of Binary and of BinXml are not supported;
		// fall back to hex.
		return renderedValue{Text: hexLower(data), JSON: hexLower(data)}, nil
	default:
		size, ok := elementSize(base)
		if !ok {
			return renderedValue{Text: hexLower(data), JSON: hexLower(data)}, nil
		}
		var texts []string
		var jsonArr []any
		for off := 0; off+size <= len(data); off += size {
			elem, err := renderValue(data[off:off+size], base, nil)
			if err != nil {
				return renderedValue{}, err
			}
			texts = append(texts, elem.Text)
			jsonArr = append(jsonArr, elem.JSON)
		}
		return renderedValue{Text: strings.Join(texts, ", "), JSON: jsonArr}, nil
	}
}

func decodeUTF16LEUnits(data []byte) []uint16 {
	units := make([]uint16, len(data)/2)
	for i := range units {
		units[i] = uint16(data[2*i]) | uint16(data[2*i+1])<<8
	}
	return units
}

func decodeUTF16LE(data []byte) string {
	return string(utf16.Decode(decodeUTF16LEUnits(data)))
}

func decodeAnsi(data []byte) string {
	for i, b := range data {
		if b == 0 {
			data = data[:i]
			break
		}
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

const hexDigits = "0123456789abcdef"

func hexLower(data []byte) string {
	buf := make([]byte, len(data)*2)
	for i, b := range data {
		buf[2*i] = hexDigits[b>>4]
		buf[2*i+1] = hexDigits[b&0xf]
	}
	return string(buf)
}
