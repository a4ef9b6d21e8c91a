// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderValueUInt32(t *testing.T) {
	t.Parallel()
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, 42)
	rv, err := renderValue(data, valUInt32, nil)
	require.NoError(t, err)
	assert.Equal(t, "42", rv.Text)
	assert.Equal(t, float64(42), rv.JSON)
}

func TestRenderValueBoolAsU32(t *testing.T) {
	t.Parallel()
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, 1)
	rv, err := renderValue(data, valBool, nil)
	require.NoError(t, err)
	assert.Equal(t, "true", rv.Text)
	assert.Equal(t, true, rv.JSON)
}

func TestRenderValueBoolSingleByteTolerance(t *testing.T) {
	t.Parallel()
	rv, err := renderValue([]byte{0}, valBool, nil)
	require.NoError(t, err)
	assert.Equal(t, "false", rv.Text)
}

func TestRenderValueGUID(t *testing.T) {
	t.Parallel()
	g := GUID{0x78, 0x56, 0x34, 0x12, 0x34, 0x12, 0x34, 0x12, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	rv, err := renderValue(g[:], valGUID, nil)
	require.NoError(t, err)
	assert.Equal(t, "{12345678-1234-1234-0102-030405060708}", rv.Text)
}

func TestRenderValueFileTimeZeroIsEmpty(t *testing.T) {
	t.Parallel()
	rv, err := renderValue(make([]byte, 8), valFileTime, nil)
	require.NoError(t, err)
	assert.Equal(t, "", rv.Text)
}

func TestRenderValueFileTimeNonZero(t *testing.T) {
	t.Parallel()
	data := make([]byte, 8)
	// 2023-01-01T00:00:00Z in 100ns ticks since 1601-01-01.
	binary.LittleEndian.PutUint64(data, 133170048000000000)
	rv, err := renderValue(data, valFileTime, nil)
	require.NoError(t, err)
	assert.Equal(t, "2023-01-01T00:00:00.0000000Z", rv.Text)
}

func TestRenderValueNullIsNull(t *testing.T) {
	t.Parallel()
	rv, err := renderValue(nil, valNull, nil)
	require.NoError(t, err)
	assert.True(t, rv.IsNull)
}

func TestRenderValueSID(t *testing.T) {
	t.Parallel()
	data := []byte{1, 2, 0, 0, 0, 0, 0, 5}
	data = append(data, make([]byte, 8)...)
	binary.LittleEndian.PutUint32(data[8:], 21)
	binary.LittleEndian.PutUint32(data[12:], 42)
	rv, err := renderValue(data, valSID, nil)
	require.NoError(t, err)
	assert.Equal(t, "S-1-5-21-42", rv.Text)
}

func TestRenderValueArrayOfUInt32(t *testing.T) {
	t.Parallel()
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], 1)
	binary.LittleEndian.PutUint32(data[4:], 2)
	binary.LittleEndian.PutUint32(data[8:], 3)
	rv, err := renderValue(data, valUInt32|arrayFlag, nil)
	require.NoError(t, err)
	assert.Equal(t, "1, 2, 3", rv.Text)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, rv.JSON)
}

func TestRenderValueBinXmlRequiresRecurse(t *testing.T) {
	t.Parallel()
	_, err := renderValue([]byte{0x0F}, valBinXml, nil)
	require.Error(t, err)
}

func TestRenderValueBinXmlUsesRecurse(t *testing.T) {
	t.Parallel()
	want := []*Node{{Kind: NodeText, Text: "nested"}}
	rv, err := renderValue([]byte{0x0F}, valBinXml, func(b []byte) ([]*Node, error) {
		return want, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, rv.Nested)
}
