// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evtxlab/evtxcore/pkg/evtx"
)

func TestGUIDString(t *testing.T) {
	t.Parallel()
	g := evtx.GUID{0x78, 0x56, 0x34, 0x12, 0x34, 0x12, 0x34, 0x12, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	assert.Equal(t, "{12345678-1234-1234-0102-030405060708}", g.String())
}

func TestGUIDIsZero(t *testing.T) {
	t.Parallel()
	var g evtx.GUID
	assert.True(t, g.IsZero())
	g[0] = 1
	assert.False(t, g.IsZero())
}
