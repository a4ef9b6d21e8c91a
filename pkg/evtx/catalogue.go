// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"github.com/evtxlab/evtxcore/internal/bytereader"
)

// templateDefHeaderSize is the 4-byte next-chain pointer, 16-byte
// GUID, and 4-byte body_size that precede every template body.
const templateDefHeaderSize = 4 + 16 + 4

// templateDef is a catalogued template definition's location and
// identity, keyed by its chunk-relative offset.
type templateDef struct {
	guid      GUID
	bodyStart int // chunk-relative offset of the first body byte
	bodySize  int
}

// catalogue maps chunk-relative offsets to template definitions, plus
// a GUID back-index that every insertion fills in (no lookup reads
// it; definitions are found by offset). It is reset at every
// chunk boundary (offsets are chunk-local), unlike the GUID-keyed
// compiled-template cache which survives across chunks.
type catalogue struct {
	chunk   []byte
	byOff   map[int]templateDef
	byGUID  map[GUID]int
}

func newCatalogue(chunk []byte) *catalogue {
	return &catalogue{
		chunk:  chunk,
		byOff:  make(map[int]templateDef),
		byGUID: make(map[GUID]int),
	}
}

// preload walks the chunk header's 32-bucket chained hash table,
// following each chain until a 0 terminator, a cycle (an offset
// already present in the map), or an out-of-bounds offset.
func (c *catalogue) preload(header ChunkHeader, diag *Diagnostics) {
	for _, bucketHead := range header.TemplatePointers {
		off := int(bucketHead)
		for off != 0 {
			if _, seen := c.byOff[off]; seen {
				break
			}
			def, next, err := c.readDefHeader(off)
			if err != nil {
				break
			}
			c.byOff[off] = def
			c.byGUID[def.guid] = off
			diag.TemplateDefinitionsSeen++
			off = next
		}
	}
}

// readDefHeader reads the 24-byte definition header at off and
// returns the definition plus the next-chain offset.
func (c *catalogue) readDefHeader(off int) (templateDef, int, error) {
	r := bytereader.New(c.chunk)
	next, err := r.U32(off)
	if err != nil {
		return templateDef{}, 0, err
	}
	guid, err := readGUID(r, off+4)
	if err != nil {
		return templateDef{}, 0, err
	}
	bodySize, err := r.U32(off + 20)
	if err != nil {
		return templateDef{}, 0, err
	}
	return templateDef{guid: guid, bodyStart: off + templateDefHeaderSize, bodySize: int(bodySize)}, int(next), nil
}

// lookup returns the definition at chunk-relative offset off,
// reading it directly if it wasn't found by preload (this happens
// legitimately for templates nested inside embedded BinXml payloads,
// which aren't reachable from the chunk header's pointer table).
func (c *catalogue) lookup(off int) (templateDef, bool) {
	if def, ok := c.byOff[off]; ok {
		return def, true
	}
	def, _, err := c.readDefHeader(off)
	if err != nil {
		return templateDef{}, false
	}
	c.byOff[off] = def
	c.byGUID[def.guid] = off
	return def, true
}

// insert registers an inline definition encountered directly by the
// interpreter: when a template instance's def_offset equals its own
// cursor position, the definition body follows inline rather than
// being looked up elsewhere in the chunk.
func (c *catalogue) insert(off int, def templateDef) {
	c.byOff[off] = def
	c.byGUID[def.guid] = off
}

func (c *catalogue) body(def templateDef) ([]byte, error) {
	r := bytereader.New(c.chunk)
	return r.Slice(def.bodyStart, def.bodySize)
}
