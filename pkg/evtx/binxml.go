// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/evtxlab/evtxcore/internal/bytereader"
	"github.com/evtxlab/evtxcore/internal/crc32evtx"
)

// instanceKey identifies a template instantiation by the bytes that
// fully determine its rendered output: the template's identity plus a
// checksum of the raw substitution descriptor and value bytes that
// feed it. Two
// instances with equal keys are indistinguishable in output, so
// instanceCache can serve the second straight from the first's
// result (common for repeated status/heartbeat events).
type instanceKey struct {
	guid        GUID
	fingerprint uint32
}

var (
	instanceCacheOnce sync.Once
	instanceCacheVal  *lru.Cache
)

// instanceCacheFor returns the process-wide rendered-instance cache,
// sized on first use by whichever Config reaches it first.
// Config.TemplateCacheSize bounds this lazily-rendered fragment
// cache; it does not bound correctness, since a miss just re-renders.
func instanceCacheFor(size int) *lru.Cache {
	instanceCacheOnce.Do(func() {
		instanceCacheVal, _ = lru.New(size)
	})
	return instanceCacheVal
}

// BinXml opcodes. Bit 0x40 is a "more data" flag that
// producers OR onto several content-bearing opcodes; every dispatch
// below masks it off before switching, so flagged and unflagged forms
// are handled identically.
const (
	tokEOF              = 0x00
	tokOpenStart        = 0x01
	tokCloseStart       = 0x02
	tokCloseEmpty       = 0x03
	tokEnd              = 0x04
	tokValue            = 0x05
	tokAttribute        = 0x06
	tokCData            = 0x07
	tokCharRef          = 0x08
	tokEntityRef        = 0x09
	tokPITarget         = 0x0A
	tokPIData           = 0x0B
	tokTemplateInstance = 0x0C
	tokNormalSub        = 0x0D
	tokOptionalSub      = 0x0E
	tokFragmentHeader   = 0x0F

	moreDataFlag = 0x40
)

// NodeKind tags the variant of a parsed BinXml content node. A single
// tree shape serves both the template compiler's cached skeleton and
// a record's fully-resolved content, distinguished by whether
// NodeSubstitution placeholders remain (skeleton) or have been
// replaced by NodeValue nodes (resolved).
type NodeKind int

const (
	NodeElement NodeKind = iota
	NodeText
	NodeCData
	NodeCharRef
	NodeEntityRef
	NodePI
	NodeSubstitution // skeleton-only placeholder
	NodeValue        // a resolved substitution
	NodeComment      // a diagnostic placeholder (missing template, parse error)
)

// Attr is an element attribute; its Value is itself a content list
// because an attribute's value is produced by the same Content
// grammar as element children.
type Attr struct {
	Name  string
	Value []*Node
}

// Node is one node of a parsed (or compiled-skeleton) BinXml content
// tree. Only the fields relevant to Kind are meaningful.
type Node struct {
	Kind NodeKind

	Name     string  // NodeElement, NodePI (target), NodeEntityRef
	Attrs    []*Attr // NodeElement
	Children []*Node // NodeElement
	Text     string  // NodeText, NodeCData, NodePI (data), NodeComment
	CharRef  uint16  // NodeCharRef

	SubID       uint16 // NodeSubstitution
	SubDeclType byte   // NodeSubstitution: the type byte declared at the slot site
	SubOptional bool   // NodeSubstitution

	RV *renderedValue // NodeValue
}

// renderMode selects what parseContent/parseElement do when they
// encounter a substitution token: modeSkeleton leaves a placeholder
// (for the template compiler's reusable skeleton); modeResolve
// evaluates it immediately against the active triples (for direct,
// per-instance interpretation).
type renderMode int

const (
	modeResolve renderMode = iota
	modeSkeleton
)

// errNotCompilable is returned up through parseContent/parseElement
// when, in modeSkeleton, the walk hits a construct that can only be
// evaluated against runtime state.
var errNotCompilable = errors.New("template body is not compilable")

// substTriple is one (offset, size, type) entry built from a template
// instance's substitution descriptor array.
type substTriple struct {
	offset int
	size   int
	typ    byte
}

// parseCtx threads everything a BinXml walk needs: the chunk-relative
// byte buffer reads are against, the per-chunk name and template
// lookup structures, the diagnostics sink, configuration, and
// recursion bookkeeping.
type parseCtx struct {
	chunk    []byte
	names    *nameTable
	cat      *catalogue
	diag     *Diagnostics
	cfg      Config
	recordID uint64
	depth    int
}

// newEmbeddedCtx builds a detached context for an embedded BinXml
// value (substitution kind 0x21). Embedded BinXml is parsed as its
// own self-contained document: its name table and
// template catalogue start empty and are populated only by entries
// defined inline within it. A name or template reference that would
// require resolving against the parent chunk's offsets (rather than
// an offset local to the embedded bytes) legitimately fails as
// malformed/missing — real-world producers essentially never emit
// such cross-references, since the embedded blob is meant to be
// independently parseable.
func newEmbeddedCtx(parent *parseCtx, blob []byte) *parseCtx {
	return &parseCtx{
		chunk:    blob,
		names:    newNameTable(blob, ChunkHeader{}),
		cat:      newCatalogue(blob),
		diag:     parent.diag,
		cfg:      parent.cfg,
		recordID: parent.recordID,
		depth:    parent.depth,
	}
}

// readFragmentHeader consumes the mandatory 4-byte fragment header
// (opcode 0x0F, major, minor, flags) at pos and returns the position
// immediately following it.
func (ctx *parseCtx) readFragmentHeader(pos int) (int, error) {
	r := bytereader.New(ctx.chunk)
	tok, err := r.U8(pos)
	if err != nil {
		return pos, err
	}
	if tok&^moreDataFlag != tokFragmentHeader {
		return pos, newErr(KindBadRecordMagic, nil, "BinXml payload at offset %d does not start with a fragment header (got 0x%02x)", pos, tok)
	}
	if _, err := r.Slice(pos, 4); err != nil {
		return pos, err
	}
	return pos + 4, nil
}

// resolveName looks up the name at nameOffset. If nameOffset equals
// cursor, an inline name entry follows at cursor and must be skipped;
// otherwise the name lives elsewhere in the chunk and the cursor does
// not move.
func (ctx *parseCtx) resolveName(nameOffset uint32, cursor int) (string, int, error) {
	if int(nameOffset) == cursor {
		r := bytereader.New(ctx.chunk)
		numChars, err := r.U16(cursor + 6)
		if err != nil {
			return "", cursor, newErr(KindMalformedName, err, "inline name at offset %d", cursor)
		}
		name, lookupErr := ctx.names.Lookup(cursor)
		newPos := cursor + 10 + int(numChars)*2
		if lookupErr != nil {
			ctx.diag.addRecordError(ctx.recordID, fmt.Sprintf("malformed inline name at offset %d", cursor))
			return "", newPos, nil
		}
		return name, newPos, nil
	}
	name, err := ctx.names.Lookup(int(nameOffset))
	if err != nil {
		ctx.diag.addRecordError(ctx.recordID, fmt.Sprintf("malformed name reference at offset %d", nameOffset))
		return "", cursor, nil
	}
	return name, cursor, nil
}

// readElementHeader reads an OpenStartElement's (dep_id u16,
// data_size u32, name_offset u32) and resolves the name.
func (ctx *parseCtx) readElementHeader(pos int) (string, int, error) {
	r := bytereader.New(ctx.chunk)
	if _, err := r.U16(pos); err != nil {
		return "", pos, err
	}
	if _, err := r.U32(pos + 2); err != nil {
		return "", pos, err
	}
	nameOffset, err := r.U32(pos + 6)
	if err != nil {
		return "", pos, err
	}
	return ctx.resolveName(nameOffset, pos+10)
}

// readAttributeName reads an Attribute token's u32 name_offset and
// resolves it the same way as an element name.
func (ctx *parseCtx) readAttributeName(pos int) (string, int, error) {
	r := bytereader.New(ctx.chunk)
	nameOffset, err := r.U32(pos)
	if err != nil {
		return "", pos, err
	}
	return ctx.resolveName(nameOffset, pos+4)
}

// parseElement implements the element grammar: header, attribute
// list, then either CloseEmptyElement or
// CloseStartElement/Content/EndElement.
func parseElement(ctx *parseCtx, pos int, triples []substTriple, mode renderMode) (*Node, int, error) {
	r := bytereader.New(ctx.chunk)

	tok, err := r.U8(pos)
	if err != nil {
		return nil, pos, err
	}
	if tok&^moreDataFlag != tokOpenStart {
		return nil, pos, newErr(KindUnknownToken, nil, "expected OpenStartElement at offset %d, got 0x%02x", pos, tok)
	}
	pos++

	name, pos, err := ctx.readElementHeader(pos)
	if err != nil {
		return nil, pos, err
	}
	el := &Node{Kind: NodeElement, Name: name}

	for {
		tok, err = r.U8(pos)
		if err != nil {
			return nil, pos, err
		}
		if tok&^moreDataFlag != tokAttribute {
			break
		}
		pos++
		attrName, p2, err := ctx.readAttributeName(pos)
		if err != nil {
			return nil, pos, err
		}
		pos = p2
		value, p3, err := parseContent(ctx, pos, triples, mode)
		if err != nil {
			return nil, pos, err
		}
		pos = p3
		el.Attrs = append(el.Attrs, &Attr{Name: attrName, Value: value})
	}

	tok, err = r.U8(pos)
	if err != nil {
		return nil, pos, err
	}
	pos++
	switch tok &^ moreDataFlag {
	case tokCloseEmpty:
		return el, pos, nil
	case tokCloseStart:
		children, p4, err := parseContent(ctx, pos, triples, mode)
		if err != nil {
			return nil, pos, err
		}
		pos = p4
		el.Children = children
		endTok, err := r.U8(pos)
		if err != nil {
			return nil, pos, err
		}
		if endTok&^moreDataFlag != tokEnd {
			ctx.diag.addRecordError(ctx.recordID, fmt.Sprintf("expected EndElement at offset %d, got 0x%02x", pos, endTok))
			return el, pos, nil
		}
		return el, pos + 1, nil
	default:
		return nil, pos, newErr(KindUnknownToken, nil, "expected a close token for <%s> at offset %d, got 0x%02x", name, pos-1, tok)
	}
}

// parseContent implements the content grammar: a sequence of child
// nodes terminated (without consuming) by any element-structural
// opcode.
func parseContent(ctx *parseCtx, pos int, triples []substTriple, mode renderMode) ([]*Node, int, error) {
	r := bytereader.New(ctx.chunk)
	var nodes []*Node
	for {
		tok, err := r.U8(pos)
		if err != nil {
			return nodes, pos, err
		}
		base := tok &^ moreDataFlag
		switch base {
		case tokCloseStart, tokCloseEmpty, tokEnd, tokAttribute:
			return nodes, pos, nil

		case tokEOF:
			return nodes, pos, nil

		case tokOpenStart:
			el, p2, err := parseElement(ctx, pos, triples, mode)
			if err != nil {
				return nodes, pos, err
			}
			nodes = append(nodes, el)
			pos = p2

		case tokValue:
			pos++
			numChars, err := r.U16(pos)
			if err != nil {
				return nodes, pos, err
			}
			pos += 2
			b, err := r.Slice(pos, int(numChars)*2)
			if err != nil {
				return nodes, pos, err
			}
			nodes = append(nodes, &Node{Kind: NodeText, Text: decodeUTF16LE(b)})
			pos += int(numChars) * 2

		case tokCData:
			pos++
			numChars, err := r.U16(pos)
			if err != nil {
				return nodes, pos, err
			}
			pos += 2
			b, err := r.Slice(pos, int(numChars)*2)
			if err != nil {
				return nodes, pos, err
			}
			nodes = append(nodes, &Node{Kind: NodeCData, Text: decodeUTF16LE(b)})
			pos += int(numChars) * 2

		case tokCharRef:
			pos++
			cp, err := r.U16(pos)
			if err != nil {
				return nodes, pos, err
			}
			pos += 2
			nodes = append(nodes, &Node{Kind: NodeCharRef, CharRef: cp})

		case tokEntityRef:
			pos++
			nameOffset, err := r.U32(pos)
			if err != nil {
				return nodes, pos, err
			}
			name, p2, err := ctx.resolveName(nameOffset, pos+4)
			if err != nil {
				return nodes, pos, err
			}
			pos = p2
			nodes = append(nodes, &Node{Kind: NodeEntityRef, Name: name})

		case tokPITarget:
			pos++
			nameOffset, err := r.U32(pos)
			if err != nil {
				return nodes, pos, err
			}
			name, p2, err := ctx.resolveName(nameOffset, pos+4)
			if err != nil {
				return nodes, pos, err
			}
			pos = p2
			nodes = append(nodes, &Node{Kind: NodePI, Name: name})

		case tokPIData:
			pos++
			numChars, err := r.U16(pos)
			if err != nil {
				return nodes, pos, err
			}
			pos += 2
			b, err := r.Slice(pos, int(numChars)*2)
			if err != nil {
				return nodes, pos, err
			}
			text := decodeUTF16LE(b)
			pos += int(numChars) * 2
			if len(nodes) > 0 && nodes[len(nodes)-1].Kind == NodePI {
				nodes[len(nodes)-1].Text = text
			} else {
				nodes = append(nodes, &Node{Kind: NodePI, Text: text})
			}

		case tokNormalSub, tokOptionalSub:
			pos++
			subID, err := r.U16(pos)
			if err != nil {
				return nodes, pos, err
			}
			pos += 2
			valType, err := r.U8(pos)
			if err != nil {
				return nodes, pos, err
			}
			pos++
			optional := base == tokOptionalSub
			n, err := ctx.makeSubstitutionNode(subID, valType, optional, triples, mode)
			if err != nil {
				return nodes, pos, err
			}
			if n != nil {
				nodes = append(nodes, n)
			}

		case tokTemplateInstance:
			if mode == modeSkeleton {
				return nodes, pos, errNotCompilable
			}
			sub, p2, err := ctx.handleTemplateInstance(pos)
			if err != nil {
				return nodes, pos, err
			}
			nodes = append(nodes, sub...)
			pos = p2

		case tokFragmentHeader:
			if mode == modeSkeleton {
				return nodes, pos, errNotCompilable
			}
			p2, err := ctx.readFragmentHeader(pos)
			if err != nil {
				return nodes, pos, err
			}
			sub, p3, err := parseContent(ctx, p2, nil, mode)
			if err != nil {
				return nodes, pos, err
			}
			nodes = append(nodes, sub...)
			pos = p3

		default:
			if mode == modeSkeleton {
				return nodes, pos, errNotCompilable
			}
			ctx.diag.addRecordError(ctx.recordID, fmt.Sprintf("unknown opcode 0x%02x at offset %d", tok, pos))
			pos++
		}
	}
}

// makeSubstitutionNode produces either a skeleton placeholder or a
// fully-resolved value node, depending on mode.
func (ctx *parseCtx) makeSubstitutionNode(subID uint16, declType byte, optional bool, triples []substTriple, mode renderMode) (*Node, error) {
	if mode == modeSkeleton {
		return &Node{Kind: NodeSubstitution, SubID: subID, SubDeclType: declType, SubOptional: optional}, nil
	}
	return ctx.resolveSubstitution(subID, declType, optional, triples)
}

// resolveSubstitution evaluates substitution subID against triples. A
// missing triple index degrades to null rather than erroring,
// matching the tolerant per-record error policy.
func (ctx *parseCtx) resolveSubstitution(subID uint16, declType byte, optional bool, triples []substTriple) (*Node, error) {
	var data []byte
	typ := declType
	if int(subID) < len(triples) {
		t := triples[subID]
		typ = t.typ
		if t.size > 0 {
			b, err := bytereader.New(ctx.chunk).Slice(t.offset, t.size)
			if err == nil {
				data = b
			}
		}
	}
	rv, err := renderValue(data, typ, ctx.recurseBinXml)
	if err != nil {
		ctx.diag.addRecordError(ctx.recordID, fmt.Sprintf("substitution %d: %v", subID, err))
		rv = renderedValue{IsNull: true}
	}
	if optional && rv.IsNull {
		return nil, nil
	}
	return &Node{Kind: NodeValue, RV: &rv}, nil
}

// recurseBinXml parses an embedded BinXml substitution value (kind
// 0x21) into its own content tree.
func (ctx *parseCtx) recurseBinXml(data []byte) ([]*Node, error) {
	if ctx.depth+1 > ctx.cfg.effectiveRecursionLimit() {
		ctx.diag.addRecordError(ctx.recordID, "embedded BinXml recursion limit exceeded")
		return nil, nil
	}
	sub := newEmbeddedCtx(ctx, data)
	sub.depth = ctx.depth + 1
	pos, err := sub.readFragmentHeader(0)
	if err != nil {
		return nil, err
	}
	nodes, _, err := parseContent(sub, pos, nil, modeResolve)
	return nodes, err
}

// handleTemplateInstance reads a template instance: the instance
// header, the definition (inline or back-reference), the substitution
// descriptor array and value bytes, and renders the referenced
// template against them via the compiled-template cache.
func (ctx *parseCtx) handleTemplateInstance(pos int) ([]*Node, int, error) {
	r := bytereader.New(ctx.chunk)

	tok, err := r.U8(pos)
	if err != nil {
		return nil, pos, err
	}
	if tok&^moreDataFlag != tokTemplateInstance {
		return nil, pos, newErr(KindUnknownToken, nil, "expected TemplateInstance at offset %d, got 0x%02x", pos, tok)
	}
	pos++ // opcode
	pos++ // reserved byte
	if _, err := r.U32(pos); err != nil {
		return nil, pos, err
	}
	pos += 4 // reserved u32
	defOffset, err := r.U32(pos)
	if err != nil {
		return nil, pos, err
	}
	pos += 4

	var (
		def     templateDef
		haveDef bool
	)
	if int(defOffset) == pos {
		d, _, derr := ctx.cat.readDefHeader(pos)
		if derr != nil {
			ctx.diag.addRecordError(ctx.recordID, fmt.Sprintf("inline template header at %d: %v", pos, derr))
		} else {
			ctx.cat.insert(pos, d)
			ctx.diag.TemplateDefinitionsSeen++
			def = d
			haveDef = true
			pos = d.bodyStart + d.bodySize
		}
	} else {
		d, ok := ctx.cat.lookup(int(defOffset))
		if ok {
			def = d
			haveDef = true
		}
	}

	valueCount, err := r.U32(pos)
	if err != nil {
		return nil, pos, err
	}
	pos += 4
	descrStart := pos

	type descr struct {
		size uint16
		typ  byte
	}
	descrs := make([]descr, valueCount)
	for i := range descrs {
		sz, derr := r.U16(pos)
		if derr != nil {
			return nil, pos, derr
		}
		pos += 2
		ty, derr := r.U8(pos)
		if derr != nil {
			return nil, pos, derr
		}
		pos += 2 // type byte + 1 padding byte
		descrs[i] = descr{size: sz, typ: ty}
	}

	triples := make([]substTriple, valueCount)
	cum := pos
	for i, d := range descrs {
		triples[i] = substTriple{offset: cum, size: int(d.size), typ: d.typ}
		cum += int(d.size)
	}
	pos = cum

	ctx.diag.TemplateReferencesSeen++

	if !haveDef {
		ctx.diag.addMissingTemplate(ctx.recordID, GUID{}, defOffset)
		return []*Node{{Kind: NodeComment, Text: fmt.Sprintf("missing template at offset %d", defOffset)}}, pos, nil
	}

	if ctx.depth+1 > ctx.cfg.effectiveRecursionLimit() {
		ctx.diag.addRecordError(ctx.recordID, "template recursion limit exceeded")
		return []*Node{{Kind: NodeComment, Text: "template recursion limit exceeded"}}, pos, nil
	}

	// A (GUID, raw descriptor and value bytes) pair renders identically
	// every time — the render is a pure function of those bytes — so
	// repeated identical instances (heartbeat/status events are the
	// common case) skip straight to a cached result. Bounded by
	// Config.TemplateCacheSize; only renders that recorded no
	// diagnostic are cached, so a record whose instantiation hits a
	// diagnostic still reports it.
	key := instanceKey{guid: def.guid, fingerprint: crc32evtx.Checksum(ctx.chunk[descrStart:pos])}
	cache := instanceCacheFor(ctx.cfg.effectiveTemplateCacheSize())
	if v, ok := cache.Get(key); ok {
		return v.([]*Node), pos, nil
	}
	diagBefore := len(ctx.diag.RecordErrors) + len(ctx.diag.MissingTemplates)

	compiled := getOrCompile(def.guid, ctx, def.bodyStart)

	var nodes []*Node
	if compiled.NotCompilable {
		fpos, ferr := ctx.readFragmentHeader(def.bodyStart)
		if ferr != nil {
			ctx.diag.addMissingTemplate(ctx.recordID, def.guid, defOffset)
			return []*Node{{Kind: NodeComment, Text: fmt.Sprintf("template %s body unreadable", def.guid)}}, pos, nil
		}
		sub := *ctx
		sub.depth = ctx.depth + 1
		nodes, _, err = parseContent(&sub, fpos, triples, modeResolve)
		if err != nil {
			ctx.diag.addRecordError(ctx.recordID, fmt.Sprintf("template %s: %v", def.guid, err))
			nodes = []*Node{{Kind: NodeComment, Text: fmt.Sprintf("template %s: parse error", def.guid)}}
		}
	} else {
		sub := *ctx
		sub.depth = ctx.depth + 1
		nodes, err = instantiateSkeleton(&sub, compiled.Skeleton, triples)
		if err != nil {
			ctx.diag.addRecordError(ctx.recordID, fmt.Sprintf("template %s: %v", def.guid, err))
			nodes = []*Node{{Kind: NodeComment, Text: fmt.Sprintf("template %s: render error", def.guid)}}
		}
	}
	if err == nil && len(ctx.diag.RecordErrors)+len(ctx.diag.MissingTemplates) == diagBefore {
		cache.Add(key, nodes)
	}
	return nodes, pos, nil
}

// decodeRecordPayload is the BinXml interpreter's entry point for one
// event record's payload.
func decodeRecordPayload(chunk []byte, names *nameTable, cat *catalogue, payloadStart int, cfg Config, diag *Diagnostics, recordID uint64) []*Node {
	ctx := &parseCtx{chunk: chunk, names: names, cat: cat, diag: diag, cfg: cfg, recordID: recordID}

	pos, err := ctx.readFragmentHeader(payloadStart)
	if err != nil {
		diag.addRecordError(recordID, fmt.Sprintf("fragment header: %v", err))
		return []*Node{{Kind: NodeComment, Text: "malformed record: bad fragment header"}}
	}

	tok, err := bytereader.New(chunk).U8(pos)
	if err != nil {
		diag.addRecordError(recordID, "truncated record body")
		return []*Node{{Kind: NodeComment, Text: "malformed record: truncated"}}
	}

	switch tok &^ moreDataFlag {
	case tokTemplateInstance:
		nodes, _, err := ctx.handleTemplateInstance(pos)
		if err != nil {
			diag.addRecordError(recordID, fmt.Sprintf("template instance: %v", err))
			return []*Node{{Kind: NodeComment, Text: "malformed record"}}
		}
		return nodes
	case tokOpenStart:
		el, _, err := parseElement(ctx, pos, nil, modeResolve)
		if err != nil {
			diag.addRecordError(recordID, fmt.Sprintf("element: %v", err))
			return []*Node{{Kind: NodeComment, Text: "malformed record"}}
		}
		return []*Node{el}
	default:
		diag.addRecordError(recordID, fmt.Sprintf("unexpected top-level opcode 0x%02x at offset %d", tok, pos))
		return []*Node{{Kind: NodeComment, Text: "malformed record: unexpected opcode"}}
	}
}
