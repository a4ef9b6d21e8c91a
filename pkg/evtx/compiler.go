// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"git.lukeshu.com/go/typedsync"
)

// CompiledTemplate is a template body reduced to a reusable skeleton:
// a content tree identical in shape to a fully-resolved one, except
// that every substitution site is a NodeSubstitution placeholder
// instead of a NodeValue. Instantiating it against a fresh set of
// substTriple values (instantiateSkeleton) re-walks only the tree —
// never the original bytes or the name table — for fast reuse. Names
// are resolved to literal strings at compile time, so a
// CompiledTemplate carries no chunk-relative offsets and is safe to
// reuse verbatim for a later chunk's instance of the "same"
// (GUID-identical) template, under the assumption that two template
// definitions sharing a GUID always share the same bytes.
//
// A template whose body contains a nested TemplateInstance or
// FragmentHeader, or an unrecognized opcode, cannot be reduced this
// way (those constructs only make sense against runtime state); its
// CompiledTemplate has NotCompilable set, and handleTemplateInstance
// falls back to direct interpretation of the body (no skeleton)
// whenever that GUID is instantiated and the rendered-instance cache
// misses.
type CompiledTemplate struct {
	Skeleton      []*Node
	SlotCount     int
	NotCompilable bool
}

// templateCache is the GUID-keyed, process-wide cache of compiled
// templates: it is preserved across chunks, and on a concurrent
// first-write race both compiled values are equivalent so either may
// win. It is a package-level typedsync.Map since compiled templates
// stay valid for the lifetime of the whole decode (or even across
// multiple files sharing a provider's templates), not just one
// chunk's.
var templateCache typedsync.Map[GUID, *CompiledTemplate]

// getOrCompile returns the cached CompiledTemplate for guid,
// compiling it against ctx/bodyStart on a cache miss. Concurrent
// misses for the same GUID both compile (wastefully, but harmlessly:
// the body is content-addressed by GUID so both results are
// equivalent) and LoadOrStore resolves the race by keeping whichever
// was stored first.
func getOrCompile(guid GUID, ctx *parseCtx, bodyStart int) *CompiledTemplate {
	if v, ok := templateCache.Load(guid); ok {
		return v
	}
	compiled := compileTemplate(ctx, bodyStart)
	actual, _ := templateCache.LoadOrStore(guid, compiled)
	return actual
}

// compileTemplate walks the template body the same way normal
// rendering does, but in modeSkeleton, so substitutions become
// placeholders instead of being evaluated, and any construct that
// depends on runtime state (nested TemplateInstance/FragmentHeader,
// or an unknown opcode) bails the whole compilation rather than
// partially succeeding.
func compileTemplate(ctx *parseCtx, bodyStart int) *CompiledTemplate {
	fpos, err := ctx.readFragmentHeader(bodyStart)
	if err != nil {
		return &CompiledTemplate{NotCompilable: true}
	}
	nodes, _, err := parseContent(ctx, fpos, nil, modeSkeleton)
	if err != nil {
		return &CompiledTemplate{NotCompilable: true}
	}
	return &CompiledTemplate{Skeleton: nodes, SlotCount: countSlots(nodes)}
}

func countSlots(nodes []*Node) int {
	n := 0
	for _, nd := range nodes {
		if nd.Kind == NodeSubstitution {
			n++
		}
		for _, a := range nd.Attrs {
			n += countSlots(a.Value)
		}
		n += countSlots(nd.Children)
	}
	return n
}

// instantiateSkeleton renders a compiled skeleton against triples,
// replacing each NodeSubstitution with its resolved NodeValue (or
// dropping it, for a null optional slot) and rebuilding every
// enclosing NodeElement so the shared, cached skeleton is never
// mutated. Purely-literal leaves (NodeText, NodeCData, ...) are
// returned as-is: they carry no substitution state, so sharing them
// across concurrent renders is safe.
func instantiateSkeleton(ctx *parseCtx, nodes []*Node, triples []substTriple) ([]*Node, error) {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		rn, err := instantiateNode(ctx, n, triples)
		if err != nil {
			return nil, err
		}
		if rn != nil {
			out = append(out, rn)
		}
	}
	return out, nil
}

func instantiateNode(ctx *parseCtx, n *Node, triples []substTriple) (*Node, error) {
	switch n.Kind {
	case NodeSubstitution:
		return ctx.resolveSubstitution(n.SubID, n.SubDeclType, n.SubOptional, triples)
	case NodeElement:
		clone := &Node{Kind: NodeElement, Name: n.Name}
		for _, a := range n.Attrs {
			av, err := instantiateSkeleton(ctx, a.Value, triples)
			if err != nil {
				return nil, err
			}
			clone.Attrs = append(clone.Attrs, &Attr{Name: a.Name, Value: av})
		}
		children, err := instantiateSkeleton(ctx, n.Children, triples)
		if err != nil {
			return nil, err
		}
		clone.Children = children
		return clone, nil
	default:
		return n, nil
	}
}
