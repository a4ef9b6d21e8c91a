// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"bytes"
	"fmt"
	"io"

	"git.lukeshu.com/go/lowmemjson"
)

// jsonValue is an order-preserving JSON value. Go's encoding/json (and
// lowmemjson's own map support) sort object keys, which would lose the
// order child elements appear in the token stream; jsonValue instead
// implements lowmemjson.Encodable itself, writing object members in
// insertion order and delegating scalar/array leaves to
// lowmemjson.Encode for its escaping and number formatting.
type jsonValue struct {
	isNull  bool
	raw     any // scalar or array leaf; valid when not isNull and objKeys == nil
	objKeys []string
	objVals []jsonValue
}

var _ lowmemjson.Encodable = jsonValue{}

func (v jsonValue) EncodeJSON(w io.Writer) error {
	switch {
	case v.objKeys != nil:
		if _, err := io.WriteString(w, "{"); err != nil {
			return err
		}
		for i, k := range v.objKeys {
			if i > 0 {
				if _, err := io.WriteString(w, ","); err != nil {
					return err
				}
			}
			if err := lowmemjson.Encode(w, k); err != nil {
				return err
			}
			if _, err := io.WriteString(w, ":"); err != nil {
				return err
			}
			if err := v.objVals[i].EncodeJSON(w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "}")
		return err
	case v.isNull:
		_, err := io.WriteString(w, "null")
		return err
	default:
		return lowmemjson.Encode(w, v.raw)
	}
}

// objBuilder accumulates an ordered object's members, suffixing
// repeated keys _1, _2, … from the second occurrence.
type objBuilder struct {
	keys   []string
	vals   []jsonValue
	counts map[string]int
}

func newObjBuilder() *objBuilder { return &objBuilder{counts: make(map[string]int)} }

func (b *objBuilder) add(name string, v jsonValue) {
	n := b.counts[name]
	b.counts[name] = n + 1
	key := name
	if n > 0 {
		key = fmt.Sprintf("%s_%d", name, n)
	}
	b.keys = append(b.keys, key)
	b.vals = append(b.vals, v)
}

func (b *objBuilder) build() jsonValue {
	return jsonValue{objKeys: b.keys, objVals: b.vals}
}

// EncodeJSON renders a decoded record's content tree to JSON.
func EncodeJSON(nodes []*Node) ([]byte, error) {
	var root jsonValue
	switch {
	case firstElement(nodes) != nil:
		root = classifyElement(firstElement(nodes))
	case len(nodes) > 0 && nodes[0].Kind == NodeComment:
		b := newObjBuilder()
		b.add("#error", jsonValue{raw: nodes[0].Text})
		root = b.build()
	default:
		root = jsonValue{isNull: true}
	}
	var buf bytes.Buffer
	if err := lowmemjson.Encode(&buf, root); err != nil {
		return nil, newErr(KindInternal, err, "json encode")
	}
	return buf.Bytes(), nil
}

// classifyElement implements the element-to-JSON classification: null
// for empty/no-attribute elements, a typed scalar for text-only
// elements, otherwise an object with "#attributes", "#text", and one
// property per child element (EventData/UserData flattening their
// Data children).
func classifyElement(el *Node) jsonValue {
	elementChildren, rest := splitChildren(el.Children)
	var textChildren []*Node
	for _, n := range rest {
		if n.Kind != NodeComment {
			textChildren = append(textChildren, n)
		}
	}
	hasAttrs := len(el.Attrs) > 0

	if len(elementChildren) == 0 && !hasAttrs {
		return scalarFromContent(textChildren)
	}

	b := newObjBuilder()
	if hasAttrs {
		ab := newObjBuilder()
		for _, a := range el.Attrs {
			ab.add(a.Name, scalarFromContent(a.Value))
		}
		b.add("#attributes", ab.build())
	}
	if text := textOnlyString(textChildren); text != "" {
		b.add("#text", jsonValue{raw: text})
	}

	flatten := el.Name == "EventData" || el.Name == "UserData"
	for _, c := range elementChildren {
		if flatten && c.Name == "Data" {
			if nameContent, ok := findAttr(c.Attrs, "Name"); ok {
				_, childRest := splitChildren(c.Children)
				key := scalarText(scalarFromContent(nameContent))
				b.add(key, scalarFromContent(childRest))
				continue
			}
		}
		b.add(c.Name, classifyElement(c))
	}
	return b.build()
}

// scalarFromContent renders a content node list (an element with no
// child elements/attributes, or an attribute's value) to a typed JSON
// scalar: a single typed substitution keeps its type; anything else
// becomes a string.
func scalarFromContent(nodes []*Node) jsonValue {
	if len(nodes) == 0 {
		return jsonValue{isNull: true}
	}
	if len(nodes) == 1 && nodes[0].Kind == NodeValue {
		rv := nodes[0].RV
		if rv == nil || rv.IsNull {
			return jsonValue{isNull: true}
		}
		if rv.Nested != nil {
			if el := firstElement(rv.Nested); el != nil {
				return classifyElement(el)
			}
			return jsonValue{raw: textOnlyString(rv.Nested)}
		}
		return jsonValue{raw: rv.JSON}
	}
	return jsonValue{raw: textOnlyString(nodes)}
}

func scalarText(v jsonValue) string {
	if v.isNull {
		return ""
	}
	if s, ok := v.raw.(string); ok {
		return s
	}
	return fmt.Sprint(v.raw)
}
