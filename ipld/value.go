// Package ipld implements the structured value that every pRoots record
// converts to and from before it is encoded.
//
// A Value is an immutable tagged union over null, booleans, integers, floats,
// strings, byte strings, links (CIDs), lists and string-keyed maps. Maps keep
// their insertion order in memory; codecs are responsible for emitting keys in
// their canonical order, so two maps holding the same entries always encode to
// the same bytes.
package ipld

import (
	"bytes"
	"fmt"
	"math"

	"github.com/ipfs/go-cid"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindLink
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindLink:
		return "link"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Entry is one key/value pair of a map Value.
type Entry struct {
	Key   string
	Value Value
}

// Value is a structured value. The zero Value is null.
//
// Values are immutable: constructors copy their inputs and accessors that
// return slices return copies.
type Value struct {
	kind    Kind
	b       bool
	i       int64
	f       float64
	s       string
	raw     []byte
	link    cid.Cid
	list    []Value
	entries []Entry
}

func Null() Value            { return Value{kind: KindNull} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Int(i int64) Value      { return Value{kind: KindInt, i: i} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func Link(id cid.Cid) Value  { return Value{kind: KindLink, link: id} }
func Float(f float64) Value  { return Value{kind: KindFloat, f: f} }
func Bytes(b []byte) Value   { return Value{kind: KindBytes, raw: append([]byte{}, b...)} }
func List(vs ...Value) Value { return Value{kind: KindList, list: append([]Value{}, vs...)} }

// DuplicateKeyError reports a map constructed with the same key twice.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("ipld: duplicate map key %q", e.Key)
}

// NewMap builds a map Value. Keys must be unique.
func NewMap(entries ...Entry) (Value, error) {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Key]; ok {
			return Value{}, &DuplicateKeyError{Key: e.Key}
		}
		seen[e.Key] = struct{}{}
	}
	return Value{kind: KindMap, entries: append([]Entry{}, entries...)}, nil
}

// MustMap is like NewMap but panics on a duplicate key. It is meant for map
// literals whose keys are fixed in source.
func MustMap(entries ...Entry) Value {
	v, err := NewMap(entries...)
	if err != nil {
		panic(err)
	}
	return v
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsLink() (cid.Cid, bool) { return v.link, v.kind == KindLink }

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return append([]byte{}, v.raw...), true
}

// AsList returns a copy of the list elements.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return append([]Value{}, v.list...), true
}

// Entries returns a copy of the map entries in insertion order.
func (v Value) Entries() ([]Entry, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return append([]Entry{}, v.entries...), true
}

// Len returns the number of list elements or map entries, and 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.entries)
	default:
		return 0
	}
}

// Lookup returns the value stored under key when v is a map.
func (v Value) Lookup(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	for _, e := range v.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Equal reports structural equality. Map equality ignores entry order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindString:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindLink:
		return v.link.Equals(o.link)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.entries) != len(o.entries) {
			return false
		}
		for _, e := range v.entries {
			ov, ok := o.Lookup(e.Key)
			if !ok || !e.Value.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Links returns every link reachable from v, depth first, in document order.
// Duplicates are kept.
func Links(v Value) []cid.Cid {
	var out []cid.Cid
	var walk func(Value)
	walk = func(v Value) {
		switch v.kind {
		case KindLink:
			out = append(out, v.link)
		case KindList:
			for _, e := range v.list {
				walk(e)
			}
		case KindMap:
			for _, e := range v.entries {
				walk(e.Value)
			}
		}
	}
	walk(v)
	return out
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.raw))
	case KindLink:
		return "link(" + v.link.String() + ")"
	case KindList:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, e := range v.list {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(e.String())
		}
		b.WriteByte(']')
		return b.String()
	case KindMap:
		var b bytes.Buffer
		b.WriteByte('{')
		for i, e := range v.entries {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%q: %s", e.Key, e.Value.String())
		}
		b.WriteByte('}')
		return b.String()
	default:
		return v.kind.String()
	}
}
