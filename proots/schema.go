package proots

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/ipld"
)

// Record type tags.
const (
	TypeSequence   = "sequence"
	TypeAnnotation = "annotation"
)

// Wire keys. These are case-sensitive and part of the stored format.
const (
	KeyType   = "Type"
	KeyAddr   = "Addr"
	KeySeq    = "Seq"
	KeyAnnots = "Annots"
	KeyFrom   = "From"
	KeyEnd    = "End"
	KeyCmt    = "Cmt"
)

// fields reads typed fields out of a record map.
type fields struct {
	record string
	v      ipld.Value
}

// openRecord checks that v is a map whose Type is record.
func openRecord(v ipld.Value, record string) (fields, error) {
	f := fields{record: record, v: v}
	if v.Kind() != ipld.KindMap {
		return f, &SchemaError{Kind: NotAMap, Record: record, Got: v.Kind().String()}
	}
	typ, err := f.str(KeyType)
	if err != nil {
		return f, err
	}
	if typ != record {
		return f, &SchemaError{Kind: WrongRecordType, Record: record, Field: KeyType, Expected: record, Got: typ}
	}
	return f, nil
}

func (f fields) get(key string) (ipld.Value, error) {
	v, ok := f.v.Lookup(key)
	if !ok {
		return ipld.Value{}, &SchemaError{Kind: MissingField, Record: f.record, Field: key}
	}
	return v, nil
}

func (f fields) wrongType(key, expected string, got ipld.Value) error {
	return &SchemaError{Kind: WrongType, Record: f.record, Field: key, Expected: expected, Got: got.Kind().String()}
}

func (f fields) str(key string) (string, error) {
	v, err := f.get(key)
	if err != nil {
		return "", err
	}
	s, ok := v.AsString()
	if !ok {
		return "", f.wrongType(key, "string", v)
	}
	return s, nil
}

func (f fields) uint(key string) (uint64, error) {
	v, err := f.get(key)
	if err != nil {
		return 0, err
	}
	i, ok := v.AsInt()
	if !ok {
		return 0, f.wrongType(key, "int", v)
	}
	if i < 0 {
		return 0, &SchemaError{Kind: OutOfRange, Record: f.record, Field: key, Expected: "non-negative int", Got: fmt.Sprint(i)}
	}
	return uint64(i), nil
}

func (f fields) links(key string) ([]cid.Cid, error) {
	v, err := f.get(key)
	if err != nil {
		return nil, err
	}
	items, ok := v.AsList()
	if !ok {
		return nil, f.wrongType(key, "list", v)
	}
	out := make([]cid.Cid, 0, len(items))
	for i, item := range items {
		id, ok := item.AsLink()
		if !ok {
			return nil, f.wrongType(fmt.Sprintf("%s[%d]", key, i), "link", item)
		}
		out = append(out, id)
	}
	return out, nil
}

// checkOffset rejects offsets the wire integer cannot carry.
func checkOffset(field string, n uint64) error {
	if n > math.MaxInt64 {
		return &ValidationError{Field: field, Message: fmt.Sprintf("%d exceeds %d", n, int64(math.MaxInt64))}
	}
	return nil
}

func checkText(field, s string) error {
	if !utf8.ValidString(s) {
		return &ValidationError{Field: field, Message: fmt.Sprintf("%q is not valid UTF-8", s)}
	}
	return nil
}
