package codec

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/ipld"
)

// linkTag is the CBOR tag DAG-CBOR reserves for CIDs.
const linkTag = 42

// DagCBOR is the DAG-CBOR codec.
var DagCBOR Codec = dagCBOR{}

// cborEnc uses Core Deterministic Encoding (RFC 8949 §4.2): map keys sorted
// by their encoded bytes (length first, then bytewise), smallest integer
// form, no indefinite lengths. Floats are always written as float64.
var cborEnc cbor.EncMode

// cborDec is strict: indefinite lengths and duplicate map keys are
// rejected, and untyped maps decode with string keys.
var cborDec cbor.DecMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.ShortestFloat = cbor.ShortestFloatNone
	var err error
	cborEnc, err = opts.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	cborDec, err = cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
		IndefLength:    cbor.IndefLengthForbidden,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

type dagCBOR struct{}

func (dagCBOR) Name() string { return "dag-cbor" }
func (dagCBOR) Code() uint64 { return cid.DagCBOR }

func (c dagCBOR) Encode(v ipld.Value) ([]byte, error) {
	x, err := toCBOR(v)
	if err != nil {
		return nil, &EncodeError{Codec: c.Name(), Cause: err}
	}
	b, err := cborEnc.Marshal(x)
	if err != nil {
		return nil, &EncodeError{Codec: c.Name(), Cause: err}
	}
	return b, nil
}

func (c dagCBOR) Decode(data []byte) (ipld.Value, error) {
	if len(data) == 0 {
		return ipld.Value{}, &DecodeError{Codec: c.Name(), Cause: errors.New("empty input")}
	}
	var x any
	if err := cborDec.Unmarshal(data, &x); err != nil {
		return ipld.Value{}, &DecodeError{Codec: c.Name(), Cause: err}
	}
	v, err := fromCBOR(x)
	if err != nil {
		return ipld.Value{}, &DecodeError{Codec: c.Name(), Cause: err}
	}
	return v, nil
}

func toCBOR(v ipld.Value) (any, error) {
	switch v.Kind() {
	case ipld.KindNull:
		return nil, nil
	case ipld.KindBool:
		b, _ := v.AsBool()
		return b, nil
	case ipld.KindInt:
		i, _ := v.AsInt()
		return i, nil
	case ipld.KindFloat:
		f, _ := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite float %v", f)
		}
		return f, nil
	case ipld.KindString:
		s, _ := v.AsString()
		if !utf8.ValidString(s) {
			return nil, errInvalidUTF8
		}
		return s, nil
	case ipld.KindBytes:
		b, _ := v.AsBytes()
		return b, nil
	case ipld.KindLink:
		id, _ := v.AsLink()
		if !id.Defined() {
			return nil, errors.New("undefined link")
		}
		return cbor.Tag{Number: linkTag, Content: append([]byte{0x00}, id.Bytes()...)}, nil
	case ipld.KindList:
		items, _ := v.AsList()
		out := make([]any, 0, len(items))
		for i, item := range items {
			x, err := toCBOR(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, x)
		}
		return out, nil
	case ipld.KindMap:
		entries, _ := v.Entries()
		out := make(map[string]any, len(entries))
		for _, e := range entries {
			if !utf8.ValidString(e.Key) {
				return nil, fmt.Errorf("map key %q: %w", e.Key, errInvalidUTF8)
			}
			x, err := toCBOR(e.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", e.Key, err)
			}
			out[e.Key] = x
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported kind %s", v.Kind())
	}
}

func fromCBOR(x any) (ipld.Value, error) {
	switch t := x.(type) {
	case nil:
		return ipld.Null(), nil
	case bool:
		return ipld.Bool(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return ipld.Value{}, fmt.Errorf("integer %d out of range", t)
		}
		return ipld.Int(int64(t)), nil
	case int64:
		return ipld.Int(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ipld.Value{}, fmt.Errorf("non-finite float %v", t)
		}
		return ipld.Float(t), nil
	case string:
		return ipld.String(t), nil
	case []byte:
		return ipld.Bytes(t), nil
	case []any:
		items := make([]ipld.Value, 0, len(t))
		for i, e := range t {
			v, err := fromCBOR(e)
			if err != nil {
				return ipld.Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items = append(items, v)
		}
		return ipld.List(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return cborKeyLess(keys[i], keys[j]) })
		entries := make([]ipld.Entry, 0, len(keys))
		for _, k := range keys {
			v, err := fromCBOR(t[k])
			if err != nil {
				return ipld.Value{}, fmt.Errorf("%s: %w", k, err)
			}
			entries = append(entries, ipld.Entry{Key: k, Value: v})
		}
		return ipld.NewMap(entries...)
	case cbor.Tag:
		if t.Number != linkTag {
			return ipld.Value{}, fmt.Errorf("unsupported tag %d", t.Number)
		}
		raw, ok := t.Content.([]byte)
		if !ok || len(raw) < 2 || raw[0] != 0x00 {
			return ipld.Value{}, errors.New("malformed link")
		}
		id, err := cid.Cast(raw[1:])
		if err != nil {
			return ipld.Value{}, fmt.Errorf("malformed link: %w", err)
		}
		return ipld.Link(id), nil
	default:
		return ipld.Value{}, fmt.Errorf("unsupported CBOR item %T", x)
	}
}

// cborKeyLess orders text keys the way deterministic CBOR does: shorter
// keys first, then bytewise.
func cborKeyLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
