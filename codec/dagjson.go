package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/ipld"
)

// DagJSON is the DAG-JSON codec.
//
// Canonical form: map keys sorted bytewise, no insignificant whitespace,
// links as {"/":"<cid>"} and byte strings as {"/":{"bytes":"<base64>"}}
// (standard alphabet, unpadded). Floats always carry a '.' or an exponent so
// they never read back as integers.
var DagJSON Codec = dagJSON{}

type dagJSON struct{}

// errReservedKey rejects maps that would read back as a link or bytes.
var errReservedKey = errors.New(`map with the single key "/" is reserved for links and bytes`)

func (dagJSON) Name() string { return "dag-json" }
func (dagJSON) Code() uint64 { return cid.DagJSON }

func (c dagJSON) Encode(v ipld.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v); err != nil {
		return nil, &EncodeError{Codec: c.Name(), Cause: err}
	}
	return buf.Bytes(), nil
}

func (c dagJSON) Decode(data []byte) (ipld.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := readJSON(dec)
	if err != nil {
		return ipld.Value{}, &DecodeError{Codec: c.Name(), Cause: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return ipld.Value{}, &DecodeError{Codec: c.Name(), Cause: errors.New("trailing data after value")}
	}
	return v, nil
}

func writeJSON(buf *bytes.Buffer, v ipld.Value) error {
	switch v.Kind() {
	case ipld.KindNull:
		buf.WriteString("null")
	case ipld.KindBool:
		b, _ := v.AsBool()
		buf.WriteString(strconv.FormatBool(b))
	case ipld.KindInt:
		i, _ := v.AsInt()
		buf.WriteString(strconv.FormatInt(i, 10))
	case ipld.KindFloat:
		f, _ := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite float %v", f)
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		buf.WriteString(s)
	case ipld.KindString:
		s, _ := v.AsString()
		if !utf8.ValidString(s) {
			return errInvalidUTF8
		}
		writeJSONString(buf, s)
	case ipld.KindBytes:
		b, _ := v.AsBytes()
		buf.WriteString(`{"/":{"bytes":`)
		writeJSONString(buf, base64.RawStdEncoding.EncodeToString(b))
		buf.WriteString("}}")
	case ipld.KindLink:
		id, _ := v.AsLink()
		if !id.Defined() {
			return errors.New("undefined link")
		}
		buf.WriteString(`{"/":`)
		writeJSONString(buf, id.String())
		buf.WriteByte('}')
	case ipld.KindList:
		items, _ := v.AsList()
		buf.WriteByte('[')
		for i, item := range items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, item); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case ipld.KindMap:
		entries, _ := v.Entries()
		if len(entries) == 1 && entries[0].Key == "/" {
			return errReservedKey
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
		buf.WriteByte('{')
		for i, e := range entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			if !utf8.ValidString(e.Key) {
				return fmt.Errorf("map key %q: %w", e.Key, errInvalidUTF8)
			}
			writeJSONString(buf, e.Key)
			buf.WriteByte(':')
			if err := writeJSON(buf, e.Value); err != nil {
				return fmt.Errorf("%s: %w", e.Key, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encode on a string cannot fail.
	_ = enc.Encode(s)
	// json.Encoder terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
}

func readJSON(dec *json.Decoder) (ipld.Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return ipld.Value{}, errors.New("unexpected end of input")
		}
		return ipld.Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return ipld.Null(), nil
	case bool:
		return ipld.Bool(t), nil
	case string:
		return ipld.String(t), nil
	case json.Number:
		return parseJSONNumber(t)
	case json.Delim:
		switch t {
		case '[':
			var items []ipld.Value
			for dec.More() {
				v, err := readJSON(dec)
				if err != nil {
					return ipld.Value{}, fmt.Errorf("[%d]: %w", len(items), err)
				}
				items = append(items, v)
			}
			if _, err := dec.Token(); err != nil {
				return ipld.Value{}, err
			}
			return ipld.List(items...), nil
		case '{':
			return readJSONMap(dec)
		}
	}
	return ipld.Value{}, fmt.Errorf("unexpected token %v", tok)
}

func readJSONMap(dec *json.Decoder) (ipld.Value, error) {
	var entries []ipld.Entry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return ipld.Value{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return ipld.Value{}, fmt.Errorf("unexpected map key %v", tok)
		}
		v, err := readJSON(dec)
		if err != nil {
			return ipld.Value{}, fmt.Errorf("%s: %w", key, err)
		}
		entries = append(entries, ipld.Entry{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return ipld.Value{}, err
	}
	if len(entries) == 1 && entries[0].Key == "/" {
		return reservedJSONForm(entries[0].Value)
	}
	return ipld.NewMap(entries...)
}

// reservedJSONForm interprets the single-key {"/": ...} map, which DAG-JSON
// reserves for links and byte strings.
func reservedJSONForm(inner ipld.Value) (ipld.Value, error) {
	if s, ok := inner.AsString(); ok {
		id, err := cid.Decode(s)
		if err != nil {
			return ipld.Value{}, fmt.Errorf("malformed link: %w", err)
		}
		return ipld.Link(id), nil
	}
	if inner.Kind() == ipld.KindMap && inner.Len() == 1 {
		if b, ok := inner.Lookup("bytes"); ok {
			s, ok := b.AsString()
			if !ok {
				return ipld.Value{}, errors.New("malformed bytes: not a string")
			}
			raw, err := base64.RawStdEncoding.DecodeString(s)
			if err != nil {
				return ipld.Value{}, fmt.Errorf("malformed bytes: %w", err)
			}
			return ipld.Bytes(raw), nil
		}
	}
	return ipld.Value{}, errors.New(`reserved key "/" used outside a link or bytes form`)
}

func parseJSONNumber(n json.Number) (ipld.Value, error) {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return ipld.Value{}, fmt.Errorf("float %s: %w", s, err)
		}
		return ipld.Float(f), nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ipld.Value{}, fmt.Errorf("integer %s out of range", s)
	}
	return ipld.Int(i), nil
}
