// Package codec serializes ipld.Value trees to bytes and back.
//
// Every codec is deterministic: the same logical value always produces
// byte-identical output, so the CID of a record depends only on its content.
// Two codecs are provided:
//
//   - DagCBOR (multicodec 0x71), the default for new records.
//   - DagJSON (multicodec 0x0129), readable on the wire.
//
// Decoding picks the codec from the CID being resolved (see ForCID), so a
// store can hold records written with either codec.
package codec

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/ipld"
)

// Codec converts between structured values and their canonical bytes.
type Codec interface {
	// Name is the multicodec name, e.g. "dag-cbor".
	Name() string
	// Code is the multicodec code embedded in CIDs of encoded records.
	Code() uint64
	Encode(v ipld.Value) ([]byte, error)
	Decode(data []byte) (ipld.Value, error)
}

// DecodeError reports bytes that are not well formed under a codec.
type DecodeError struct {
	Codec string
	Cause error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("codec: %s decode: %v", e.Codec, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// EncodeError reports a value the codec cannot represent (for example a
// non-finite float or an undefined link).
type EncodeError struct {
	Codec string
	Cause error
}

func (e *EncodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("codec: %s encode: %v", e.Codec, e.Cause)
}

func (e *EncodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// UnknownCodecError reports a multicodec this package does not implement.
type UnknownCodecError struct {
	Code uint64
	Name string
}

func (e *UnknownCodecError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("codec: unknown codec %q", e.Name)
	}
	return fmt.Sprintf("codec: unsupported multicodec 0x%x", e.Code)
}

var registry = []Codec{DagCBOR, DagJSON}

// errInvalidUTF8 rejects strings and map keys that are not valid UTF-8.
var errInvalidUTF8 = errors.New("string is not valid UTF-8")

// Lookup returns the codec registered for a multicodec code.
func Lookup(code uint64) (Codec, error) {
	for _, c := range registry {
		if c.Code() == code {
			return c, nil
		}
	}
	return nil, &UnknownCodecError{Code: code}
}

// ByName returns the codec with the given multicodec name. An empty name
// selects DagCBOR.
func ByName(name string) (Codec, error) {
	if name == "" {
		return DagCBOR, nil
	}
	for _, c := range registry {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, &UnknownCodecError{Name: name}
}

// ForCID returns the codec that produced the bytes addressed by id.
func ForCID(id cid.Cid) (Codec, error) {
	if !id.Defined() {
		return nil, fmt.Errorf("codec: undefined cid")
	}
	return Lookup(id.Type())
}

// Names lists the registered codec names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for _, c := range registry {
		out = append(out, c.Name())
	}
	return out
}
