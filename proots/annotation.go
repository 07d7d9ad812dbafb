package proots

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/ipld"
	"github.com/Proots-Foundation/pRoots-command-line/resolver"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
)

// Annotation marks the span [From, End] of a sequence with a comment.
type Annotation struct {
	Address string
	From    uint64
	End     uint64
	Comment string
}

// NewAnnotation returns a validated annotation.
func NewAnnotation(address string, from, end uint64, comment string) (Annotation, error) {
	a := Annotation{Address: address, From: from, End: end, Comment: comment}
	if err := a.Validate(); err != nil {
		return Annotation{}, err
	}
	return a, nil
}

// Validate checks From <= End, that both offsets fit the wire integer and
// that Address and Comment are valid UTF-8.
func (a Annotation) Validate() error {
	if err := checkText(KeyAddr, a.Address); err != nil {
		return err
	}
	if err := checkText(KeyCmt, a.Comment); err != nil {
		return err
	}
	if err := checkOffset(KeyFrom, a.From); err != nil {
		return err
	}
	if err := checkOffset(KeyEnd, a.End); err != nil {
		return err
	}
	if a.From > a.End {
		return &ValidationError{Field: "span", Message: fmt.Sprintf("from %d is after end %d", a.From, a.End)}
	}
	return nil
}

// ToValue returns the wire form of a. Offsets are assumed valid.
func (a Annotation) ToValue() ipld.Value {
	return ipld.MustMap(
		ipld.Entry{Key: KeyType, Value: ipld.String(TypeAnnotation)},
		ipld.Entry{Key: KeyAddr, Value: ipld.String(a.Address)},
		ipld.Entry{Key: KeyFrom, Value: ipld.Int(int64(a.From))},
		ipld.Entry{Key: KeyEnd, Value: ipld.Int(int64(a.End))},
		ipld.Entry{Key: KeyCmt, Value: ipld.String(a.Comment)},
	)
}

// AnnotationFromValue reads an annotation from its wire form.
func AnnotationFromValue(v ipld.Value) (Annotation, error) {
	f, err := openRecord(v, TypeAnnotation)
	if err != nil {
		return Annotation{}, err
	}
	var a Annotation
	if a.Address, err = f.str(KeyAddr); err != nil {
		return Annotation{}, err
	}
	if a.From, err = f.uint(KeyFrom); err != nil {
		return Annotation{}, err
	}
	if a.End, err = f.uint(KeyEnd); err != nil {
		return Annotation{}, err
	}
	if a.Comment, err = f.str(KeyCmt); err != nil {
		return Annotation{}, err
	}
	if err := a.Validate(); err != nil {
		return Annotation{}, err
	}
	return a, nil
}

// Build stores a and returns its CID.
func (a Annotation) Build(ctx context.Context, store storage.CAS, opts ...Option) (cid.Cid, error) {
	return a.build(ctx, store, newOptions(opts))
}

func (a Annotation) build(ctx context.Context, store storage.CAS, o options) (cid.Cid, error) {
	if err := a.Validate(); err != nil {
		return cid.Undef, err
	}
	id, err := resolver.Publish(ctx, store, o.codec, a.ToValue())
	if err != nil {
		return cid.Undef, err
	}
	o.logger.DebugContext(ctx, "built annotation", "cid", id.String(), "addr", a.Address)
	return id, nil
}

// ResolveAnnotation fetches and decodes the annotation stored under id.
func ResolveAnnotation(ctx context.Context, id cid.Cid, store storage.CAS, opts ...Option) (Annotation, error) {
	return resolveAnnotation(ctx, id, store, newOptions(opts))
}

func resolveAnnotation(ctx context.Context, id cid.Cid, store storage.CAS, o options) (Annotation, error) {
	v, err := resolver.Hydrate(ctx, store, id)
	if err != nil {
		return Annotation{}, err
	}
	a, err := AnnotationFromValue(v)
	if err != nil {
		return Annotation{}, err
	}
	o.logger.DebugContext(ctx, "resolved annotation", "cid", id.String())
	return a, nil
}
