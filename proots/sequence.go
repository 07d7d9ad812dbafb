package proots

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/ipld"
	"github.com/Proots-Foundation/pRoots-command-line/resolver"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
)

// AnnotationLink is one entry of a sequence's annotation list: either an
// in-memory Annotation not yet built, or the CID of a stored one.
type AnnotationLink struct {
	annotation *Annotation
	id         cid.Cid
}

// Materialized wraps an in-memory annotation.
func Materialized(a Annotation) AnnotationLink {
	return AnnotationLink{annotation: &a}
}

// Linked wraps the CID of a stored annotation.
func Linked(id cid.Cid) AnnotationLink {
	return AnnotationLink{id: id}
}

// Annotation returns the in-memory annotation, if l holds one.
func (l AnnotationLink) Annotation() (Annotation, bool) {
	if l.annotation == nil {
		return Annotation{}, false
	}
	return *l.annotation, true
}

// CID returns the stored annotation's CID, if l holds one.
func (l AnnotationLink) CID() (cid.Cid, bool) {
	return l.id, l.annotation == nil && l.id.Defined()
}

// Equal reports whether both links hold equal annotations or the same CID.
func (l AnnotationLink) Equal(o AnnotationLink) bool {
	a, aok := l.Annotation()
	b, bok := o.Annotation()
	if aok || bok {
		return aok && bok && a == b
	}
	return l.id.Equals(o.id)
}

// Sequence is a raw nucleotide sequence with its ordered annotations.
type Sequence struct {
	Address     string
	Sequence    string
	Annotations []AnnotationLink
}

// NewSequence returns a sequence holding the given in-memory annotations.
func NewSequence(address, sequence string, annotations ...Annotation) Sequence {
	s := Sequence{Address: address, Sequence: sequence}
	for _, a := range annotations {
		s.Annotations = append(s.Annotations, Materialized(a))
	}
	return s
}

// AddAnnotation returns a copy of s with a new annotation appended. s is
// never modified.
func (s Sequence) AddAnnotation(address string, from, end uint64, comment string) (Sequence, error) {
	a, err := NewAnnotation(address, from, end, comment)
	if err != nil {
		return Sequence{}, err
	}
	out := s
	out.Annotations = make([]AnnotationLink, 0, len(s.Annotations)+1)
	out.Annotations = append(out.Annotations, s.Annotations...)
	out.Annotations = append(out.Annotations, Materialized(a))
	return out, nil
}

// Equal reports structural equality, including annotation order.
func (s Sequence) Equal(o Sequence) bool {
	if s.Address != o.Address || s.Sequence != o.Sequence || len(s.Annotations) != len(o.Annotations) {
		return false
	}
	for i := range s.Annotations {
		if !s.Annotations[i].Equal(o.Annotations[i]) {
			return false
		}
	}
	return true
}

// ToValue returns the wire form of s. Every annotation must already be a
// CID; otherwise ErrUnbuiltAnnotation is returned.
func (s Sequence) ToValue() (ipld.Value, error) {
	links := make([]ipld.Value, 0, len(s.Annotations))
	for _, l := range s.Annotations {
		id, ok := l.CID()
		if !ok {
			return ipld.Value{}, ErrUnbuiltAnnotation
		}
		links = append(links, ipld.Link(id))
	}
	return sequenceValue(s, links), nil
}

func sequenceValue(s Sequence, links []ipld.Value) ipld.Value {
	return ipld.MustMap(
		ipld.Entry{Key: KeyType, Value: ipld.String(TypeSequence)},
		ipld.Entry{Key: KeyAddr, Value: ipld.String(s.Address)},
		ipld.Entry{Key: KeySeq, Value: ipld.String(s.Sequence)},
		ipld.Entry{Key: KeyAnnots, Value: ipld.List(links...)},
	)
}

// SequenceFromValue reads a sequence from its wire form. Annotations are
// left as CIDs.
func SequenceFromValue(v ipld.Value) (Sequence, error) {
	f, err := openRecord(v, TypeSequence)
	if err != nil {
		return Sequence{}, err
	}
	var s Sequence
	if s.Address, err = f.str(KeyAddr); err != nil {
		return Sequence{}, err
	}
	if s.Sequence, err = f.str(KeySeq); err != nil {
		return Sequence{}, err
	}
	ids, err := f.links(KeyAnnots)
	if err != nil {
		return Sequence{}, err
	}
	for _, id := range ids {
		s.Annotations = append(s.Annotations, Linked(id))
	}
	return s, nil
}

// Validate checks that Address and Sequence are valid UTF-8. Annotations
// are validated as they are built.
func (s Sequence) Validate() error {
	if err := checkText(KeyAddr, s.Address); err != nil {
		return err
	}
	return checkText(KeySeq, s.Sequence)
}

// Build stores every in-memory annotation of s, then the sequence record
// linking to them, and returns the sequence's CID. Annotations already held
// as CIDs are linked as they are.
//
// Annotations are stored concurrently. The first failure cancels the rest
// and is returned as a *BuildError carrying the annotation's index; a
// failure storing the sequence record itself has Index RecordIndex.
func (s Sequence) Build(ctx context.Context, store storage.CAS, opts ...Option) (cid.Cid, error) {
	o := newOptions(opts)
	if store == nil {
		return cid.Undef, &BuildError{Index: RecordIndex, Err: resolver.ErrMissingCAS}
	}
	if err := s.Validate(); err != nil {
		return cid.Undef, &BuildError{Index: RecordIndex, Err: err}
	}

	links, err := resolver.Map(ctx, s.Annotations, o.concurrency, func(ctx context.Context, _ int, l AnnotationLink) (ipld.Value, error) {
		if id, ok := l.CID(); ok {
			return ipld.Link(id), nil
		}
		a, ok := l.Annotation()
		if !ok {
			return ipld.Value{}, storage.ErrInvalidCID
		}
		id, err := a.build(ctx, store, o)
		if err != nil {
			return ipld.Value{}, err
		}
		return ipld.Link(id), nil
	})
	if err != nil {
		return cid.Undef, buildError(err)
	}

	id, err := resolver.Publish(ctx, store, o.codec, sequenceValue(s, links))
	if err != nil {
		return cid.Undef, &BuildError{Index: RecordIndex, Err: err}
	}
	o.logger.DebugContext(ctx, "built sequence", "cid", id.String(), "addr", s.Address, "annotations", len(links))
	return id, nil
}

// Resolve fetches the sequence stored under id together with all of its
// annotations, returned in stored order.
//
// Resolution is all-or-nothing and fail-fast: the first annotation that
// cannot be fetched or decoded cancels the remaining fetches and is reported
// as a *ResolveError carrying its index. Problems with the root record use
// Index RecordIndex.
func Resolve(ctx context.Context, id cid.Cid, store storage.CAS, opts ...Option) (Sequence, error) {
	o := newOptions(opts)
	s, err := resolveShallow(ctx, id, store, o)
	if err != nil {
		return Sequence{}, err
	}

	ids := make([]cid.Cid, len(s.Annotations))
	for i, l := range s.Annotations {
		ids[i], _ = l.CID()
	}
	annots, err := resolver.Map(ctx, ids, o.concurrency, func(ctx context.Context, _ int, id cid.Cid) (Annotation, error) {
		return resolveAnnotation(ctx, id, store, o)
	})
	if err != nil {
		return Sequence{}, resolveError(err)
	}
	for i, a := range annots {
		s.Annotations[i] = Materialized(a)
	}
	o.logger.DebugContext(ctx, "resolved sequence", "cid", id.String(), "annotations", len(annots))
	return s, nil
}

// ResolveShallow fetches only the sequence record; annotations stay CIDs.
func ResolveShallow(ctx context.Context, id cid.Cid, store storage.CAS, opts ...Option) (Sequence, error) {
	return resolveShallow(ctx, id, store, newOptions(opts))
}

func resolveShallow(ctx context.Context, id cid.Cid, store storage.CAS, o options) (Sequence, error) {
	v, err := resolver.Hydrate(ctx, store, id)
	if err != nil {
		return Sequence{}, &ResolveError{Index: RecordIndex, Err: err}
	}
	s, err := SequenceFromValue(v)
	if err != nil {
		return Sequence{}, &ResolveError{Index: RecordIndex, Err: err}
	}
	o.logger.DebugContext(ctx, "resolved sequence record", "cid", id.String())
	return s, nil
}

func buildError(err error) error {
	var ie *resolver.IndexError
	if errors.As(err, &ie) {
		return &BuildError{Index: ie.Index, Err: ie.Err}
	}
	return &BuildError{Index: RecordIndex, Err: err}
}

func resolveError(err error) error {
	var ie *resolver.IndexError
	if errors.As(err, &ie) {
		return &ResolveError{Index: ie.Index, Err: ie.Err}
	}
	return &ResolveError{Index: RecordIndex, Err: err}
}
