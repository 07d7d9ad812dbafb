package proots

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/codec"
	"github.com/Proots-Foundation/pRoots-command-line/ipld"
	"github.com/Proots-Foundation/pRoots-command-line/resolver"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
	"github.com/Proots-Foundation/pRoots-command-line/storage/memory"
)

func threeAnnotations() []Annotation {
	return []Annotation{
		{Address: "a0", From: 0, End: 4, Comment: "first"},
		{Address: "a1", From: 5, End: 9, Comment: "second"},
		{Address: "a2", From: 10, End: 14, Comment: "third"},
	}
}

func TestSequence_EmptyExample(t *testing.T) {
	ctx := context.Background()
	store := memory.New(cidutil.DefaultPrefix)
	s := NewSequence("addr1", "AATCG")

	id, err := s.Build(ctx, store)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err := Resolve(ctx, id, store)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !got.Equal(s) {
		t.Fatalf("resolved %+v want %+v", got, s)
	}
	if len(got.Annotations) != 0 {
		t.Fatalf("expected no annotations, got %d", len(got.Annotations))
	}
}

func TestSequence_BuildResolveRoundTrip(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		codec  codec.Codec
		prefix cid.Prefix
		annots []Annotation
	}{
		{"dag-cbor/none", codec.DagCBOR, cidutil.DefaultPrefix, nil},
		{"dag-cbor/one", codec.DagCBOR, cidutil.DefaultPrefix, threeAnnotations()[:1]},
		{"dag-cbor/three", codec.DagCBOR, cidutil.DefaultPrefix, threeAnnotations()},
		{"dag-json/blake3", codec.DagJSON, cidutil.Prefix(cid.DagJSON, multihash.BLAKE3), threeAnnotations()},
		{"dag-json/blake2b", codec.DagJSON, cidutil.Prefix(cid.DagJSON, cidutil.BLAKE2b256), threeAnnotations()[1:]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.New(tc.prefix)
			s := NewSequence("seq-addr", "AATCGATCGATGCTAGTAGATTACGTA", tc.annots...)

			id, err := s.Build(ctx, store, WithCodec(tc.codec))
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if id.Type() != tc.codec.Code() {
				t.Fatalf("root CID codec 0x%x, want 0x%x", id.Type(), tc.codec.Code())
			}
			got, err := Resolve(ctx, id, store)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if !got.Equal(s) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, s)
			}
			if store.Len() != len(tc.annots)+1 {
				t.Fatalf("expected %d blocks, got %d", len(tc.annots)+1, store.Len())
			}
		})
	}
}

func TestSequence_BuildIsDeterministic(t *testing.T) {
	ctx := context.Background()
	store := memory.New(cidutil.DefaultPrefix)
	s := NewSequence("addr1", "AATCG", threeAnnotations()...)

	id1, err := s.Build(ctx, store)
	if err != nil {
		t.Fatalf("Build(1): %v", err)
	}
	id2, err := s.Build(ctx, store, WithConcurrency(1))
	if err != nil {
		t.Fatalf("Build(2): %v", err)
	}
	if !id1.Equals(id2) {
		t.Fatalf("Build not deterministic: %s vs %s", id1, id2)
	}

	// A separate store with the same prefix agrees too.
	id3, err := s.Build(ctx, memory.New(cidutil.DefaultPrefix))
	if err != nil {
		t.Fatalf("Build(3): %v", err)
	}
	if !id1.Equals(id3) {
		t.Fatalf("CID depends on store instance: %s vs %s", id1, id3)
	}
}

func TestResolve_PreservesOrderUnderDelays(t *testing.T) {
	ctx := context.Background()
	base := memory.New(cidutil.DefaultPrefix)
	annots := threeAnnotations()

	ids := make([]cid.Cid, len(annots))
	for i, a := range annots {
		id, err := a.Build(ctx, base)
		if err != nil {
			t.Fatalf("Build annotation %d: %v", i, err)
		}
		ids[i] = id
	}
	root, err := NewSequence("addr1", "AATCG", annots...).Build(ctx, base)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	store := &delayCAS{
		CAS: base,
		delays: map[string]time.Duration{
			ids[0].String(): 20 * time.Millisecond,
			ids[1].String(): 120 * time.Millisecond,
			ids[2].String(): 1 * time.Millisecond,
		},
	}
	got, err := Resolve(ctx, root, store)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for i, l := range got.Annotations {
		a, ok := l.Annotation()
		if !ok || a != annots[i] {
			t.Fatalf("annotation %d: got %+v want %+v", i, a, annots[i])
		}
	}

	order := store.completionOrder()
	if len(order) != 4 || order[len(order)-1] != ids[1].String() {
		t.Fatalf("expected a1 to complete last, completion order %v", order)
	}
}

func TestResolve_MissingSecondAnnotation(t *testing.T) {
	ctx := context.Background()
	store := memory.New(cidutil.DefaultPrefix)
	annots := threeAnnotations()

	a0, err := annots[0].Build(ctx, store)
	if err != nil {
		t.Fatalf("Build a0: %v", err)
	}
	a2, err := annots[2].Build(ctx, store)
	if err != nil {
		t.Fatalf("Build a2: %v", err)
	}
	missing, err := cidutil.Sum(cidutil.DefaultPrefix, []byte("never stored"))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	s := Sequence{Address: "addr1", Sequence: "AATCG", Annotations: []AnnotationLink{Linked(a0), Linked(missing), Linked(a2)}}
	root, err := s.Build(ctx, store)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	_, err = Resolve(ctx, root, store)
	var re *ResolveError
	if !errors.As(err, &re) {
		t.Fatalf("expected *ResolveError, got %T %v", err, err)
	}
	if re.Index != 1 {
		t.Fatalf("ResolveError.Index: got %d want 1", re.Index)
	}
	if !storage.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestResolve_FailFastCancelsSiblings(t *testing.T) {
	ctx := context.Background()
	base := memory.New(cidutil.DefaultPrefix)
	annots := threeAnnotations()

	a0, err := annots[0].Build(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := annots[2].Build(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	missing, err := cidutil.Sum(cidutil.DefaultPrefix, []byte("gone"))
	if err != nil {
		t.Fatal(err)
	}
	root, err := Sequence{Address: "s", Annotations: []AnnotationLink{Linked(a0), Linked(missing), Linked(a2)}}.Build(ctx, base)
	if err != nil {
		t.Fatal(err)
	}

	store := &blockingCAS{CAS: base, block: map[string]bool{a0.String(): true, a2.String(): true}}
	start := time.Now()
	_, err = Resolve(ctx, root, store)
	var re *ResolveError
	if !errors.As(err, &re) || re.Index != 1 {
		t.Fatalf("expected ResolveError at index 1, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("siblings were not cancelled (took %s)", elapsed)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.finished != 0 {
		t.Fatalf("%d blocked siblings ran to completion", store.finished)
	}
}

func TestResolve_CallerCancelIsNotAnAnnotationFailure(t *testing.T) {
	base := memory.New(cidutil.DefaultPrefix)
	var links []AnnotationLink
	block := map[string]bool{}
	for _, a := range threeAnnotations() {
		id, err := a.Build(context.Background(), base)
		if err != nil {
			t.Fatal(err)
		}
		links = append(links, Linked(id))
		block[id.String()] = true
	}
	root, err := Sequence{Address: "s", Annotations: links}.Build(context.Background(), base)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = Resolve(ctx, root, &blockingCAS{CAS: base, block: block})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var re *ResolveError
	if errors.As(err, &re) && re.Index != RecordIndex {
		t.Fatalf("cancellation reported as annotation %d failing", re.Index)
	}
}

func TestResolve_RootErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.New(cidutil.DefaultPrefix)

	put := func(v ipld.Value) cid.Cid {
		t.Helper()
		id, err := resolver.Publish(ctx, store, codec.DagCBOR, v)
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		return id
	}
	annot := put(Annotation{Address: "a", End: 1}.ToValue())

	cases := []struct {
		name  string
		id    cid.Cid
		check func(error) bool
	}{
		{"not found", mustSum(t, "absent"), storage.IsNotFound},
		{"not a map", put(ipld.List()), func(err error) bool { return IsSchemaKind(err, NotAMap) }},
		{"annotation at root", annot, func(err error) bool { return IsSchemaKind(err, WrongRecordType) }},
		{"missing Seq", put(ipld.MustMap(
			ipld.Entry{Key: "Type", Value: ipld.String("sequence")},
			ipld.Entry{Key: "Addr", Value: ipld.String("x")},
			ipld.Entry{Key: "Annots", Value: ipld.List()},
		)), func(err error) bool { return IsSchemaKind(err, MissingField) }},
		{"Annots element not a link", put(ipld.MustMap(
			ipld.Entry{Key: "Type", Value: ipld.String("sequence")},
			ipld.Entry{Key: "Addr", Value: ipld.String("x")},
			ipld.Entry{Key: "Seq", Value: ipld.String("A")},
			ipld.Entry{Key: "Annots", Value: ipld.List(ipld.Link(annot), ipld.String("oops"))},
		)), func(err error) bool {
			var se *SchemaError
			return errors.As(err, &se) && se.Kind == WrongType && se.Field == "Annots[1]"
		}},
		{"malformed bytes", mustPutRaw(t, store, []byte{0xa1, 0x61}), func(err error) bool {
			var de *codec.DecodeError
			return errors.As(err, &de)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(ctx, tc.id, store)
			var re *ResolveError
			if !errors.As(err, &re) {
				t.Fatalf("expected *ResolveError, got %T %v", err, err)
			}
			if re.Index != RecordIndex {
				t.Fatalf("root failure reported at index %d", re.Index)
			}
			if !tc.check(err) {
				t.Fatalf("unexpected cause: %v", err)
			}
		})
	}
}

func TestResolve_MalformedAnnotation(t *testing.T) {
	ctx := context.Background()
	store := memory.New(cidutil.DefaultPrefix)
	good, err := Annotation{Address: "ok", End: 1}.Build(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	bad, err := resolver.Publish(ctx, store, codec.DagCBOR, annotationWith("Cmt"))
	if err != nil {
		t.Fatal(err)
	}
	root, err := Sequence{Address: "s", Annotations: []AnnotationLink{Linked(good), Linked(good), Linked(bad)}}.Build(ctx, store)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Resolve(ctx, root, store)
	var re *ResolveError
	if !errors.As(err, &re) || re.Index != 2 {
		t.Fatalf("expected ResolveError at index 2, got %v", err)
	}
	var se *SchemaError
	if !errors.As(err, &se) || se.Kind != MissingField || se.Field != "Cmt" {
		t.Fatalf("expected MissingField Cmt, got %v", err)
	}
}

func TestSequence_AddAnnotation(t *testing.T) {
	orig := NewSequence("addr1", "AATCG", threeAnnotations()[0])

	_, err := orig.AddAnnotation("bad", 10, 5, "backwards")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(orig.Annotations) != 1 {
		t.Fatalf("original sequence modified: %d annotations", len(orig.Annotations))
	}

	next, err := orig.AddAnnotation("new", 1, 3, "added")
	if err != nil {
		t.Fatalf("AddAnnotation: %v", err)
	}
	if len(orig.Annotations) != 1 || len(next.Annotations) != 2 {
		t.Fatalf("lengths: orig %d next %d", len(orig.Annotations), len(next.Annotations))
	}
	a, ok := next.Annotations[1].Annotation()
	if !ok || a.Address != "new" || a.From != 1 || a.End != 3 {
		t.Fatalf("appended annotation: %+v", a)
	}
	if orig.Equal(next) {
		t.Fatalf("expected sequences to differ")
	}

	// Appending to a resolved sequence must not write through to the
	// caller's backing array.
	withCap := Sequence{Annotations: make([]AnnotationLink, 1, 4)}
	withCap.Annotations[0] = Materialized(threeAnnotations()[0])
	n1, err := withCap.AddAnnotation("x", 0, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	n2, err := withCap.AddAnnotation("y", 0, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	a1, _ := n1.Annotations[1].Annotation()
	if a1.Address != "x" {
		t.Fatalf("sibling append clobbered earlier result: %+v", a1)
	}
	_ = n2
}

func TestSequence_ToValue(t *testing.T) {
	ctx := context.Background()
	store := memory.New(cidutil.DefaultPrefix)
	s := NewSequence("addr1", "AATCG", threeAnnotations()...)

	if _, err := s.ToValue(); !errors.Is(err, ErrUnbuiltAnnotation) {
		t.Fatalf("expected ErrUnbuiltAnnotation, got %v", err)
	}

	root, err := s.Build(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	shallow, err := ResolveShallow(ctx, root, store)
	if err != nil {
		t.Fatalf("ResolveShallow: %v", err)
	}
	for i, l := range shallow.Annotations {
		if _, ok := l.CID(); !ok {
			t.Fatalf("shallow annotation %d is not a CID", i)
		}
	}
	v, err := shallow.ToValue()
	if err != nil {
		t.Fatalf("ToValue: %v", err)
	}
	b, err := codec.DagCBOR.Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	stored, err := store.Get(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, stored) {
		t.Fatalf("ToValue of a shallow resolve does not re-encode to the stored block")
	}
}

func TestSequence_BuildErrors(t *testing.T) {
	ctx := context.Background()
	annots := threeAnnotations()

	t.Run("annotation store failure", func(t *testing.T) {
		target, err := codec.DagCBOR.Encode(annots[1].ToValue())
		if err != nil {
			t.Fatal(err)
		}
		store := &failPutCAS{CAS: memory.New(cidutil.DefaultPrefix), fail: func(b []byte) bool { return bytes.Equal(b, target) }}
		_, err = NewSequence("s", "A", annots...).Build(ctx, store)
		var be *BuildError
		if !errors.As(err, &be) || be.Index != 1 {
			t.Fatalf("expected BuildError at index 1, got %v", err)
		}
		if !errors.Is(err, storage.ErrWrite) {
			t.Fatalf("expected ErrWrite, got %v", err)
		}
	})

	t.Run("sequence store failure", func(t *testing.T) {
		store := &failPutCAS{CAS: memory.New(cidutil.DefaultPrefix), fail: func(b []byte) bool {
			v, err := codec.DagCBOR.Decode(b)
			if err != nil {
				return false
			}
			typ, _ := v.Lookup("Type")
			s, _ := typ.AsString()
			return s == TypeSequence
		}}
		_, err := NewSequence("s", "A", annots...).Build(ctx, store)
		var be *BuildError
		if !errors.As(err, &be) || be.Index != RecordIndex {
			t.Fatalf("expected BuildError for the record, got %v", err)
		}
	})

	t.Run("invalid annotation", func(t *testing.T) {
		s := Sequence{Address: "s", Annotations: []AnnotationLink{Materialized(annots[0]), Materialized(Annotation{From: 9, End: 1})}}
		_, err := s.Build(ctx, memory.New(cidutil.DefaultPrefix))
		var be *BuildError
		var ve *ValidationError
		if !errors.As(err, &be) || be.Index != 1 || !errors.As(err, &ve) {
			t.Fatalf("expected BuildError wrapping ValidationError at 1, got %v", err)
		}
	})

	t.Run("codec disagrees with store", func(t *testing.T) {
		store := memory.New(cidutil.Prefix(cid.DagJSON, multihash.SHA2_256))
		_, err := NewSequence("s", "A").Build(ctx, store, WithCodec(codec.DagCBOR))
		if !errors.Is(err, resolver.ErrCodecMismatch) {
			t.Fatalf("expected ErrCodecMismatch, got %v", err)
		}
	})

	t.Run("nil store", func(t *testing.T) {
		_, err := NewSequence("s", "A").Build(ctx, nil)
		if !errors.Is(err, resolver.ErrMissingCAS) {
			t.Fatalf("expected ErrMissingCAS, got %v", err)
		}
	})
}

func TestSequence_BuildRejectsInvalidUTF8(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		seq   Sequence
		index int
		field string
	}{
		{"annotation comment", NewSequence("addr1", "AATCG", Annotation{Address: "a", End: 1, Comment: "bad\xffcomment"}), 0, KeyCmt},
		{"sequence address", NewSequence("addr\xff", "AATCG"), RecordIndex, KeyAddr},
		{"sequence text", NewSequence("addr1", "AAT\xc3"), RecordIndex, KeySeq},
	}
	for _, c := range []codec.Codec{codec.DagCBOR, codec.DagJSON} {
		for _, tc := range cases {
			t.Run(c.Name()+"/"+tc.name, func(t *testing.T) {
				store := memory.New(cidutil.Prefix(c.Code(), multihash.SHA2_256))
				_, err := tc.seq.Build(ctx, store, WithCodec(c))
				var be *BuildError
				var ve *ValidationError
				if !errors.As(err, &be) || be.Index != tc.index || !errors.As(err, &ve) || ve.Field != tc.field {
					t.Fatalf("expected BuildError at %d wrapping ValidationError on %s, got %v", tc.index, tc.field, err)
				}
				if store.Len() != 0 {
					t.Fatalf("%d blocks written for an invalid sequence", store.Len())
				}
			})
		}
	}
}

func TestSequence_BuildLinksExistingCIDs(t *testing.T) {
	ctx := context.Background()
	store := memory.New(cidutil.DefaultPrefix)
	annots := threeAnnotations()

	a0, err := annots[0].Build(ctx, store, WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatal(err)
	}
	mixed := Sequence{Address: "m", Sequence: "AC", Annotations: []AnnotationLink{Linked(a0), Materialized(annots[1])}}
	root, err := mixed.Build(ctx, store)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	all := NewSequence("m", "AC", annots[0], annots[1])
	root2, err := all.Build(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if !root.Equals(root2) {
		t.Fatalf("pre-built and in-memory annotations produced different roots")
	}
}

func mustSum(t *testing.T, seed string) cid.Cid {
	t.Helper()
	id, err := cidutil.Sum(cidutil.DefaultPrefix, []byte(seed))
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func mustPutRaw(t *testing.T, store storage.CAS, b []byte) cid.Cid {
	t.Helper()
	id, err := store.Put(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	return id
}
