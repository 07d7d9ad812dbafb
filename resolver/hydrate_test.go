package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/codec"
	"github.com/Proots-Foundation/pRoots-command-line/ipld"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
	"github.com/Proots-Foundation/pRoots-command-line/storage/memory"
)

func record(i int64) ipld.Value {
	return ipld.MustMap(
		ipld.Entry{Key: "Type", Value: ipld.String("annotation")},
		ipld.Entry{Key: "From", Value: ipld.Int(i)},
	)
}

func TestPublishHydrate_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name  string
		codec codec.Codec
		hash  uint64
	}{
		{"dag-cbor/sha2-256", codec.DagCBOR, multihash.SHA2_256},
		{"dag-json/blake3", codec.DagJSON, multihash.BLAKE3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cas := memory.New(cidutil.Prefix(tc.codec.Code(), tc.hash))
			v := record(7)
			id, err := Publish(ctx, cas, tc.codec, v)
			if err != nil {
				t.Fatalf("Publish: %v", err)
			}
			if id.Type() != tc.codec.Code() {
				t.Fatalf("CID codec: got 0x%x want 0x%x", id.Type(), tc.codec.Code())
			}
			got, err := Hydrate(ctx, cas, id)
			if err != nil {
				t.Fatalf("Hydrate: %v", err)
			}
			if !got.Equal(v) {
				t.Fatalf("round trip mismatch: got %s want %s", got, v)
			}
		})
	}
}

func TestPublishAllHydrateAll_Order(t *testing.T) {
	ctx := context.Background()
	cas := memory.New(cidutil.DefaultPrefix)
	values := []ipld.Value{record(0), record(1), record(2), record(3)}

	ids, err := PublishAll(ctx, cas, codec.DagCBOR, values, 2)
	if err != nil {
		t.Fatalf("PublishAll: %v", err)
	}
	got, err := HydrateAll(ctx, cas, ids, 2)
	if err != nil {
		t.Fatalf("HydrateAll: %v", err)
	}
	for i := range values {
		if !got[i].Equal(values[i]) {
			t.Fatalf("value %d out of order: %s", i, got[i])
		}
	}
}

// opaqueCAS hides the wrapped store's prefix.
type opaqueCAS struct{ storage.CAS }

func TestPublish_CodecMismatch(t *testing.T) {
	cas := memory.New(cidutil.Prefix(cid.DagJSON, multihash.SHA2_256))
	_, err := Publish(context.Background(), cas, codec.DagCBOR, record(1))
	if !errors.Is(err, ErrCodecMismatch) {
		t.Fatalf("expected ErrCodecMismatch, got %v", err)
	}
	if cas.Len() != 0 {
		t.Fatalf("mismatched record was written: %d blocks", cas.Len())
	}

	wrapped := &storage.Instrumented{Name: "m", CAS: cas}
	if _, err := Publish(context.Background(), wrapped, codec.DagCBOR, record(1)); !errors.Is(err, ErrCodecMismatch) {
		t.Fatalf("instrumented store: expected ErrCodecMismatch, got %v", err)
	}
	if cas.Len() != 0 {
		t.Fatalf("mismatched record was written through a wrapper: %d blocks", cas.Len())
	}

	// Without a visible prefix the mismatch is caught from the returned CID.
	if _, err := Publish(context.Background(), opaqueCAS{cas}, codec.DagCBOR, record(1)); !errors.Is(err, ErrCodecMismatch) {
		t.Fatalf("opaque store: expected ErrCodecMismatch, got %v", err)
	}
}

func TestHydrate_RejectsCIDv0(t *testing.T) {
	mh, err := multihash.Sum([]byte("v0"), multihash.SHA2_256, -1)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Hydrate(context.Background(), memory.New(cidutil.DefaultPrefix), cid.NewCidV0(mh))
	if !errors.Is(err, storage.ErrInvalidCID) {
		t.Fatalf("expected ErrInvalidCID, got %v", err)
	}
}

func TestHydrateAll_MissingChildIndex(t *testing.T) {
	ctx := context.Background()
	cas := memory.New(cidutil.DefaultPrefix)
	present, err := Publish(ctx, cas, codec.DagCBOR, record(1))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	absent, err := cidutil.Sum(cidutil.DefaultPrefix, []byte("never stored"))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}

	_, err = HydrateAll(ctx, cas, []cid.Cid{present, absent, present}, 0)
	var ie *IndexError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *IndexError, got %v", err)
	}
	if ie.Index != 1 || !storage.IsNotFound(err) {
		t.Fatalf("expected index 1 NotFound, got %v", err)
	}
}

func TestHydrate_Errors(t *testing.T) {
	ctx := context.Background()
	cas := memory.New(cidutil.DefaultPrefix)

	if _, err := Hydrate(ctx, nil, cid.Undef); !errors.Is(err, ErrMissingCAS) {
		t.Fatalf("nil CAS: got %v", err)
	}
	if _, err := Hydrate(ctx, cas, cid.Undef); !errors.Is(err, storage.ErrInvalidCID) {
		t.Fatalf("undefined CID: got %v", err)
	}

	raw := memory.New(cidutil.Prefix(cid.Raw, multihash.SHA2_256))
	id, err := raw.Put(ctx, []byte("opaque"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	var uc *codec.UnknownCodecError
	if _, err := Hydrate(ctx, raw, id); !errors.As(err, &uc) {
		t.Fatalf("raw codec: expected UnknownCodecError, got %v", err)
	}

	// Bytes that hash correctly but do not decode.
	junk, err := cas.Put(ctx, []byte{0xa1, 0x61})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	var de *codec.DecodeError
	if _, err := Hydrate(ctx, cas, junk); !errors.As(err, &de) {
		t.Fatalf("malformed block: expected DecodeError, got %v", err)
	}
}
