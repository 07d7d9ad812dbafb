// Package testkit holds the conformance suite every storage.CAS backend runs
// in its own tests.
package testkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
)

// NewCAS constructs a fresh, empty CAS instance for a test, configured with
// the given prefix. The returned CAS MUST be isolated from other tests.
type NewCAS func(t *testing.T, p cid.Prefix) storage.CAS

// Prefixes are the CID prefixes every backend is exercised with.
var Prefixes = []cid.Prefix{
	cidutil.DefaultPrefix,
	cidutil.Prefix(cid.DagJSON, cidutil.BLAKE2b256),
	cidutil.Prefix(cid.DagCBOR, multihash.BLAKE3),
}

func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()

	for _, p := range Prefixes {
		name := fmt.Sprintf("codec=0x%x/hash=%s", p.Codec, cidutil.HashName(p.MhType))
		t.Run(name, func(t *testing.T) {
			runPrefix(t, newCAS, p)
		})
	}
}

func runPrefix(t *testing.T, newCAS NewCAS, p cid.Prefix) {
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		cas := newCAS(t, p)
		want := []byte("hello, proots storage")

		id, err := cas.Put(ctx, want)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		wantID, err := cidutil.Sum(p, want)
		if err != nil {
			t.Fatalf("Sum failed: %v", err)
		}
		if !id.Equals(wantID) {
			t.Fatalf("Put CID mismatch: got %s want %s", id, wantID)
		}

		got, err := cas.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
		if err := cidutil.Verify(id, got); err != nil {
			t.Fatalf("Get returned bytes not matching requested CID: %v", err)
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		cas := newCAS(t, p)
		b := []byte("same bytes")

		id1, err := cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		id2, err := cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if !id1.Equals(id2) {
			t.Fatalf("Put not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("EmptyBlock", func(t *testing.T) {
		cas := newCAS(t, p)
		id, err := cas.Put(ctx, []byte{})
		if err != nil {
			t.Fatalf("Put(empty) failed: %v", err)
		}
		got, err := cas.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(empty) failed: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("Get(empty) returned %d bytes", len(got))
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		cas := newCAS(t, p)
		b := []byte("missing")
		id, err := cidutil.Sum(p, b)
		if err != nil {
			t.Fatalf("Sum failed: %v", err)
		}

		ok, err := cas.Has(ctx, id)
		if err != nil {
			t.Fatalf("Has failed: %v", err)
		}
		if ok {
			t.Fatalf("Has returned true for missing CID")
		}
		_, err = cas.Get(ctx, id)
		if !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}

		if _, err := cas.Put(ctx, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		ok, err = cas.Has(ctx, id)
		if err != nil {
			t.Fatalf("Has failed: %v", err)
		}
		if !ok {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		cas := newCAS(t, p)
		var undef cid.Cid
		ok, err := cas.Has(ctx, undef)
		if ok {
			t.Fatalf("Has should be false for undefined CID")
		}
		if err != nil && !errors.Is(err, storage.ErrInvalidCID) {
			t.Fatalf("Has undefined: got err=%v want nil or ErrInvalidCID", err)
		}
		if _, err := cas.Get(ctx, undef); !errors.Is(err, storage.ErrInvalidCID) {
			t.Fatalf("Get undefined: got err=%v want ErrInvalidCID", err)
		}
	})

	t.Run("RejectCIDv0", func(t *testing.T) {
		cas := newCAS(t, p)
		mh, err := multihash.Sum([]byte("v0"), multihash.SHA2_256, -1)
		if err != nil {
			t.Fatalf("multihash.Sum failed: %v", err)
		}
		if _, err := cas.Get(ctx, cid.NewCidV0(mh)); !errors.Is(err, storage.ErrInvalidCID) {
			t.Fatalf("Get CIDv0: got err=%v want ErrInvalidCID", err)
		}
	})

	t.Run("ConcurrentPuts", func(t *testing.T) {
		cas := newCAS(t, p)
		const n = 16
		ids := make([]cid.Cid, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// Half the writers race on the same bytes.
				ids[i], errs[i] = cas.Put(ctx, []byte(fmt.Sprintf("block-%d", i%(n/2))))
			}(i)
		}
		wg.Wait()
		for i := 0; i < n; i++ {
			if errs[i] != nil {
				t.Fatalf("Put(%d) failed: %v", i, errs[i])
			}
			if !ids[i].Equals(ids[i%(n/2)]) {
				t.Fatalf("Put(%d) CID differs from its twin", i)
			}
		}
		for i := 0; i < n/2; i++ {
			got, err := cas.Get(ctx, ids[i])
			if err != nil {
				t.Fatalf("Get(%d) failed: %v", i, err)
			}
			if string(got) != fmt.Sprintf("block-%d", i) {
				t.Fatalf("Get(%d) bytes mismatch", i)
			}
		}
	})
}
