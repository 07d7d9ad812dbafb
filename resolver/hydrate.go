package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/codec"
	"github.com/Proots-Foundation/pRoots-command-line/ipld"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
)

var (
	ErrMissingCAS = errors.New("resolver: missing CAS")

	// ErrCodecMismatch reports a store whose CID prefix names a different
	// codec than the one the value was encoded with.
	ErrCodecMismatch = errors.New("resolver: store codec differs from encoding codec")
)

// Hydrate fetches id from cas and decodes it with the codec named by the
// CID's own codec tag.
func Hydrate(ctx context.Context, cas storage.CAS, id cid.Cid) (ipld.Value, error) {
	if cas == nil {
		return ipld.Value{}, ErrMissingCAS
	}
	if err := storage.CheckCID(id); err != nil {
		return ipld.Value{}, err
	}
	c, err := codec.ForCID(id)
	if err != nil {
		return ipld.Value{}, err
	}
	b, err := cas.Get(ctx, id)
	if err != nil {
		return ipld.Value{}, err
	}
	return c.Decode(b)
}

// HydrateAll hydrates every id, preserving order. See Map for the failure policy.
func HydrateAll(ctx context.Context, cas storage.CAS, ids []cid.Cid, limit int) ([]ipld.Value, error) {
	if cas == nil {
		return nil, ErrMissingCAS
	}
	return Map(ctx, ids, limit, func(ctx context.Context, _ int, id cid.Cid) (ipld.Value, error) {
		return Hydrate(ctx, cas, id)
	})
}

// Publish encodes v with c and stores the bytes, returning the CID the store
// assigned. A store that exposes its prefix is checked before anything is
// written; any other store is checked against the CID it returns.
func Publish(ctx context.Context, cas storage.CAS, c codec.Codec, v ipld.Value) (cid.Cid, error) {
	if cas == nil {
		return cid.Undef, ErrMissingCAS
	}
	if p, ok := storage.PrefixOf(cas); ok && p.Codec != c.Code() {
		return cid.Undef, codecMismatch(c, p.Codec)
	}
	b, err := c.Encode(v)
	if err != nil {
		return cid.Undef, err
	}
	id, err := cas.Put(ctx, b)
	if err != nil {
		return cid.Undef, err
	}
	if id.Type() != c.Code() {
		return cid.Undef, codecMismatch(c, id.Type())
	}
	return id, nil
}

// PublishAll publishes every value, preserving order.
func PublishAll(ctx context.Context, cas storage.CAS, c codec.Codec, values []ipld.Value, limit int) ([]cid.Cid, error) {
	if cas == nil {
		return nil, ErrMissingCAS
	}
	return Map(ctx, values, limit, func(ctx context.Context, _ int, v ipld.Value) (cid.Cid, error) {
		return Publish(ctx, cas, c, v)
	})
}

func codecMismatch(c codec.Codec, storeCodec uint64) error {
	return fmt.Errorf("%w: encoded %s, store addressed as 0x%x", ErrCodecMismatch, c.Name(), storeCodec)
}
