// Package storage defines the content-addressed store that pRoots records
// are written to and read from, plus adapters that compose several stores.
package storage

import (
	"context"

	"github.com/ipfs/go-cid"
)

// CAS is a minimal content-addressable storage interface.
//
// Contract:
// - Put MUST be idempotent: identical bytes yield the same CID and the second write is a no-op.
// - Stored objects MUST be immutable; there is no update or delete.
// - Put derives the CID from the bytes written using the store's configured prefix.
// - Get MUST return bytes matching the requested CID, or ErrNotFound when it is absent.
// - Transport failures MUST wrap ErrUnavailable; rejected writes MUST wrap ErrWrite.
// - Implementations MUST be safe for concurrent use.
type CAS interface {
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) (bool, error)
}

// Prefixer is implemented by stores that derive every new CID from one fixed
// prefix.
type Prefixer interface {
	Prefix() cid.Prefix
}

// PrefixOf reports the prefix cas assigns to new blocks, if it exposes one.
// The composing adapters in this package answer for the store that Put
// writes through first.
func PrefixOf(cas CAS) (cid.Prefix, bool) {
	switch c := cas.(type) {
	case Prefixer:
		return c.Prefix(), true
	case *Instrumented:
		return PrefixOf(c.CAS)
	case MultiCAS:
		if len(c.Adapters) == 0 {
			return cid.Prefix{}, false
		}
		return PrefixOf(c.Adapters[0])
	case ReplicatingCAS:
		adapters := c.adapters()
		if len(adapters) == 0 {
			return cid.Prefix{}, false
		}
		return PrefixOf(adapters[0])
	default:
		return cid.Prefix{}, false
	}
}
