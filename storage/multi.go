package storage

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

// MultiCAS provides deterministic, ordered fallback across multiple CAS adapters.
//
// Read order is the slice order in Adapters; callers MUST supply a fixed order.
// This avoids map-iteration nondeterminism and makes the retrieval strategy explicit.
//
// Put is defined to write only to the first adapter.
type MultiCAS struct {
	Adapters []CAS
}

var _ CAS = MultiCAS{}

func (m MultiCAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if len(m.Adapters) == 0 {
		return cid.Undef, errors.New("storage: MultiCAS has no adapters")
	}
	return m.Adapters[0].Put(ctx, data)
}

// Get returns the first hit. A miss in one adapter falls through to the next;
// an unavailable adapter also falls through, but is reported if no adapter
// has the object.
func (m MultiCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	var unavailable error
	for _, cas := range m.Adapters {
		b, err := cas.Get(ctx, id)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		if IsUnavailable(err) {
			if unavailable == nil {
				unavailable = err
			}
			continue
		}
		return nil, err
	}
	if unavailable != nil {
		return nil, unavailable
	}
	return nil, ErrNotFound
}

func (m MultiCAS) Has(ctx context.Context, id cid.Cid) (bool, error) {
	var unavailable error
	for _, cas := range m.Adapters {
		ok, err := cas.Has(ctx, id)
		if err != nil {
			if IsUnavailable(err) {
				if unavailable == nil {
					unavailable = err
				}
				continue
			}
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, unavailable
}
