// Package memory is an in-process storage.CAS, used by tests and as a
// scratch store for the CLI.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
)

// CAS keeps blocks in a map keyed by the CID's binary form.
type CAS struct {
	prefix cid.Prefix

	mu     sync.RWMutex
	blocks map[string][]byte
}

var _ storage.CAS = (*CAS)(nil)

// New returns an empty store that derives CIDs with prefix p.
// A zero prefix selects cidutil.DefaultPrefix.
func New(p cid.Prefix) *CAS {
	if p == (cid.Prefix{}) {
		p = cidutil.DefaultPrefix
	}
	return &CAS{prefix: p, blocks: make(map[string][]byte)}
}

func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	id, err := cidutil.Sum(c.prefix, data)
	if err != nil {
		return cid.Undef, storage.WriteFailed("memory put", err)
	}
	key := id.KeyString()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.blocks[key]; ok {
		if !bytes.Equal(existing, data) {
			return cid.Undef, storage.ErrImmutable
		}
		return id, nil
	}
	c.blocks[key] = bytes.Clone(data)
	return id, nil
}

func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if err := storage.CheckCID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	b, ok := c.blocks[id.KeyString()]
	c.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	if err := storage.VerifyBlock(id, b); err != nil {
		return nil, err
	}
	if b == nil {
		return []byte{}, nil
	}
	return bytes.Clone(b), nil
}

func (c *CAS) Has(ctx context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.RLock()
	_, ok := c.blocks[id.KeyString()]
	c.mu.RUnlock()
	return ok, nil
}

// Len reports the number of stored blocks.
func (c *CAS) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Prefix returns the prefix new blocks are addressed under.
func (c *CAS) Prefix() cid.Prefix { return c.prefix }
