package proots

import (
	"context"
	"sync"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/storage"
)

// delayCAS delays Get per CID and records the order fetches complete in.
type delayCAS struct {
	storage.CAS

	delays map[string]time.Duration

	mu        sync.Mutex
	completed []string
}

func (d *delayCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if wait, ok := d.delays[id.String()]; ok {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	b, err := d.CAS.Get(ctx, id)
	d.mu.Lock()
	d.completed = append(d.completed, id.String())
	d.mu.Unlock()
	return b, err
}

func (d *delayCAS) completionOrder() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.completed...)
}

// blockingCAS blocks Get for the listed CIDs until the context ends.
type blockingCAS struct {
	storage.CAS

	block map[string]bool

	mu       sync.Mutex
	finished int
}

func (b *blockingCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if b.block[id.String()] {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Second):
			b.mu.Lock()
			b.finished++
			b.mu.Unlock()
		}
	}
	return b.CAS.Get(ctx, id)
}

// failPutCAS fails every Put whose bytes satisfy fail.
type failPutCAS struct {
	storage.CAS

	fail func([]byte) bool
}

func (f *failPutCAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if f.fail(data) {
		return cid.Undef, storage.WriteFailed("put", context.DeadlineExceeded)
	}
	return f.CAS.Put(ctx, data)
}
