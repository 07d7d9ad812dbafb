package localfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
	"github.com/Proots-Foundation/pRoots-command-line/storage/compress"
)

// CAS is a local filesystem-backed content-addressable store.
//
// Objects are stored immutably and keyed strictly by CID, each file holding
// one compress frame. This implementation is offline and deterministic: it
// never uses the network and never depends on wall-clock time.
type CAS struct {
	root        string
	prefix      cid.Prefix
	compression compress.Algorithm
}

var _ storage.CAS = (*CAS)(nil)

// Option configures a CAS.
type Option func(*CAS)

// WithCompression compresses blocks at rest. Reads accept any algorithm,
// so the setting may change between runs.
func WithCompression(a compress.Algorithm) Option {
	return func(c *CAS) { c.compression = a }
}

// New constructs a filesystem CAS rooted at root that derives CIDs with
// prefix p. The directory will be created if needed.
func New(root string, p cid.Prefix, opts ...Option) (*CAS, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if p == (cid.Prefix{}) {
		p = cidutil.DefaultPrefix
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	c := &CAS{root: root, prefix: p}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	id, err := cidutil.Sum(c.prefix, data)
	if err != nil {
		return cid.Undef, storage.WriteFailed("localfs put", err)
	}

	path := c.pathFor(id)
	if _, err := os.Stat(path); err == nil {
		return id, c.checkExisting(ctx, id, data)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cid.Undef, storage.WriteFailed("localfs mkdir", err)
	}

	frame, err := compress.Encode(data, c.compression)
	if err != nil {
		return cid.Undef, storage.WriteFailed("localfs compress", err)
	}

	// Write to a private temp file, then hard-link it into place: the link
	// fails if another writer got there first, and readers never observe a
	// partially written object.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return cid.Undef, storage.WriteFailed("localfs create", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(frame); err != nil {
		_ = tmp.Close()
		return cid.Undef, storage.WriteFailed("localfs write", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return cid.Undef, storage.WriteFailed("localfs sync", err)
	}
	if err := tmp.Close(); err != nil {
		return cid.Undef, storage.WriteFailed("localfs close", err)
	}
	if err := os.Chmod(tmpName, 0o444); err != nil {
		return cid.Undef, storage.WriteFailed("localfs chmod", err)
	}
	if err := os.Link(tmpName, path); err != nil {
		if os.IsExist(err) {
			return id, c.checkExisting(ctx, id, data)
		}
		return cid.Undef, storage.WriteFailed("localfs link", err)
	}
	return id, nil
}

// checkExisting enforces immutability when an object is already present.
func (c *CAS) checkExisting(ctx context.Context, id cid.Cid, data []byte) error {
	existing, err := c.Get(ctx, id)
	if err != nil {
		// An unreadable or corrupted object is never repaired.
		return storage.ErrImmutable
	}
	if !bytes.Equal(existing, data) {
		return storage.ErrImmutable
	}
	return nil
}

func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if err := storage.CheckCID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame, err := os.ReadFile(c.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Unavailable("localfs read", err)
	}
	b, err := compress.Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCIDMismatch, err)
	}
	if err := storage.VerifyBlock(id, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *CAS) Has(ctx context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(c.pathFor(id))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, storage.Unavailable("localfs stat", err)
	}
}

func (c *CAS) pathFor(id cid.Cid) string {
	s := id.String()
	if len(s) < 2 {
		return filepath.Join(c.root, s)
	}
	// Fan out on the tail of the CID: the leading characters are the
	// multibase, version and codec and barely vary.
	return filepath.Join(c.root, s[len(s)-2:], s)
}

// Prefix returns the prefix new blocks are addressed under.
func (c *CAS) Prefix() cid.Prefix { return c.prefix }
