package storage

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
)

// VerifyBlock checks bytes read back from a store against the CID they were
// requested under. A CID this package cannot hash under (undefined, CIDv0,
// unknown multihash) is ErrInvalidCID; bytes that hash differently are
// ErrCIDMismatch.
func VerifyBlock(id cid.Cid, data []byte) error {
	err := cidutil.Verify(id, data)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cidutil.ErrMismatch):
		return ErrCIDMismatch
	default:
		return fmt.Errorf("%w: %w", ErrInvalidCID, err)
	}
}

// CheckCID rejects identifiers no store can hold: undefined CIDs and any
// version other than CIDv1.
func CheckCID(id cid.Cid) error {
	if !id.Defined() {
		return ErrInvalidCID
	}
	if id.Version() != 1 {
		return fmt.Errorf("%w: %w %d", ErrInvalidCID, cidutil.ErrUnsupportedCID, id.Version())
	}
	return nil
}
