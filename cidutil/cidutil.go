package cidutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Supported hash names, as accepted by ParseHash and printed by HashName.
const (
	HashSHA2_256    = "sha2-256"
	HashBLAKE3      = "blake3"
	HashBLAKE2b_256 = "blake2b-256"
)

// BLAKE2b256 is the multihash code for a 32-byte BLAKE2b digest.
const BLAKE2b256 = multihash.BLAKE2B_MIN + 31

// DigestLength is the digest size used for every supported hash.
const DigestLength = 32

var (
	ErrUnsupportedHash = errors.New("cidutil: unsupported hash")
	ErrUndefined       = errors.New("cidutil: undefined cid")
	ErrMismatch        = errors.New("cidutil: bytes do not match cid")
	ErrUnsupportedCID  = errors.New("cidutil: unsupported cid version")
)

// DefaultPrefix is CIDv1 dag-cbor with a sha2-256 multihash.
var DefaultPrefix = Prefix(cid.DagCBOR, multihash.SHA2_256)

// Prefix returns a CIDv1 prefix for the given multicodec and multihash codes.
func Prefix(codec, hash uint64) cid.Prefix {
	return cid.Prefix{
		Version:  1,
		Codec:    codec,
		MhType:   hash,
		MhLength: DigestLength,
	}
}

// ParseHash maps a hash name to its multihash code.
func ParseHash(name string) (uint64, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", HashSHA2_256:
		return multihash.SHA2_256, nil
	case HashBLAKE3:
		return multihash.BLAKE3, nil
	case HashBLAKE2b_256:
		return BLAKE2b256, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedHash, name)
	}
}

// HashName returns the name of a supported multihash code.
func HashName(code uint64) string {
	switch code {
	case multihash.SHA2_256:
		return HashSHA2_256
	case multihash.BLAKE3:
		return HashBLAKE3
	case BLAKE2b256:
		return HashBLAKE2b_256
	default:
		return fmt.Sprintf("0x%x", code)
	}
}

// Sum derives the CID of data under prefix p.
//
// A zero prefix selects DefaultPrefix.
func Sum(p cid.Prefix, data []byte) (cid.Cid, error) {
	if p == (cid.Prefix{}) {
		p = DefaultPrefix
	}
	if p.Version != 1 {
		return cid.Undef, fmt.Errorf("%w %d", ErrUnsupportedCID, p.Version)
	}
	mh, err := digest(p.MhType, data)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(p.Codec, mh), nil
}

func digest(code uint64, data []byte) (multihash.Multihash, error) {
	switch code {
	case multihash.SHA2_256:
		return multihash.Sum(data, multihash.SHA2_256, -1)
	case multihash.BLAKE3:
		sum := blake3.Sum256(data)
		return multihash.Encode(sum[:], multihash.BLAKE3)
	case BLAKE2b256:
		sum := blake2b.Sum256(data)
		return multihash.Encode(sum[:], BLAKE2b256)
	default:
		return nil, fmt.Errorf("%w: 0x%x", ErrUnsupportedHash, code)
	}
}

// Verify checks that data hashes to id under id's own prefix.
func Verify(id cid.Cid, data []byte) error {
	if !id.Defined() {
		return ErrUndefined
	}
	got, err := Sum(id.Prefix(), data)
	if err != nil {
		return err
	}
	if !got.Equals(id) {
		return ErrMismatch
	}
	return nil
}

// Parse decodes the text form of a CID (any multibase).
func Parse(s string) (cid.Cid, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return cid.Undef, ErrUndefined
	}
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("cidutil: parse %q: %w", s, err)
	}
	return id, nil
}
