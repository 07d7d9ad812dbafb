// Package compress frames blocks for at-rest compression in backends that
// own their storage format (localfs, sqlstore).
//
// A frame is tag(1) || uvarint(decoded length) || payload. The CID of a
// block is always computed over the decoded bytes, so compression never
// changes identifiers and stores with different settings interoperate.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies the compression applied to a frame payload. The
// values are written to disk and must not change.
type Algorithm uint8

const (
	None Algorithm = 0
	LZ4  Algorithm = 1
	Zstd Algorithm = 2
)

// MaxDecodedSize bounds the length a frame header may claim.
const MaxDecodedSize = 1 << 28

// ErrCorrupt reports a frame that cannot be decoded.
var ErrCorrupt = errors.New("compress: corrupt frame")

var errIncompressible = errors.New("compress: incompressible")

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Parse maps a name to an Algorithm. An empty name selects None.
func Parse(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("compress: unknown algorithm %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode frames data with algorithm a. Data that does not shrink is framed
// uncompressed.
func Encode(data []byte, a Algorithm) ([]byte, error) {
	if len(data) > MaxDecodedSize {
		return nil, fmt.Errorf("compress: block of %d bytes exceeds limit", len(data))
	}
	payload := data
	tag := None
	switch a {
	case None:
	case LZ4, Zstd:
		compressed, err := compressWith(data, a)
		switch {
		case err == nil:
			payload, tag = compressed, a
		case errors.Is(err, errIncompressible):
		default:
			return nil, err
		}
	default:
		return nil, fmt.Errorf("compress: unsupported algorithm %s", a)
	}

	out := make([]byte, 0, 1+binary.MaxVarintLen64+len(payload))
	out = append(out, byte(tag))
	out = binary.AppendUvarint(out, uint64(len(data)))
	return append(out, payload...), nil
}

// Decode unframes a block written by Encode.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	tag := Algorithm(frame[0])
	size, n := binary.Uvarint(frame[1:])
	if n <= 0 || size > MaxDecodedSize {
		return nil, fmt.Errorf("%w: bad length", ErrCorrupt)
	}
	payload := frame[1+n:]

	switch tag {
	case None:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("%w: size %d does not match header %d", ErrCorrupt, len(payload), size)
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case LZ4:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("%w: lz4 got %d bytes, expected %d", ErrCorrupt, read, size)
		}
		return out, nil
	case Zstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("%w: zstd got %d bytes, expected %d", ErrCorrupt, len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrCorrupt, uint8(tag))
	}
}

func compressWith(data []byte, a Algorithm) ([]byte, error) {
	if len(data) == 0 {
		return nil, errIncompressible
	}
	switch a {
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("compress: lz4: %w", err)
		}
		// CompressBlock reports 0 for incompressible input.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return dst[:written], nil
	default:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil
	}
}
