// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package compress

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zincware/asebytes/common"
)

// Kind names a compression algorithm applied to stored field values.
type Kind string

const (
	None Kind = "none"
	LZ4  Kind = "lz4"
	Zstd Kind = "zstd"
)

const (
	// ErrUnknownKind is returned for unsupported compression names.
	ErrUnknownKind = common.ConstError("unknown compression kind")
	// ErrCorrupted is returned for values that can not be decompressed.
	ErrCorrupted = common.ConstError("corrupted compressed value")
)

// Values smaller than this are stored raw; the header would outweigh any gain.
const minCompressSize = 64

// Largest raw length a compressed value may claim.
const maxRawSize = math.MaxInt32

// An LZ4 block expands each input byte into at most this many output bytes.
const lz4MaxExpansion = 255

// Zstd output buffers are preallocated up to this multiple of the payload.
const zstdPreallocFactor = 16

const (
	flagRaw        byte = 0
	flagCompressed byte = 1
)

// Kinds lists all supported compression kinds.
func Kinds() []Kind {
	return []Kind{None, LZ4, Zstd}
}

// ParseKind resolves a compression name. The empty string selects None.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case "", None:
		return None, nil
	case LZ4:
		return LZ4, nil
	case Zstd:
		return Zstd, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Compressor transforms field values before they are stored. Compressed
// values produced by LZ4 and Zstd start with a flag byte telling whether
// the payload is compressed, followed by the uvarint encoded raw length.
// Incompressible values are stored raw behind the flag.
type Compressor interface {
	Kind() Kind
	Compress(value []byte) ([]byte, error)
	Decompress(value []byte) ([]byte, error)
}

// New creates the compressor of the given kind.
func New(kind Kind) (Compressor, error) {
	switch kind {
	case "", None:
		return none{}, nil
	case LZ4:
		return framed{kind: LZ4, compress: compressLZ4, decompress: decompressLZ4, maxExpansion: lz4MaxExpansion}, nil
	case Zstd:
		return framed{kind: Zstd, compress: compressZstd, decompress: decompressZstd}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

type none struct{}

func (none) Kind() Kind {
	return None
}

func (none) Compress(value []byte) ([]byte, error) {
	return value, nil
}

func (none) Decompress(value []byte) ([]byte, error) {
	return value, nil
}

type framed struct {
	kind         Kind
	compress     func(data []byte) ([]byte, error)
	decompress   func(data []byte, size int) ([]byte, error)
	// maxExpansion bounds the raw length relative to the payload, 0 if unbounded.
	maxExpansion uint64
}

func (f framed) Kind() Kind {
	return f.kind
}

func (f framed) Compress(value []byte) ([]byte, error) {
	if len(value) >= minCompressSize {
		compressed, err := f.compress(value)
		if err != nil {
			return nil, err
		}
		if compressed != nil && len(compressed)+binary.MaxVarintLen64 < len(value) {
			res := make([]byte, 1, 1+binary.MaxVarintLen64+len(compressed))
			res[0] = flagCompressed
			res = binary.AppendUvarint(res, uint64(len(value)))
			return append(res, compressed...), nil
		}
	}
	res := make([]byte, 1+len(value))
	res[0] = flagRaw
	copy(res[1:], value)
	return res, nil
}

func (f framed) Decompress(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("%w: missing header", ErrCorrupted)
	}
	switch value[0] {
	case flagRaw:
		return value[1:], nil
	case flagCompressed:
		size, n := binary.Uvarint(value[1:])
		if n <= 0 {
			return nil, fmt.Errorf("%w: invalid length", ErrCorrupted)
		}
		payload := value[1+n:]
		if size > maxRawSize {
			return nil, fmt.Errorf("%w: length %d exceeds limit", ErrCorrupted, size)
		}
		if f.maxExpansion > 0 && size > f.maxExpansion*uint64(len(payload)) {
			return nil, fmt.Errorf("%w: length %d not reachable from %d bytes", ErrCorrupted, size, len(payload))
		}
		res, err := f.decompress(payload, int(size))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		if len(res) != int(size) {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupted)
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: unknown flag %d", ErrCorrupted, value[0])
}

func compressLZ4(data []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return compressed[:n], nil
}

func decompressLZ4(data []byte, size int) ([]byte, error) {
	res := make([]byte, size)
	n, err := lz4.UncompressBlock(data, res)
	if err != nil {
		return nil, err
	}
	return res[:n], nil
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

func compressZstd(data []byte) ([]byte, error) {
	enc, err := getZstdEncoder()
	if err != nil {
		return nil, err
	}
	defer zstdEncoderPool.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func decompressZstd(data []byte, size int) ([]byte, error) {
	dec, err := getZstdDecoder()
	if err != nil {
		return nil, err
	}
	defer zstdDecoderPool.Put(dec)
	return dec.DecodeAll(data, make([]byte, 0, min(size, zstdPreallocFactor*len(data))))
}
