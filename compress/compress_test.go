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
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		name    string
		want    Kind
		wantErr bool
	}{
		{"", None, false},
		{"none", None, false},
		{"lz4", LZ4, false},
		{"zstd", Zstd, false},
		{"gzip", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKind(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_UnknownKindFails(t *testing.T) {
	_, err := New("brotli")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestCompressor_PreservesValues(t *testing.T) {
	values := map[string][]byte{
		"empty":        {},
		"short":        []byte("abc"),
		"repetitive":   bytes.Repeat([]byte("positions "), 500),
		"incompressed": pseudoRandom(4096),
	}
	for _, kind := range Kinds() {
		c, err := New(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, c.Kind())
		for name, value := range values {
			t.Run(string(kind)+"/"+name, func(t *testing.T) {
				stored, err := c.Compress(value)
				require.NoError(t, err)
				restored, err := c.Decompress(stored)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(value, restored), "value changed by compression")
			})
		}
	}
}

func TestCompressor_ShrinksRepetitiveValues(t *testing.T) {
	value := bytes.Repeat([]byte("0.000 1.000 2.000 "), 1000)
	for _, kind := range []Kind{LZ4, Zstd} {
		t.Run(string(kind), func(t *testing.T) {
			c, err := New(kind)
			require.NoError(t, err)
			stored, err := c.Compress(value)
			require.NoError(t, err)
			assert.Less(t, len(stored), len(value)/4)
			assert.Equal(t, flagCompressed, stored[0])
		})
	}
}

func TestCompressor_KeepsIncompressibleValuesRaw(t *testing.T) {
	value := pseudoRandom(1024)
	for _, kind := range []Kind{LZ4, Zstd} {
		t.Run(string(kind), func(t *testing.T) {
			c, err := New(kind)
			require.NoError(t, err)
			stored, err := c.Compress(value)
			require.NoError(t, err)
			assert.Equal(t, flagRaw, stored[0])
			assert.Equal(t, len(value)+1, len(stored))
		})
	}
}

func TestCompressor_DetectsCorruptedValues(t *testing.T) {
	for _, kind := range []Kind{LZ4, Zstd} {
		c, err := New(kind)
		require.NoError(t, err)
		for name, value := range map[string][]byte{
			"empty":        {},
			"unknown flag": {7, 1, 2},
			"bad length":   {flagCompressed, 0xff},
			"bad payload":  {flagCompressed, 100, 1, 2, 3},
		} {
			t.Run(string(kind)+"/"+name, func(t *testing.T) {
				_, err := c.Decompress(value)
				assert.True(t, errors.Is(err, ErrCorrupted), "unexpected error %v", err)
			})
		}
	}
}

func TestCompressor_RejectsImplausibleLengths(t *testing.T) {
	header := func(size uint64) []byte {
		res := binary.AppendUvarint([]byte{flagCompressed}, size)
		return append(res, 1, 2, 3)
	}
	for _, kind := range []Kind{LZ4, Zstd} {
		c, err := New(kind)
		require.NoError(t, err)
		for name, value := range map[string][]byte{
			"max uint64":  header(math.MaxUint64),
			"1<<63":       header(1 << 63),
			"above int32": header(math.MaxInt32 + 1),
			"huge ratio":  header(1 << 30),
		} {
			t.Run(string(kind)+"/"+name, func(t *testing.T) {
				var err error
				require.NotPanics(t, func() {
					_, err = c.Decompress(value)
				})
				assert.ErrorIs(t, err, ErrCorrupted)
			})
		}
	}
}

// pseudoRandom produces deterministic noise compressors cannot shrink.
func pseudoRandom(n int) []byte {
	res := make([]byte, n)
	state := uint32(2463534242)
	for i := range res {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		res[i] = byte(state)
	}
	return res
}
