// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package backend

import (
	"bytes"

	"github.com/syndtr/goleveldb/leveldb/util"
)

// KeyValue is a single entry of a store.
type KeyValue struct {
	Key, Value []byte
}

// FetchFunc loads up to limit entries of the range r having keys strictly
// greater than after, or starting at r.Start if after is nil.
type FetchFunc func(r *util.Range, after []byte, limit int) ([]KeyValue, error)

// ChunkSize is the number of entries loaded per round trip by chunked iterators.
const ChunkSize = 64

// NewChunkIterator creates an iterator pulling entries in chunks from the
// given fetch function. It is used by stores that cannot hold a cursor open
// while the same transaction is written to.
func NewChunkIterator(r *util.Range, fetch FetchFunc) Iterator {
	if r == nil {
		r = &util.Range{}
	}
	return &chunkIterator{rng: *r, fetch: fetch, pos: -1}
}

type chunkIterator struct {
	rng      util.Range
	fetch    FetchFunc
	chunk    []KeyValue
	pos      int
	last     []byte
	done     bool
	err      error
	released bool
}

func (it *chunkIterator) Next() bool {
	if it.err != nil || it.released {
		return false
	}
	it.pos++
	if it.pos < len(it.chunk) {
		return true
	}
	if it.done {
		it.chunk, it.pos = nil, 0
		return false
	}
	chunk, err := it.fetch(&it.rng, it.last, ChunkSize)
	if err != nil {
		it.err = err
		return false
	}
	it.chunk, it.pos = chunk, 0
	it.done = len(chunk) < ChunkSize
	if len(chunk) == 0 {
		return false
	}
	it.last = bytes.Clone(chunk[len(chunk)-1].Key)
	return true
}

func (it *chunkIterator) Key() []byte {
	if it.pos < 0 || it.pos >= len(it.chunk) {
		return nil
	}
	return it.chunk[it.pos].Key
}

func (it *chunkIterator) Value() []byte {
	if it.pos < 0 || it.pos >= len(it.chunk) {
		return nil
	}
	return it.chunk[it.pos].Value
}

func (it *chunkIterator) Error() error {
	return it.err
}

func (it *chunkIterator) Release() {
	it.released = true
	it.chunk = nil
}
