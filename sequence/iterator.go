// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package sequence

import "context"

// Iterator visits the records of a sequence in index order. The length is
// read by the first call to Next; every step reads its record in a
// separate transaction, so concurrent modifications become visible while
// iterating. Use Sequence.ForEach for a consistent snapshot.
//
//	it := seq.Iterate(ctx)
//	for it.Next() {
//		use(it.Index(), it.Record())
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
type Iterator struct {
	seq    *Sequence
	ctx    context.Context
	length int
	index  int
	record Record
	err    error
}

// Next advances to the next record. It returns false at the end of the
// sequence or on errors.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	if it.length < 0 {
		length, err := it.seq.Len(it.ctx)
		if err != nil {
			it.err = err
			return false
		}
		it.length = length
	}
	if it.index+1 >= it.length {
		it.record = nil
		return false
	}
	record, err := it.seq.Get(it.ctx, it.index+1)
	if err != nil {
		it.err = err
		return false
	}
	it.index++
	it.record = record
	return true
}

// Index provides the logical index of the current record.
func (it *Iterator) Index() int {
	return it.index
}

// Record provides the current record.
func (it *Iterator) Record() Record {
	return it.record
}

// Err provides the error which stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Rewind restarts the iteration at the first record. The length is read
// again by the next call to Next.
func (it *Iterator) Rewind() {
	it.length = -1
	it.index = -1
	it.record = nil
	it.err = nil
}
