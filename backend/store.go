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
	"context"
	"io"

	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/zincware/asebytes/common"
)

//go:generate mockgen -source store.go -destination store_mocks.go -package backend

const (
	// ErrNotFound is returned by Txn.Get for keys not present in the store.
	ErrNotFound = common.ConstError("key not found")
	// ErrClosed is returned for any operation attempted after the store was closed.
	ErrClosed = common.ConstError("store closed")
	// ErrReadOnly is returned for writes through read transactions or read-only stores.
	ErrReadOnly = common.ConstError("store is read-only")
)

// ReadOnly is the property opening a store without write access.
const ReadOnly = common.Property("ReadOnly")

// Store is a transactional, ordered, byte-key to byte-value store. It
// supports one writing transaction at a time and any number of concurrent
// read transactions, each observing a consistent snapshot taken when the
// transaction was started.
type Store interface {
	// Begin starts a new transaction. Starting a writable transaction
	// blocks until any other writable transaction was committed or
	// discarded, or until the context is done. Read transactions never
	// block.
	Begin(ctx context.Context, writable bool) (Txn, error)

	common.MemoryFootprintProvider

	// Close releases the store. All transactions must be finished before.
	io.Closer
}

// Txn is a transaction on a Store. All writes of a transaction become
// visible atomically on Commit, or are dropped by Discard. Reads of a
// writable transaction observe the transaction's own writes.
type Txn interface {
	// Get returns the value stored for the given key or ErrNotFound.
	// The returned slice is owned by the caller.
	Get(key []byte) ([]byte, error)

	// Put sets the value for the given key, overwriting any previous value.
	// It is safe to modify the arguments after Put returns.
	Put(key, value []byte) error

	// Delete removes the given key. Deleting a missing key is not an error.
	Delete(key []byte) error

	// NewIterator provides an iterator visiting all keys in the given range
	// in ascending byte order. A nil Start is treated as a key before all
	// keys, a nil Limit as a key after all keys. Writing to the transaction
	// while an iterator is open leads to undefined iteration results.
	NewIterator(r *util.Range) Iterator

	// Writable reports whether this transaction accepts writes.
	Writable() bool

	// Commit makes all writes visible and ends the transaction.
	Commit() error

	// Discard ends the transaction dropping its writes. It is a no-op for
	// transactions already committed or discarded, so it may be deferred.
	Discard()
}

// Iterator is an ordered cursor over a key range. The slices returned by
// Key and Value are only valid until the next call to Next.
// The iterator must be released after use, by calling Release method.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// PrefixRange provides the range covering all keys starting with the given prefix.
func PrefixRange(prefix []byte) *util.Range {
	return util.BytesPrefix(prefix)
}
