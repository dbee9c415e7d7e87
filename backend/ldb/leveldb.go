// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ldb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/zincware/asebytes/backend"
	"github.com/zincware/asebytes/common"
)

const (
	// WriteBufferSize is the size of LevelDB's memtable in bytes.
	WriteBufferSize = common.Property("WriteBufferSize")
	// BlockCacheSize is the capacity of LevelDB's block cache in bytes.
	BlockCacheSize = common.Property("BlockCacheSize")
	// NoSync disables the fsync of every committed transaction.
	NoSync = common.Property("NoSync")
)

// Store is a backend.Store on top of a LevelDB database. Writable
// transactions map to LevelDB transactions, which hold the database's
// write lock until committed or discarded. Read transactions map to
// LevelDB snapshots.
type Store struct {
	db       *leveldb.DB
	options  *opt.Options
	readOnly bool
	closed   atomic.Bool
}

// Open opens or creates the LevelDB database in the given directory.
func Open(directory string, properties common.Properties) (*Store, error) {
	options, err := getOptions(properties)
	if err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(directory, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open LevelDB in %s; %w", directory, err)
	}
	return &Store{db: db, options: options, readOnly: options.ReadOnly}, nil
}

func getOptions(properties common.Properties) (*opt.Options, error) {
	writeBuffer, err := properties.GetInteger(WriteBufferSize, 16*opt.MiB)
	if err != nil {
		return nil, err
	}
	blockCache, err := properties.GetInteger(BlockCacheSize, 64*opt.MiB)
	if err != nil {
		return nil, err
	}
	noSync, err := properties.GetBool(NoSync, false)
	if err != nil {
		return nil, err
	}
	readOnly, err := properties.GetBool(backend.ReadOnly, false)
	if err != nil {
		return nil, err
	}
	return &opt.Options{
		WriteBuffer:        writeBuffer,
		BlockCacheCapacity: blockCache,
		NoSync:             noSync,
		ReadOnly:           readOnly,
	}, nil
}

func (s *Store) Begin(ctx context.Context, writable bool) (backend.Txn, error) {
	if s.closed.Load() {
		return nil, backend.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !writable {
		snapshot, err := s.db.GetSnapshot()
		if err != nil {
			return nil, convertError(err)
		}
		return &readTxn{snapshot: snapshot}, nil
	}
	if s.readOnly {
		return nil, backend.ErrReadOnly
	}
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return nil, convertError(err)
	}
	return &writeTxn{tr: tr}, nil
}

// GetMemoryFootprint provides the size of the store in memory in bytes
func (s *Store) GetMemoryFootprint() *common.MemoryFootprint {
	mf := common.NewMemoryFootprint(unsafe.Sizeof(*s))
	mf.AddChild("writeBuffer", common.NewMemoryFootprint(uintptr(s.options.GetWriteBuffer())))
	var stats leveldb.DBStats
	if err := s.db.Stats(&stats); err == nil {
		mf.AddChild("blockCache", common.NewMemoryFootprint(uintptr(stats.BlockCacheSize)))
	}
	return mf
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func convertError(err error) error {
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return backend.ErrNotFound
	case errors.Is(err, leveldb.ErrClosed), errors.Is(err, leveldb.ErrSnapshotReleased):
		return fmt.Errorf("%w; %v", backend.ErrClosed, err)
	case errors.Is(err, leveldb.ErrReadOnly):
		return fmt.Errorf("%w; %v", backend.ErrReadOnly, err)
	}
	return err
}

// writeTxn wraps a LevelDB transaction.
type writeTxn struct {
	tr *leveldb.Transaction
}

func (t *writeTxn) Get(key []byte) ([]byte, error) {
	value, err := t.tr.Get(key, nil)
	if err != nil {
		return nil, convertError(err)
	}
	return value, nil
}

func (t *writeTxn) Put(key, value []byte) error {
	return convertError(t.tr.Put(key, value, nil))
}

func (t *writeTxn) Delete(key []byte) error {
	return convertError(t.tr.Delete(key, nil))
}

func (t *writeTxn) NewIterator(r *util.Range) backend.Iterator {
	return t.tr.NewIterator(r, nil)
}

func (t *writeTxn) Writable() bool {
	return true
}

func (t *writeTxn) Commit() error {
	return convertError(t.tr.Commit())
}

func (t *writeTxn) Discard() {
	t.tr.Discard()
}

// readTxn wraps a LevelDB snapshot.
type readTxn struct {
	snapshot *leveldb.Snapshot
}

func (t *readTxn) Get(key []byte) ([]byte, error) {
	value, err := t.snapshot.Get(key, nil)
	if err != nil {
		return nil, convertError(err)
	}
	return value, nil
}

func (t *readTxn) Put([]byte, []byte) error {
	return backend.ErrReadOnly
}

func (t *readTxn) Delete([]byte) error {
	return backend.ErrReadOnly
}

func (t *readTxn) NewIterator(r *util.Range) backend.Iterator {
	return t.snapshot.NewIterator(r, nil)
}

func (t *readTxn) Writable() bool {
	return false
}

func (t *readTxn) Commit() error {
	t.snapshot.Release()
	return nil
}

func (t *readTxn) Discard() {
	t.snapshot.Release()
}
