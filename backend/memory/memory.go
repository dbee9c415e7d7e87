// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package memory

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/google/btree"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/zincware/asebytes/backend"
	"github.com/zincware/asebytes/common"
)

const degree = 32

// Store is an in-memory backend.Store based on a copy-on-write B-tree.
// Read transactions work on a lazily cloned tree and are thus isolated
// from concurrent writers. Writers work on a private clone which replaces
// the shared tree on commit.
type Store struct {
	mu      sync.Mutex
	tree    *btree.BTreeG[backend.KeyValue]
	writer  chan struct{}
	closed  atomic.Bool
	entries atomic.Int64
	bytes   atomic.Int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tree:   btree.NewG[backend.KeyValue](degree, less),
		writer: make(chan struct{}, 1),
	}
}

func less(a, b backend.KeyValue) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

func (s *Store) Begin(ctx context.Context, writable bool) (backend.Txn, error) {
	if s.closed.Load() {
		return nil, backend.ErrClosed
	}
	if !writable {
		return &txn{store: s, tree: s.snapshot()}, nil
	}
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.closed.Load() {
		<-s.writer
		return nil, backend.ErrClosed
	}
	return &txn{store: s, tree: s.snapshot(), writable: true}, nil
}

func (s *Store) snapshot() *btree.BTreeG[backend.KeyValue] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Clone()
}

func (s *Store) publish(tree *btree.BTreeG[backend.KeyValue], delta int64) {
	s.mu.Lock()
	s.tree = tree
	s.mu.Unlock()
	s.entries.Store(int64(tree.Len()))
	s.bytes.Add(delta)
}

// GetMemoryFootprint provides the size of the store in memory in bytes
func (s *Store) GetMemoryFootprint() *common.MemoryFootprint {
	mf := common.NewMemoryFootprint(unsafe.Sizeof(*s))
	entries := uintptr(s.entries.Load())
	mf.AddChild("items", common.NewMemoryFootprint(entries*unsafe.Sizeof(backend.KeyValue{})))
	mf.AddChild("data", common.NewMemoryFootprint(uintptr(s.bytes.Load())))
	return mf
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

type txn struct {
	store    *Store
	tree     *btree.BTreeG[backend.KeyValue]
	writable bool
	done     bool
	delta    int64 // change of payload bytes
}

func (t *txn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, backend.ErrClosed
	}
	item, found := t.tree.Get(backend.KeyValue{Key: key})
	if !found {
		return nil, backend.ErrNotFound
	}
	return bytes.Clone(item.Value), nil
}

func (t *txn) Put(key, value []byte) error {
	if !t.writable {
		return backend.ErrReadOnly
	}
	if t.done {
		return backend.ErrClosed
	}
	old, replaced := t.tree.ReplaceOrInsert(backend.KeyValue{
		Key:   bytes.Clone(key),
		Value: append([]byte{}, value...),
	})
	if replaced {
		t.delta -= int64(len(old.Key) + len(old.Value))
	}
	t.delta += int64(len(key) + len(value))
	return nil
}

func (t *txn) Delete(key []byte) error {
	if !t.writable {
		return backend.ErrReadOnly
	}
	if t.done {
		return backend.ErrClosed
	}
	if old, found := t.tree.Delete(backend.KeyValue{Key: key}); found {
		t.delta -= int64(len(old.Key) + len(old.Value))
	}
	return nil
}

func (t *txn) NewIterator(r *util.Range) backend.Iterator {
	return backend.NewChunkIterator(r, t.fetch)
}

func (t *txn) fetch(r *util.Range, after []byte, limit int) ([]backend.KeyValue, error) {
	if t.done {
		return nil, backend.ErrClosed
	}
	res := make([]backend.KeyValue, 0, limit)
	visit := func(item backend.KeyValue) bool {
		if after != nil && bytes.Compare(item.Key, after) <= 0 {
			return true
		}
		if r.Limit != nil && bytes.Compare(item.Key, r.Limit) >= 0 {
			return false
		}
		res = append(res, item)
		return len(res) < limit
	}
	start := r.Start
	if after != nil {
		start = after
	}
	if start == nil {
		t.tree.Ascend(visit)
	} else {
		t.tree.AscendGreaterOrEqual(backend.KeyValue{Key: start}, visit)
	}
	return res, nil
}

func (t *txn) Writable() bool {
	return t.writable
}

func (t *txn) Commit() error {
	if t.done {
		return backend.ErrClosed
	}
	if t.writable {
		t.store.publish(t.tree, t.delta)
	}
	t.finish()
	return nil
}

func (t *txn) Discard() {
	if !t.done {
		t.finish()
	}
}

func (t *txn) finish() {
	t.done = true
	t.tree = nil
	if t.writable {
		<-t.store.writer
	}
}
