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

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/zincware/asebytes/backend"
	"github.com/zincware/asebytes/common"
	"github.com/zincware/asebytes/compress"
)

// formatVersion identifies the key layout written by this package.
const formatVersion = 1

// Sequence is a persistent, mutable list of records kept in an ordered
// key-value store. Records are filed under sort keys which stay fixed
// when other records are inserted or deleted; a mapping from logical
// indices to sort keys is maintained next to them.
//
// Every operation runs in its own store transaction. Use View and
// Transact to group several operations. A Sequence may be used
// concurrently; writes are serialized by the store.
type Sequence struct {
	store      backend.Store
	keys       keyspace
	compressor compress.Compressor
	options    options
	closed     atomic.Bool
}

// Open opens the sequence stored under the given prefix in the store,
// initializing it if it does not exist yet.
func Open(ctx context.Context, store backend.Store, prefix []byte, opts ...Option) (*Sequence, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	seq := &Sequence{
		store:   store,
		keys:    keyspace{prefix: append([]byte{}, prefix...)},
		options: options,
	}
	kind, err := seq.initialize(ctx)
	if err == nil {
		seq.compressor, err = compress.New(kind)
	}
	if err != nil {
		if options.ownsStore {
			err = errors.Join(err, store.Close())
		}
		return nil, err
	}
	return seq, nil
}

// initialize checks the persisted format descriptor against the requested
// configuration, writing descriptor and count of fresh sequences.
func (s *Sequence) initialize(ctx context.Context) (compress.Kind, error) {
	requested := s.options.compression
	if requested != "" {
		if _, err := compress.ParseKind(string(requested)); err != nil {
			return "", fmt.Errorf("%w; %w", UnsupportedConfiguration, err)
		}
	}
	txn, err := s.store.Begin(ctx, !s.options.readOnly)
	if err != nil {
		return "", fmt.Errorf("%w; %w", ErrTransaction, err)
	}
	defer txn.Discard()

	value, err := txn.Get(s.keys.format())
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		return "", err
	}
	if err == nil {
		persisted, err := parseFormat(value)
		if err != nil {
			return "", err
		}
		if requested != "" && requested != persisted {
			return "", fmt.Errorf("%w; sequence is stored with %s compression, requested %s", UnsupportedConfiguration, persisted, requested)
		}
		return persisted, nil
	}

	kind := requested
	if kind == "" {
		kind = compress.None
	}
	if s.options.readOnly {
		return kind, nil
	}
	if err := txn.Put(s.keys.format(), formatDescriptor(kind)); err != nil {
		return "", err
	}
	if _, err := txn.Get(s.keys.count()); errors.Is(err, backend.ErrNotFound) {
		if err := txn.Put(s.keys.count(), []byte("0")); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	if err := txn.Commit(); err != nil {
		return "", fmt.Errorf("%w; %w", ErrTransaction, err)
	}
	s.options.logger.Info("initialized sequence", "prefix", string(s.keys.prefix), "compression", kind)
	return kind, nil
}

func formatDescriptor(kind compress.Kind) []byte {
	return []byte(strconv.Itoa(formatVersion) + ":" + string(kind))
}

func parseFormat(value []byte) (compress.Kind, error) {
	version, name, found := strings.Cut(string(value), ":")
	if !found {
		return "", fmt.Errorf("%w; invalid format descriptor %q", ErrCorrupted, value)
	}
	if version != strconv.Itoa(formatVersion) {
		return "", fmt.Errorf("%w; unsupported format version %s", UnsupportedConfiguration, version)
	}
	kind, err := compress.ParseKind(name)
	if err != nil {
		return "", fmt.Errorf("%w; %w", UnsupportedConfiguration, err)
	}
	return kind, nil
}

// Compression provides the compression applied to field values.
func (s *Sequence) Compression() compress.Kind {
	return s.compressor.Kind()
}

// ReadOnly reports whether the sequence rejects mutations.
func (s *Sequence) ReadOnly() bool {
	return s.options.readOnly
}

// View runs the given function in a read transaction observing a
// consistent snapshot of the sequence.
func (s *Sequence) View(ctx context.Context, fn func(tx *Tx) error) error {
	return s.run(ctx, false, "", fn)
}

// Transact runs the given function in a write transaction. All its writes
// are committed if the function succeeds, and discarded otherwise.
func (s *Sequence) Transact(ctx context.Context, fn func(tx *Tx) error) error {
	return s.run(ctx, true, "", fn)
}

// check fails if the sequence can not run an operation anymore, or if it
// can not run a mutation.
func (s *Sequence) check(writable bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if writable && s.options.readOnly {
		return ErrReadOnly
	}
	return nil
}

// run executes fn in a transaction. Failures outside of fn are attributed
// to the operation described by what; fn reports its own failures.
func (s *Sequence) run(ctx context.Context, writable bool, what string, fn func(tx *Tx) error) error {
	if err := s.check(writable); err != nil {
		return failed(what, err)
	}
	if err := ctx.Err(); err != nil {
		return failed(what, err)
	}
	txn, err := s.store.Begin(ctx, writable)
	if err != nil {
		return failed(what, fmt.Errorf("%w; %w", ErrTransaction, err))
	}
	defer txn.Discard()
	if err := fn(s.newTx(ctx, txn)); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return failed(what, fmt.Errorf("%w; %w", ErrTransaction, err))
	}
	return nil
}

func failed(what string, err error) error {
	if err == nil || what == "" {
		return err
	}
	return fmt.Errorf("failed to %s; %w", what, err)
}

func (s *Sequence) observe(op string, start time.Time, err error) {
	s.options.observer.OnOperation(op, time.Since(start), err)
}

// Len provides the number of records.
func (s *Sequence) Len(ctx context.Context) (count int, err error) {
	start := time.Now()
	err = s.run(ctx, false, "read length", func(tx *Tx) error {
		count, err = tx.Len()
		return err
	})
	s.observe("len", start, err)
	return count, err
}

// Get provides the record at the given index.
func (s *Sequence) Get(ctx context.Context, index int) (record Record, err error) {
	start := time.Now()
	err = s.run(ctx, false, fmt.Sprintf("get index %d", index), func(tx *Tx) error {
		record, err = tx.Get(index)
		return err
	})
	s.observe("get", start, err)
	return record, err
}

// GetFields provides the named fields of the record at the given index.
// It fails with ErrFieldNotFound if any of them is absent.
func (s *Sequence) GetFields(ctx context.Context, index int, names ...string) (record Record, err error) {
	start := time.Now()
	err = s.run(ctx, false, fmt.Sprintf("get index %d", index), func(tx *Tx) error {
		record, err = tx.GetFields(index, names...)
		return err
	})
	s.observe("get", start, err)
	return record, err
}

// Keys lists the field names of the record at the given index.
func (s *Sequence) Keys(ctx context.Context, index int) (names []string, err error) {
	start := time.Now()
	err = s.run(ctx, false, fmt.Sprintf("list fields of index %d", index), func(tx *Tx) error {
		names, err = tx.Keys(index)
		return err
	})
	s.observe("keys", start, err)
	return names, err
}

// Set overwrites the record at the given index, or appends it if the
// index equals the length.
func (s *Sequence) Set(ctx context.Context, index int, record Record) error {
	return s.write(ctx, "set", fmt.Sprintf("set index %d", index), func(tx *Tx) error {
		return tx.Set(index, record)
	})
}

// Append adds a record at the end.
func (s *Sequence) Append(ctx context.Context, record Record) error {
	return s.write(ctx, "append", "append", func(tx *Tx) error {
		return tx.Append(record)
	})
}

// Extend appends all records in one transaction.
func (s *Sequence) Extend(ctx context.Context, records []Record) error {
	return s.write(ctx, "extend", "extend", func(tx *Tx) error {
		return tx.Extend(records)
	})
}

// Insert places a record at the given index, clamped to [0, length].
func (s *Sequence) Insert(ctx context.Context, index int, record Record) error {
	return s.write(ctx, "insert", fmt.Sprintf("insert index %d", index), func(tx *Tx) error {
		return tx.Insert(index, record)
	})
}

// Delete removes the record at the given index.
func (s *Sequence) Delete(ctx context.Context, index int) error {
	return s.write(ctx, "delete", fmt.Sprintf("delete index %d", index), func(tx *Tx) error {
		return tx.Delete(index)
	})
}

// Update merges the given fields into the record at the given index.
// An empty update is a no-op on an open, writable sequence.
func (s *Sequence) Update(ctx context.Context, index int, fields Record) error {
	what := fmt.Sprintf("update index %d", index)
	if len(fields) == 0 {
		return failed(what, s.check(true))
	}
	return s.write(ctx, "update", what, func(tx *Tx) error {
		return tx.Update(index, fields)
	})
}

func (s *Sequence) write(ctx context.Context, op string, what string, fn func(tx *Tx) error) error {
	start := time.Now()
	err := s.run(ctx, true, what, fn)
	s.observe(op, start, err)
	return err
}

// ForEach visits all records in index order within a single snapshot.
func (s *Sequence) ForEach(ctx context.Context, visit func(index int, record Record) error) error {
	return s.run(ctx, false, "iterate", func(tx *Tx) error {
		return tx.ForEach(visit)
	})
}

// Iterate provides an iterator over the records of the sequence. Each step
// reads one record in its own transaction.
func (s *Sequence) Iterate(ctx context.Context) *Iterator {
	return &Iterator{seq: s, ctx: ctx, length: -1, index: -1}
}

// GetMemoryFootprint provides an approximation of the memory used by the
// sequence and its store.
func (s *Sequence) GetMemoryFootprint() *common.MemoryFootprint {
	mf := common.NewMemoryFootprint(unsafe.Sizeof(*s) + uintptr(len(s.keys.prefix)))
	mf.AddChild("store", s.store.GetMemoryFootprint())
	return mf
}

// Close releases the sequence. The store is closed as well if it is owned
// by the sequence. Closing a sequence twice is a no-op.
func (s *Sequence) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.options.ownsStore {
		return s.store.Close()
	}
	return nil
}
