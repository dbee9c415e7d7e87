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
	"fmt"

	"github.com/zincware/asebytes/backend"
)

// Tx is a transaction on a sequence, obtained through Sequence.View or
// Sequence.Transact. All reads of a transaction observe the same state,
// all writes become visible together when the transaction commits. A Tx
// must not be used after the function it was passed to returned.
type Tx struct {
	ctx     context.Context
	txn     backend.Txn
	mapping indexMapping
	records recordStore
	alloc   allocator
}

func (s *Sequence) newTx(ctx context.Context, txn backend.Txn) *Tx {
	mapping := indexMapping{txn: txn, keys: s.keys}
	records := recordStore{txn: txn, keys: s.keys, compressor: s.compressor}
	return &Tx{
		ctx:     ctx,
		txn:     txn,
		mapping: mapping,
		records: records,
		alloc: allocator{
			mapping:  mapping,
			records:  records,
			window:   s.options.reindexWindow,
			logger:   s.options.logger,
			observer: s.options.observer,
		},
	}
}

// Len provides the number of records.
func (tx *Tx) Len() (int, error) {
	count, err := tx.mapping.count()
	if err != nil {
		return 0, fmt.Errorf("failed to read length; %w", err)
	}
	return count, nil
}

// SortKey provides the sort key the record at the given index is filed under.
func (tx *Tx) SortKey(index int) (SortKey, error) {
	key, err := tx.resolve(index)
	if err != nil {
		return SortKey{}, fmt.Errorf("failed to resolve index %d; %w", index, err)
	}
	return key, nil
}

func (tx *Tx) resolve(index int) (SortKey, error) {
	key, found, err := tx.mapping.get(index)
	if err != nil {
		return SortKey{}, err
	}
	if !found {
		return SortKey{}, ErrIndexNotFound
	}
	return key, nil
}

// Get provides the record at the given index.
func (tx *Tx) Get(index int) (Record, error) {
	key, err := tx.resolve(index)
	if err != nil {
		return nil, fmt.Errorf("failed to get index %d; %w", index, err)
	}
	record, err := tx.records.read(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get index %d; %w", index, err)
	}
	return record, nil
}

// GetFields provides the named fields of the record at the given index.
// Without names the full record is returned.
func (tx *Tx) GetFields(index int, names ...string) (Record, error) {
	if len(names) == 0 {
		return tx.Get(index)
	}
	key, err := tx.resolve(index)
	if err != nil {
		return nil, fmt.Errorf("failed to get index %d; %w", index, err)
	}
	record, err := tx.records.readFields(key, names)
	if err != nil {
		return nil, fmt.Errorf("failed to get index %d; %w", index, err)
	}
	return record, nil
}

// Keys lists the field names of the record at the given index.
func (tx *Tx) Keys(index int) ([]string, error) {
	key, err := tx.resolve(index)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields of index %d; %w", index, err)
	}
	names, err := tx.records.names(key)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields of index %d; %w", index, err)
	}
	return names, nil
}

// ForEach visits all records in index order. Visiting stops at the first
// error returned by the visitor or when the context is done.
func (tx *Tx) ForEach(visit func(index int, record Record) error) error {
	count, err := tx.Len()
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		if err := tx.ctx.Err(); err != nil {
			return err
		}
		record, err := tx.Get(i)
		if err != nil {
			return err
		}
		if err := visit(i, record); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) checkWritable() error {
	if !tx.txn.Writable() {
		return ErrReadOnly
	}
	return nil
}

// Set overwrites the record at the given index. Setting the index equal
// to the length appends the record.
func (tx *Tx) Set(index int, record Record) error {
	if err := tx.set(index, record); err != nil {
		return fmt.Errorf("failed to set index %d; %w", index, err)
	}
	return nil
}

func (tx *Tx) set(index int, record Record) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	count, err := tx.mapping.count()
	if err != nil {
		return err
	}
	if index < 0 || index > count {
		return ErrIndexOutOfRange
	}
	if index == count {
		return tx.appendAt(count, record)
	}
	key, err := tx.mapping.mustGet(index)
	if err != nil {
		return err
	}
	return tx.records.write(key, record)
}

// Append adds a record at the end of the sequence.
func (tx *Tx) Append(record Record) error {
	if err := tx.checkWritable(); err != nil {
		return fmt.Errorf("failed to append; %w", err)
	}
	count, err := tx.mapping.count()
	if err == nil {
		err = tx.appendAt(count, record)
	}
	if err != nil {
		return fmt.Errorf("failed to append index %d; %w", count, err)
	}
	return nil
}

func (tx *Tx) appendAt(count int, record Record) error {
	key, err := tx.alloc.allocateOrReindex(count, count)
	if err != nil {
		return err
	}
	if err := tx.mapping.set(count, key); err != nil {
		return err
	}
	if err := tx.records.write(key, record); err != nil {
		return err
	}
	return tx.mapping.setCount(count + 1)
}

// Extend appends all given records in order.
func (tx *Tx) Extend(records []Record) error {
	if err := tx.checkWritable(); err != nil {
		return fmt.Errorf("failed to extend; %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	count, err := tx.mapping.count()
	if err != nil {
		return fmt.Errorf("failed to extend; %w", err)
	}
	key, err := tx.alloc.allocateOrReindex(count, count)
	for i, record := range records {
		if err == nil && i > 0 {
			key, err = key.NextInteger()
		}
		if err == nil {
			err = tx.mapping.set(count+i, key)
		}
		if err == nil {
			err = tx.records.write(key, record)
		}
		if err != nil {
			return fmt.Errorf("failed to append index %d; %w", count+i, err)
		}
	}
	if err := tx.mapping.setCount(count + len(records)); err != nil {
		return fmt.Errorf("failed to extend; %w", err)
	}
	return nil
}

// Insert places the record at the given index, moving the records at
// this index and after one position up. Indices beyond the valid range
// are clamped to it.
func (tx *Tx) Insert(index int, record Record) error {
	if err := tx.insert(index, record); err != nil {
		return fmt.Errorf("failed to insert index %d; %w", index, err)
	}
	return nil
}

func (tx *Tx) insert(index int, record Record) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	count, err := tx.mapping.count()
	if err != nil {
		return err
	}
	index = max(0, min(index, count))
	if index == count {
		return tx.appendAt(count, record)
	}
	// The key is allocated before shifting, while index still refers to
	// the upper neighbour of the new record.
	key, err := tx.alloc.allocateOrReindex(index, count)
	if err != nil {
		return err
	}
	if err := tx.mapping.shiftUp(index, count); err != nil {
		return err
	}
	if err := tx.mapping.set(index, key); err != nil {
		return err
	}
	if err := tx.records.write(key, record); err != nil {
		return err
	}
	return tx.mapping.setCount(count + 1)
}

// Delete removes the record at the given index, moving all records after
// it one position down.
func (tx *Tx) Delete(index int) error {
	if err := tx.delete(index); err != nil {
		return fmt.Errorf("failed to delete index %d; %w", index, err)
	}
	return nil
}

func (tx *Tx) delete(index int) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	count, err := tx.mapping.count()
	if err != nil {
		return err
	}
	if index < 0 || index >= count {
		return ErrIndexOutOfRange
	}
	key, err := tx.mapping.mustGet(index)
	if err != nil {
		return err
	}
	if err := tx.mapping.shiftDown(index, count); err != nil {
		return err
	}
	if err := tx.records.remove(key); err != nil {
		return err
	}
	return tx.mapping.setCount(count - 1)
}

// Update adds or overwrites the given fields of the record at the given
// index, keeping all other fields.
func (tx *Tx) Update(index int, fields Record) error {
	if err := tx.checkWritable(); err != nil {
		return fmt.Errorf("failed to update index %d; %w", index, err)
	}
	if len(fields) == 0 {
		return nil
	}
	key, err := tx.resolve(index)
	if err == nil {
		err = tx.records.merge(key, fields)
	}
	if err != nil {
		return fmt.Errorf("failed to update index %d; %w", index, err)
	}
	return nil
}
