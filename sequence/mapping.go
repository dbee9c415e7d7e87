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
	"errors"
	"fmt"
	"strconv"

	"github.com/zincware/asebytes/backend"
)

// indexMapping maintains the logical index to sort key entries and the
// record count of a sequence within one transaction.
type indexMapping struct {
	txn  backend.Txn
	keys keyspace
}

// get provides the sort key of a logical index. The result is false if
// there is no entry for the index.
func (m indexMapping) get(index int) (SortKey, bool, error) {
	if index < 0 {
		return SortKey{}, false, nil
	}
	value, err := m.txn.Get(m.keys.mapping(index))
	if errors.Is(err, backend.ErrNotFound) {
		return SortKey{}, false, nil
	}
	if err != nil {
		return SortKey{}, false, err
	}
	key, err := ParseSortKey(value)
	if err != nil {
		return SortKey{}, false, fmt.Errorf("invalid mapping of index %d; %w", index, err)
	}
	return key, true, nil
}

// mustGet is get for indices below the count, which must have an entry.
func (m indexMapping) mustGet(index int) (SortKey, error) {
	key, found, err := m.get(index)
	if err != nil {
		return SortKey{}, err
	}
	if !found {
		return SortKey{}, fmt.Errorf("%w; missing mapping of index %d", ErrCorrupted, index)
	}
	return key, nil
}

func (m indexMapping) set(index int, key SortKey) error {
	return m.txn.Put(m.keys.mapping(index), key.Text())
}

func (m indexMapping) delete(index int) error {
	return m.txn.Delete(m.keys.mapping(index))
}

// count provides the number of records. A missing counter reads as 0.
func (m indexMapping) count() (int, error) {
	value, err := m.txn.Get(m.keys.count())
	if errors.Is(err, backend.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(string(value))
	if err != nil || count < 0 {
		return 0, fmt.Errorf("%w; invalid count %q", ErrCorrupted, value)
	}
	return count, nil
}

func (m indexMapping) setCount(count int) error {
	return m.txn.Put(m.keys.count(), strconv.AppendInt(nil, int64(count), 10))
}

// shiftUp moves the entries [from, count) to [from+1, count+1). The entry
// at from is left in place, to be overwritten by the caller.
func (m indexMapping) shiftUp(from, count int) error {
	for i := count - 1; i >= from; i-- {
		if err := m.move(i, i+1); err != nil {
			return err
		}
	}
	return nil
}

// shiftDown moves the entries [from+1, count) to [from, count-1) and
// removes the now duplicated last entry.
func (m indexMapping) shiftDown(from, count int) error {
	for i := from + 1; i < count; i++ {
		if err := m.move(i, i-1); err != nil {
			return err
		}
	}
	return m.delete(count - 1)
}

func (m indexMapping) move(from, to int) error {
	value, err := m.txn.Get(m.keys.mapping(from))
	if errors.Is(err, backend.ErrNotFound) {
		return fmt.Errorf("%w; missing mapping of index %d", ErrCorrupted, from)
	}
	if err != nil {
		return err
	}
	return m.txn.Put(m.keys.mapping(to), value)
}
