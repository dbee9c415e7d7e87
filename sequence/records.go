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
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zincware/asebytes/backend"
	"github.com/zincware/asebytes/compress"
	"golang.org/x/exp/maps"
)

// Record is a set of named byte fields stored as one element of a sequence.
type Record map[string][]byte

// Names provides the field names of the record in ascending order.
func (r Record) Names() []string {
	names := maps.Keys(r)
	slices.Sort(names)
	return names
}

// Equal reports whether both records have the same fields with equal
// values. Nil and empty values are considered equal.
func (r Record) Equal(other Record) bool {
	if len(r) != len(other) {
		return false
	}
	for name, value := range r {
		got, found := other[name]
		if !found || !bytes.Equal(value, got) {
			return false
		}
	}
	return true
}

// recordStore reads and writes records addressed by sort key within one
// transaction. Values pass through the compressor on their way in and out.
type recordStore struct {
	txn        backend.Txn
	keys       keyspace
	compressor compress.Compressor
}

// write replaces whatever is stored at key by the given record.
func (s recordStore) write(key SortKey, record Record) error {
	if err := s.remove(key); err != nil {
		return err
	}
	if err := s.txn.Put(s.keys.record(key), nil); err != nil {
		return err
	}
	return s.putFields(key, record)
}

func (s recordStore) putFields(key SortKey, record Record) error {
	for name, value := range record {
		stored, err := s.compressor.Compress(value)
		if err != nil {
			return fmt.Errorf("failed to compress field %q; %w", name, err)
		}
		if err := s.txn.Put(s.keys.field(key, name), stored); err != nil {
			return err
		}
	}
	return nil
}

// read assembles the record stored at key by scanning all its fields.
func (s recordStore) read(key SortKey) (Record, error) {
	marker := s.keys.record(key)
	prefix := len(marker) + 1
	it := s.txn.NewIterator(s.keys.recordRange(key))
	defer it.Release()
	found := false
	res := Record{}
	for it.Next() {
		if len(it.Key()) == len(marker) {
			found = true
			continue
		}
		value, err := s.compressor.Decompress(bytes.Clone(it.Value()))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress field %q; %w", it.Key()[prefix:], err)
		}
		res[string(it.Key()[prefix:])] = value
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w; no record at sort key %v", ErrIndexNotFound, key)
	}
	return res, nil
}

// readFields fetches the named fields of the record at key. All of them
// must exist.
func (s recordStore) readFields(key SortKey, names []string) (Record, error) {
	if err := s.mustExist(key); err != nil {
		return nil, err
	}
	res := make(Record, len(names))
	var missing []string
	for _, name := range names {
		if _, done := res[name]; done {
			continue
		}
		value, err := s.txn.Get(s.keys.field(key, name))
		if errors.Is(err, backend.ErrNotFound) {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, err
		}
		if res[name], err = s.compressor.Decompress(value); err != nil {
			return nil, fmt.Errorf("failed to decompress field %q; %w", name, err)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, strings.Join(slices.Compact(missing), ", "))
	}
	return res, nil
}

// names lists the fields of the record at key without reading values.
func (s recordStore) names(key SortKey) ([]string, error) {
	if err := s.mustExist(key); err != nil {
		return nil, err
	}
	prefix := len(s.keys.fieldPrefix(key))
	it := s.txn.NewIterator(s.keys.recordRange(key))
	defer it.Release()
	res := []string{}
	for it.Next() {
		if len(it.Key()) >= prefix {
			res = append(res, string(it.Key()[prefix:]))
		}
	}
	return res, it.Error()
}

// merge overwrites or adds the given fields of an existing record.
func (s recordStore) merge(key SortKey, fields Record) error {
	if err := s.mustExist(key); err != nil {
		return err
	}
	return s.putFields(key, fields)
}

// remove deletes the record at key, if any.
func (s recordStore) remove(key SortKey) error {
	entries, err := s.collect(key)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := s.txn.Delete(entry.Key); err != nil {
			return err
		}
	}
	return nil
}

// move refiles the record at from under the sort key to. Stored values
// are copied verbatim. The target key must not hold a record.
func (s recordStore) move(from, to SortKey) error {
	entries, err := s.collect(from)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w; no record at sort key %v", ErrCorrupted, from)
	}
	source := len(s.keys.record(from))
	target := s.keys.record(to)
	for _, entry := range entries {
		if err := s.txn.Delete(entry.Key); err != nil {
			return err
		}
		key := append(bytes.Clone(target), entry.Key[source:]...)
		if err := s.txn.Put(key, entry.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s recordStore) exists(key SortKey) (bool, error) {
	_, err := s.txn.Get(s.keys.record(key))
	if errors.Is(err, backend.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s recordStore) mustExist(key SortKey) error {
	found, err := s.exists(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w; no record at sort key %v", ErrIndexNotFound, key)
	}
	return nil
}

// collect loads all entries of the record at key. Iterators are released
// before the caller starts writing.
func (s recordStore) collect(key SortKey) ([]backend.KeyValue, error) {
	it := s.txn.NewIterator(s.keys.recordRange(key))
	defer it.Release()
	var res []backend.KeyValue
	for it.Next() {
		res = append(res, backend.KeyValue{
			Key:   bytes.Clone(it.Key()),
			Value: bytes.Clone(it.Value()),
		})
	}
	return res, it.Error()
}
