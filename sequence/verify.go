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
	"context"
	"encoding/binary"
	"fmt"
	"hash"
	"strconv"

	"github.com/zincware/asebytes/common"
	"golang.org/x/crypto/sha3"
)

// Verify checks the persisted state of the sequence for consistency:
//   - every index below the count has a mapping entry
//   - sort keys strictly increase with the index
//   - there are no mapping entries at or beyond the count
//   - every mapped sort key has a record and no other records exist
//
// The check runs on a single snapshot.
func (s *Sequence) Verify(ctx context.Context, observer VerificationObserver) (res error) {
	if observer == nil {
		observer = NilVerificationObserver{}
	}
	observer.StartVerification()
	defer func() {
		observer.EndVerification(res)
	}()
	return s.View(ctx, func(tx *Tx) error {
		count, err := tx.Len()
		if err != nil {
			return err
		}

		observer.Progress(fmt.Sprintf("Checking %d index mappings ...", count))
		var previous SortKey
		for i := 0; i < count; i++ {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			key, err := tx.mapping.mustGet(i)
			if err != nil {
				return err
			}
			if i > 0 && !previous.Less(key) {
				return fmt.Errorf("%w; sort key %v of index %d does not exceed %v of index %d", ErrCorrupted, key, i, previous, i-1)
			}
			previous = key
		}

		observer.Progress("Checking for stale index mappings ...")
		if err := s.checkStaleMappings(tx, count); err != nil {
			return err
		}

		observer.Progress("Checking records ...")
		return s.checkRecords(ctx, tx, count)
	})
}

func (s *Sequence) checkStaleMappings(tx *Tx, count int) error {
	prefix := len(s.keys.mapping(0)) - 1
	it := tx.txn.NewIterator(s.keys.mappings())
	defer it.Release()
	for it.Next() {
		index, err := strconv.Atoi(string(it.Key()[prefix:]))
		if err != nil || index < 0 {
			return fmt.Errorf("%w; invalid mapping key %q", ErrCorrupted, it.Key())
		}
		if index >= count {
			return fmt.Errorf("%w; stale mapping of index %d with count %d", ErrCorrupted, index, count)
		}
	}
	return it.Error()
}

// checkRecords walks all record entries in key order. Since sort keys
// increase with the index, the n-th record marker must belong to index n.
func (s *Sequence) checkRecords(ctx context.Context, tx *Tx, count int) error {
	prefix := len(s.keys.prefix)
	it := tx.txn.NewIterator(s.keys.records())
	defer it.Release()
	next := 0
	var current []byte
	for it.Next() {
		key := it.Key()[prefix:]
		if !isRecordKey(key) {
			// Entries of sequences whose prefix extends this one by a digit.
			continue
		}
		text := key[:SortKeyTextSize]
		if len(key) > SortKeyTextSize {
			if !bytes.Equal(text, current) {
				return fmt.Errorf("%w; orphaned field %q", ErrCorrupted, it.Key())
			}
			continue
		}
		if next%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if next >= count {
			return fmt.Errorf("%w; orphaned record at sort key %s", ErrCorrupted, text)
		}
		expected, err := tx.mapping.mustGet(next)
		if err != nil {
			return err
		}
		switch bytes.Compare(text, expected.Text()) {
		case -1:
			return fmt.Errorf("%w; orphaned record at sort key %s", ErrCorrupted, text)
		case 1:
			return fmt.Errorf("%w; missing record of index %d", ErrCorrupted, next)
		}
		current = bytes.Clone(text)
		next++
	}
	if err := it.Error(); err != nil {
		return err
	}
	if next < count {
		return fmt.Errorf("%w; missing record of index %d", ErrCorrupted, next)
	}
	return nil
}

// isRecordKey tells whether key, stripped of the prefix, is a record
// marker or a record field.
func isRecordKey(key []byte) bool {
	if len(key) < SortKeyTextSize {
		return false
	}
	if len(key) > SortKeyTextSize && key[SortKeyTextSize] != fieldSeparator {
		return false
	}
	_, err := ParseSortKey(key[:SortKeyTextSize])
	return err == nil
}

// Hash computes a Keccak256 digest of the content of the sequence. The
// digest covers all records in index order, with fields in name order
// and all values decompressed. It does not depend on sort keys, and is
// thus unaffected by reindexing or by the history of modifications.
func (s *Sequence) Hash(ctx context.Context) (common.Hash, error) {
	var res common.Hash
	hasher := sha3.NewLegacyKeccak256()
	err := s.View(ctx, func(tx *Tx) error {
		count, err := tx.Len()
		if err != nil {
			return err
		}
		writeLength(hasher, count)
		return tx.ForEach(func(_ int, record Record) error {
			writeLength(hasher, len(record))
			for _, name := range record.Names() {
				writeBytes(hasher, []byte(name))
				writeBytes(hasher, record[name])
			}
			return nil
		})
	})
	if err != nil {
		return res, fmt.Errorf("failed to hash sequence; %w", err)
	}
	hasher.Sum(res[:0])
	return res, nil
}

func writeLength(h hash.Hash, n int) {
	var buffer [8]byte
	binary.BigEndian.PutUint64(buffer[:], uint64(n))
	h.Write(buffer[:])
}

func writeBytes(h hash.Hash, data []byte) {
	writeLength(h, len(data))
	h.Write(data)
}
