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
	"log/slog"
	"time"
)

// allocator hands out sort keys for new records and restores headroom
// between neighbouring keys by reindexing when needed.
type allocator struct {
	mapping  indexMapping
	records  recordStore
	window   int
	logger   *slog.Logger
	observer Observer
}

// allocate provides a sort key for a record placed at the logical index
// target, given the current count. For target >= count the key is larger
// than all existing keys, otherwise it lies between the keys of target-1
// and target.
func (a allocator) allocate(target, count int) (SortKey, error) {
	if target >= count {
		if count == 0 {
			return SortKeyOf(0), nil
		}
		last, err := a.mapping.mustGet(count - 1)
		if err != nil {
			return SortKey{}, err
		}
		return last.NextInteger()
	}
	upper, err := a.mapping.mustGet(target)
	if err != nil {
		return SortKey{}, err
	}
	var lower SortKey
	if target == 0 {
		lower, err = upper.minusOne()
	} else {
		lower, err = a.mapping.mustGet(target - 1)
	}
	if err != nil {
		return SortKey{}, err
	}
	return Midpoint(lower, upper)
}

// allocateOrReindex is allocate, reindexing the neighbourhood of target
// and retrying once if the keys around target are exhausted.
func (a allocator) allocateOrReindex(target, count int) (SortKey, error) {
	key, err := a.allocate(target, count)
	if !errors.Is(err, ErrKeyAllocationExhausted) {
		return key, err
	}
	if target >= count {
		return SortKey{}, fmt.Errorf("%w; %w", ErrReindexFailed, err)
	}
	if err := a.reindex(target, count); err != nil {
		return SortKey{}, err
	}
	key, err = a.allocate(target, count)
	if errors.Is(err, ErrKeyAllocationExhausted) {
		return SortKey{}, fmt.Errorf("%w; %w", ErrReindexFailed, err)
	}
	return key, err
}

// reindex assigns fresh, evenly spaced sort keys to the records in a
// window around target. The window starts at the configured size on each
// side and doubles until the keys fit between the window's neighbours;
// a window covering the whole sequence always fits.
func (a allocator) reindex(target, count int) (res error) {
	start := time.Now()
	window, moved := 0, 0
	defer func() {
		a.observer.OnReindex(time.Since(start), window, moved, res)
	}()
	for width := a.window; ; width *= 2 {
		lo, hi := max(0, target-width), min(count, target+width)
		keys, ok, err := a.respace(lo, hi, count)
		if err != nil {
			return err
		}
		if !ok {
			if lo == 0 && hi == count {
				return fmt.Errorf("%w; no headroom for %d records", ErrReindexFailed, count)
			}
			continue
		}
		window = hi - lo
		if moved, err = a.relocate(lo, keys); err != nil {
			return fmt.Errorf("%w; %w", ErrReindexFailed, err)
		}
		a.logger.Debug("reindexed sort keys", "target", target, "from", lo, "to", hi, "moved", moved)
		return nil
	}
}

// respace computes new keys for the window [lo, hi) fitting between the
// keys of lo-1 and hi, where present.
func (a allocator) respace(lo, hi, count int) ([]SortKey, bool, error) {
	var lower, upper *SortKey
	if lo > 0 {
		key, err := a.mapping.mustGet(lo - 1)
		if err != nil {
			return nil, false, err
		}
		lower = &key
	}
	if hi < count {
		key, err := a.mapping.mustGet(hi)
		if err != nil {
			return nil, false, err
		}
		upper = &key
	}
	n := hi - lo
	switch {
	case lower == nil && upper == nil:
		keys, ok := integers(SortKeyOf(0), n)
		return keys, ok, nil
	case upper == nil:
		first, err := lower.NextInteger()
		if err != nil {
			return nil, false, nil
		}
		keys, ok := integers(first, n)
		return keys, ok, nil
	case lower == nil:
		keys, ok := integersBelow(*upper, n)
		return keys, ok, nil
	}
	keys, ok := spread(*lower, *upper, n)
	return keys, ok, nil
}

// relocate refiles the records at the logical indices lo, lo+1, ... under
// the given keys. Records moving down are processed in ascending order,
// records moving up in descending order, so no record is ever written to
// a key still in use.
func (a allocator) relocate(lo int, keys []SortKey) (int, error) {
	old := make([]SortKey, len(keys))
	for i := range old {
		key, err := a.mapping.mustGet(lo + i)
		if err != nil {
			return 0, err
		}
		old[i] = key
	}
	moved := 0
	move := func(i int) error {
		if err := a.records.move(old[i], keys[i]); err != nil {
			return err
		}
		moved++
		return a.mapping.set(lo+i, keys[i])
	}
	for i := range keys {
		if keys[i].Less(old[i]) {
			if err := move(i); err != nil {
				return moved, err
			}
		}
	}
	for i := len(keys) - 1; i >= 0; i-- {
		if old[i].Less(keys[i]) {
			if err := move(i); err != nil {
				return moved, err
			}
		}
	}
	return moved, nil
}
