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
	"math/rand"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/zincware/asebytes/backend"
	"github.com/zincware/asebytes/backend/memory"
	"github.com/zincware/asebytes/backend/storetest"
	"github.com/zincware/asebytes/compress"
)

func rec(fields ...string) Record {
	res := Record{}
	for i := 0; i+1 < len(fields); i += 2 {
		res[fields[i]] = []byte(fields[i+1])
	}
	return res
}

func openSequence(t *testing.T, store backend.Store, opts ...Option) *Sequence {
	t.Helper()
	seq, err := Open(context.Background(), store, []byte("test/"), opts...)
	if err != nil {
		t.Fatalf("failed to open sequence: %v", err)
	}
	t.Cleanup(func() {
		_ = seq.Close()
	})
	return seq
}

func mustLen(t *testing.T, seq *Sequence) int {
	t.Helper()
	n, err := seq.Len(context.Background())
	if err != nil {
		t.Fatalf("failed to get length: %v", err)
	}
	return n
}

func mustGet(t *testing.T, seq *Sequence, index int) Record {
	t.Helper()
	r, err := seq.Get(context.Background(), index)
	if err != nil {
		t.Fatalf("failed to get index %d: %v", index, err)
	}
	return r
}

// checkContent compares the sequence with the expected records and runs
// a consistency check.
func checkContent(t *testing.T, seq *Sequence, want []Record) {
	t.Helper()
	ctx := context.Background()
	if got := mustLen(t, seq); got != len(want) {
		t.Fatalf("unexpected length, wanted %d, got %d", len(want), got)
	}
	err := seq.ForEach(ctx, func(i int, r Record) error {
		if !want[i].Equal(r) {
			return fmt.Errorf("unexpected record at %d, wanted %v, got %v", i, want[i], r)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := seq.Verify(ctx, nil); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
}

func sortKeys(t *testing.T, seq *Sequence) []SortKey {
	t.Helper()
	var keys []SortKey
	err := seq.View(context.Background(), func(tx *Tx) error {
		n, err := tx.Len()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			key, err := tx.SortKey(i)
			if err != nil {
				return err
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to collect sort keys: %v", err)
	}
	return keys
}

type countingObserver struct {
	operations map[string]int
	failures   map[string]int
	reindexes  int
	moved      int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{operations: map[string]int{}, failures: map[string]int{}}
}

func (o *countingObserver) OnOperation(op string, _ time.Duration, err error) {
	o.operations[op]++
	if err != nil {
		o.failures[op]++
	}
}

func (o *countingObserver) OnReindex(_ time.Duration, _ int, moved int, err error) {
	if err == nil {
		o.reindexes++
		o.moved += moved
	}
}

func TestSequence_AppendInsertDeleteScenario(t *testing.T) {
	for name, factory := range storetest.Factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seq := openSequence(t, factory(t))

			for _, value := range []string{"1", "2", "3"} {
				if err := seq.Append(ctx, rec("a", value)); err != nil {
					t.Fatalf("failed to append: %v", err)
				}
			}
			if got := mustLen(t, seq); got != 3 {
				t.Errorf("unexpected length, wanted 3, got %d", got)
			}
			if got := mustGet(t, seq, 1); !got.Equal(rec("a", "2")) {
				t.Errorf("unexpected record at 1: %v", got)
			}

			if err := seq.Insert(ctx, 1, rec("a", "X")); err != nil {
				t.Fatalf("failed to insert: %v", err)
			}
			checkContent(t, seq, []Record{rec("a", "1"), rec("a", "X"), rec("a", "2"), rec("a", "3")})

			if err := seq.Delete(ctx, 0); err != nil {
				t.Fatalf("failed to delete: %v", err)
			}
			checkContent(t, seq, []Record{rec("a", "X"), rec("a", "2"), rec("a", "3")})
		})
	}
}

func TestSequence_NewSequenceIsEmpty(t *testing.T) {
	for name, factory := range storetest.Factories() {
		t.Run(name, func(t *testing.T) {
			seq := openSequence(t, factory(t))
			checkContent(t, seq, nil)
			if _, err := seq.Get(context.Background(), 0); !errors.Is(err, ErrIndexNotFound) {
				t.Errorf("reading an empty sequence should fail, got %v", err)
			}
		})
	}
}

func TestSequence_SetOverwritesAllFields(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Append(ctx, rec("a", "1", "b", "2")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if err := seq.Set(ctx, 0, rec("c", "3")); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	checkContent(t, seq, []Record{rec("c", "3")})
}

func TestSequence_SetAtLengthAppends(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	for i := 0; i < 3; i++ {
		if err := seq.Set(ctx, i, rec("i", fmt.Sprint(i))); err != nil {
			t.Fatalf("failed to set: %v", err)
		}
	}
	checkContent(t, seq, []Record{rec("i", "0"), rec("i", "1"), rec("i", "2")})
}

func TestSequence_SetOutsideRangeFails(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Append(ctx, rec("a", "1")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	for _, index := range []int{-1, 2, 10} {
		if err := seq.Set(ctx, index, rec("a", "2")); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("setting index %d should fail, got %v", index, err)
		}
	}
	checkContent(t, seq, []Record{rec("a", "1")})
}

func TestSequence_GetOfMissingIndexFails(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Append(ctx, rec("a", "1")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	for _, index := range []int{-1, 1, 5} {
		_, err := seq.Get(ctx, index)
		if !errors.Is(err, ErrIndexNotFound) {
			t.Errorf("getting index %d should fail, got %v", index, err)
		}
		if want := fmt.Sprintf("failed to get index %d", index); err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("error should name operation and index, got %v", err)
		}
	}
}

func TestSequence_DeleteOutsideRangeFails(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Delete(ctx, 0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("deleting from an empty sequence should fail, got %v", err)
	}
	if err := seq.Append(ctx, rec("a", "1")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	for _, index := range []int{-1, 1} {
		if err := seq.Delete(ctx, index); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("deleting index %d should fail, got %v", index, err)
		}
	}
	checkContent(t, seq, []Record{rec("a", "1")})
}

func TestSequence_InsertClampsIndex(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Insert(ctx, 5, rec("v", "b")); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	if err := seq.Insert(ctx, -3, rec("v", "a")); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	if err := seq.Insert(ctx, 100, rec("v", "c")); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	checkContent(t, seq, []Record{rec("v", "a"), rec("v", "b"), rec("v", "c")})
}

func TestSequence_EmptyRecordsAreStored(t *testing.T) {
	for name, factory := range storetest.Factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seq := openSequence(t, factory(t))
			if err := seq.Append(ctx, Record{}); err != nil {
				t.Fatalf("failed to append: %v", err)
			}
			if err := seq.Append(ctx, rec("empty", "")); err != nil {
				t.Fatalf("failed to append: %v", err)
			}
			checkContent(t, seq, []Record{{}, rec("empty", "")})
		})
	}
}

func TestSequence_ExtendAppendsInOrder(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Append(ctx, rec("i", "0")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if err := seq.Extend(ctx, nil); err != nil {
		t.Fatalf("empty extend should succeed: %v", err)
	}
	if err := seq.Extend(ctx, []Record{rec("i", "1"), rec("i", "2"), rec("i", "3")}); err != nil {
		t.Fatalf("failed to extend: %v", err)
	}
	checkContent(t, seq, []Record{rec("i", "0"), rec("i", "1"), rec("i", "2"), rec("i", "3")})
}

func TestSequence_AppendAfterDeletingTailKeepsOrder(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Extend(ctx, []Record{rec("i", "0"), rec("i", "1"), rec("i", "2")}); err != nil {
		t.Fatalf("failed to extend: %v", err)
	}
	if err := seq.Delete(ctx, 0); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if err := seq.Append(ctx, rec("i", "3")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	checkContent(t, seq, []Record{rec("i", "1"), rec("i", "2"), rec("i", "3")})
}

func TestSequence_UpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Append(ctx, rec("a", "1", "b", "2")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if err := seq.Update(ctx, 0, rec("b", "20", "c", "30")); err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	if err := seq.Update(ctx, 0, nil); err != nil {
		t.Fatalf("empty update should succeed: %v", err)
	}
	if err := seq.Update(ctx, 3, rec("a", "x")); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("updating a missing index should fail, got %v", err)
	}
	checkContent(t, seq, []Record{rec("a", "1", "b", "20", "c", "30")})
}

func TestSequence_GetFieldsReadsSubset(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Append(ctx, rec("a", "1", "b", "2", "c", "3")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	got, err := seq.GetFields(ctx, 0, "c", "a", "c")
	if err != nil {
		t.Fatalf("failed to get fields: %v", err)
	}
	if want := rec("a", "1", "c", "3"); !want.Equal(got) {
		t.Errorf("unexpected fields, wanted %v, got %v", want, got)
	}

	got, err = seq.GetFields(ctx, 0)
	if err != nil {
		t.Fatalf("failed to get fields: %v", err)
	}
	if want := rec("a", "1", "b", "2", "c", "3"); !want.Equal(got) {
		t.Errorf("without names all fields should be returned, got %v", got)
	}

	if _, err := seq.GetFields(ctx, 0, "a", "missing"); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("missing fields should be reported, got %v", err)
	}
	if _, err := seq.GetFields(ctx, 1, "a"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("missing index should be reported, got %v", err)
	}
}

func TestSequence_KeysListsFieldNames(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Extend(ctx, []Record{rec("z", "1", "a-b", "2", "m", ""), {}}); err != nil {
		t.Fatalf("failed to extend: %v", err)
	}
	names, err := seq.Keys(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list keys: %v", err)
	}
	if want := []string{"a-b", "m", "z"}; !slices.Equal(want, names) {
		t.Errorf("unexpected names, wanted %v, got %v", want, names)
	}
	names, err = seq.Keys(ctx, 1)
	if err != nil || len(names) != 0 {
		t.Errorf("empty record should have no names, got %v, %v", names, err)
	}
	if _, err := seq.Keys(ctx, 2); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("missing index should be reported, got %v", err)
	}
}

func TestSequence_RandomOperationsMatchSliceModel(t *testing.T) {
	for name, factory := range storetest.Factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seq := openSequence(t, factory(t), WithReindexWindow(2))
			rnd := rand.New(rand.NewSource(42))
			var model []Record
			for step := 0; step < 400; step++ {
				r := rec("step", fmt.Sprint(step), fmt.Sprintf("f%d", step%3), "x")
				switch op := rnd.Intn(10); {
				case op < 3:
					if err := seq.Append(ctx, r); err != nil {
						t.Fatalf("failed to append: %v", err)
					}
					model = append(model, r)
				case op < 6:
					// Bias inserts towards the front to provoke reindexing.
					i := rnd.Intn(min(len(model), 4) + 1)
					if err := seq.Insert(ctx, i, r); err != nil {
						t.Fatalf("failed to insert: %v", err)
					}
					model = slices.Insert(model, i, r)
				case op < 8 && len(model) > 0:
					i := rnd.Intn(len(model))
					if err := seq.Delete(ctx, i); err != nil {
						t.Fatalf("failed to delete: %v", err)
					}
					model = slices.Delete(model, i, i+1)
				case len(model) > 0:
					i := rnd.Intn(len(model))
					if err := seq.Set(ctx, i, r); err != nil {
						t.Fatalf("failed to set: %v", err)
					}
					model[i] = r
				}
			}
			checkContent(t, seq, model)
		})
	}
}

func TestSequence_UntouchedRecordsKeepTheirSortKeys(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	for i := 0; i < 6; i++ {
		if err := seq.Append(ctx, rec("i", fmt.Sprint(i))); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}
	before := sortKeys(t, seq)

	if err := seq.Insert(ctx, 2, rec("i", "new")); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	if err := seq.Delete(ctx, 5); err != nil { // removes the record originally at 4
		t.Fatalf("failed to delete: %v", err)
	}
	after := sortKeys(t, seq)

	// original index -> current index
	survivors := map[int]int{0: 0, 1: 1, 2: 3, 3: 4, 5: 5}
	for original, current := range survivors {
		if before[original].Cmp(after[current]) != 0 {
			t.Errorf("sort key of record %d changed from %v to %v", original, before[original], after[current])
		}
	}
}

func TestSequence_ReindexingRestoresHeadroom(t *testing.T) {
	for name, factory := range storetest.Factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			observer := newCountingObserver()
			seq := openSequence(t, factory(t), WithObserver(observer))
			model := []Record{rec("v", "a"), rec("v", "b"), rec("v", "c")}
			if err := seq.Extend(ctx, model); err != nil {
				t.Fatalf("failed to extend: %v", err)
			}
			for i := 0; i < 120; i++ {
				r := rec("v", fmt.Sprintf("x%d", i), "payload", "some data")
				if err := seq.Insert(ctx, 1, r); err != nil {
					t.Fatalf("insert %d failed: %v", i, err)
				}
				model = slices.Insert(model, 1, r)
			}
			if observer.reindexes == 0 {
				t.Errorf("expected repeated inserts at the same position to trigger reindexing")
			}
			if observer.moved == 0 {
				t.Errorf("expected reindexing to move records")
			}
			checkContent(t, seq, model)
		})
	}
}

func TestSequence_ReindexingBetweenFencesKeepsOuterKeys(t *testing.T) {
	ctx := context.Background()
	observer := newCountingObserver()
	seq := openSequence(t, memory.New(), WithObserver(observer), WithReindexWindow(1))
	var model []Record
	for i := 0; i < 20; i++ {
		model = append(model, rec("v", fmt.Sprint(i)))
	}
	if err := seq.Extend(ctx, model); err != nil {
		t.Fatalf("failed to extend: %v", err)
	}
	before := sortKeys(t, seq)
	for i := 0; i < 100; i++ {
		r := rec("v", fmt.Sprintf("x%d", i))
		if err := seq.Insert(ctx, 10, r); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
		model = slices.Insert(model, 10, r)
	}
	if observer.reindexes == 0 {
		t.Fatalf("expected reindexing")
	}
	checkContent(t, seq, model)

	after := sortKeys(t, seq)
	for i := 0; i < 5; i++ {
		if before[i].Cmp(after[i]) != 0 {
			t.Errorf("record %d far from the reindexed window was moved", i)
		}
	}
	for i := 15; i < 20; i++ {
		if before[i].Cmp(after[i+100]) != 0 {
			t.Errorf("record %d far from the reindexed window was moved", i)
		}
	}
}

func TestSequence_RepeatedInsertsAtFrontNeverExhaust(t *testing.T) {
	ctx := context.Background()
	observer := newCountingObserver()
	seq := openSequence(t, memory.New(), WithObserver(observer))
	var model []Record
	for i := 0; i < 200; i++ {
		r := rec("i", fmt.Sprint(i))
		if err := seq.Insert(ctx, 0, r); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
		model = slices.Insert(model, 0, r)
	}
	if observer.reindexes != 0 {
		t.Errorf("inserts at the front should not require reindexing")
	}
	checkContent(t, seq, model)
}

func TestSequence_IteratorIsLazyAndRestartable(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Extend(ctx, []Record{rec("i", "0"), rec("i", "1")}); err != nil {
		t.Fatalf("failed to extend: %v", err)
	}
	it := seq.Iterate(ctx)
	if err := seq.Append(ctx, rec("i", "2")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	collect := func() []string {
		var res []string
		for it.Next() {
			res = append(res, fmt.Sprintf("%d:%s", it.Index(), it.Record()["i"]))
		}
		if err := it.Err(); err != nil {
			t.Fatalf("iteration failed: %v", err)
		}
		return res
	}
	if want, got := []string{"0:0", "1:1", "2:2"}, collect(); !slices.Equal(want, got) {
		t.Errorf("unexpected records, wanted %v, got %v", want, got)
	}
	if it.Next() {
		t.Errorf("exhausted iterator should stay exhausted")
	}

	if err := seq.Delete(ctx, 0); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	it.Rewind()
	if want, got := []string{"0:1", "1:2"}, collect(); !slices.Equal(want, got) {
		t.Errorf("unexpected records after rewind, wanted %v, got %v", want, got)
	}
}

func TestSequence_IteratorStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seq := openSequence(t, memory.New())
	if err := seq.Extend(ctx, []Record{rec("i", "0"), rec("i", "1")}); err != nil {
		t.Fatalf("failed to extend: %v", err)
	}
	it := seq.Iterate(ctx)
	if !it.Next() {
		t.Fatalf("expected first record, got %v", it.Err())
	}
	cancel()
	if it.Next() {
		t.Errorf("iteration should stop after cancellation")
	}
	if !errors.Is(it.Err(), context.Canceled) {
		t.Errorf("unexpected error: %v", it.Err())
	}
}

func TestSequence_ForEachStopsAtFirstError(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Extend(ctx, []Record{{}, {}, {}}); err != nil {
		t.Fatalf("failed to extend: %v", err)
	}
	injected := errors.New("injected")
	visited := 0
	err := seq.ForEach(ctx, func(i int, _ Record) error {
		visited++
		if i == 1 {
			return injected
		}
		return nil
	})
	if !errors.Is(err, injected) || visited != 2 {
		t.Errorf("unexpected result, visited %d, error %v", visited, err)
	}
}

func TestSequence_FailedTransactionLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Append(ctx, rec("a", "1")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	injected := errors.New("injected")
	err := seq.Transact(ctx, func(tx *Tx) error {
		if err := tx.Insert(0, rec("a", "0")); err != nil {
			return err
		}
		if err := tx.Append(rec("a", "2")); err != nil {
			return err
		}
		return injected
	})
	if !errors.Is(err, injected) {
		t.Fatalf("unexpected error: %v", err)
	}
	checkContent(t, seq, []Record{rec("a", "1")})
}

func TestSequence_TransactionGroupsOperations(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	err := seq.Transact(ctx, func(tx *Tx) error {
		for i := 0; i < 3; i++ {
			if err := tx.Append(rec("i", fmt.Sprint(i))); err != nil {
				return err
			}
		}
		if err := tx.Delete(1); err != nil {
			return err
		}
		n, err := tx.Len()
		if err != nil {
			return err
		}
		if n != 2 {
			return fmt.Errorf("unexpected length within transaction: %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	checkContent(t, seq, []Record{rec("i", "0"), rec("i", "2")})
}

func TestSequence_ViewRejectsWrites(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	err := seq.View(ctx, func(tx *Tx) error {
		return tx.Append(rec("a", "1"))
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("writes in read transactions should fail, got %v", err)
	}
}

func TestSequence_OperationsAfterCloseFail(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if err := seq.Close(); err != nil {
		t.Errorf("closing twice should succeed, got %v", err)
	}
	if _, err := seq.Len(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("unexpected error from len, got %v", err)
	}
	if err := seq.Append(ctx, Record{}); !errors.Is(err, ErrClosed) {
		t.Errorf("unexpected error from append, got %v", err)
	}
	if _, err := seq.Get(ctx, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("unexpected error from get, got %v", err)
	}
	if err := seq.Update(ctx, 0, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("unexpected error from empty update, got %v", err)
	}
}

func TestSequence_ErrorsAfterCloseNameOperationAndIndex(t *testing.T) {
	ctx := context.Background()
	seq := openSequence(t, memory.New())
	if err := seq.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	tests := map[string]func() error{
		"failed to get index 3": func() error {
			_, err := seq.Get(ctx, 3)
			return err
		},
		"failed to delete index 7": func() error {
			return seq.Delete(ctx, 7)
		},
		"failed to insert index 2": func() error {
			return seq.Insert(ctx, 2, Record{})
		},
		"failed to update index 4": func() error {
			return seq.Update(ctx, 4, nil)
		},
		"failed to append": func() error {
			return seq.Append(ctx, Record{})
		},
	}
	for want, op := range tests {
		t.Run(want, func(t *testing.T) {
			err := op()
			if !errors.Is(err, ErrClosed) {
				t.Fatalf("unexpected error, got %v", err)
			}
			if !strings.HasPrefix(err.Error(), want+"; ") {
				t.Errorf("error should start with %q, got %q", want, err)
			}
		})
	}
}

func TestSequence_ClosingClosesOwnedStore(t *testing.T) {
	store := memory.New()
	seq, err := Open(context.Background(), store, nil, WithOwnedStore())
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	if err := seq.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if _, err := store.Begin(context.Background(), false); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("owned store should be closed, got %v", err)
	}
}

func TestSequence_ReadOnlyRejectsMutations(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	writer := openSequence(t, store)
	if err := writer.Append(ctx, rec("a", "1")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	reader := openSequence(t, store, WithReadOnly())
	if !reader.ReadOnly() {
		t.Errorf("sequence should be read-only")
	}
	if got := mustGet(t, reader, 0); !got.Equal(rec("a", "1")) {
		t.Errorf("unexpected record: %v", got)
	}
	if err := reader.Append(ctx, rec("a", "2")); !errors.Is(err, ErrReadOnly) {
		t.Errorf("unexpected error from append, got %v", err)
	}
	if err := reader.Delete(ctx, 0); !errors.Is(err, ErrReadOnly) {
		t.Errorf("unexpected error from delete, got %v", err)
	}
	if err := reader.Update(ctx, 0, nil); !errors.Is(err, ErrReadOnly) {
		t.Errorf("unexpected error from empty update, got %v", err)
	}
	checkContent(t, reader, []Record{rec("a", "1")})
}

func TestSequence_ReadOnlyOnEmptyStoreCreatesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	reader := openSequence(t, store, WithReadOnly())
	if got := mustLen(t, reader); got != 0 {
		t.Errorf("unexpected length %d", got)
	}
	txn, err := store.Begin(ctx, false)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	defer txn.Discard()
	it := txn.NewIterator(nil)
	defer it.Release()
	if it.Next() {
		t.Errorf("read-only sequence should not write, found %q", it.Key())
	}
}

func TestSequence_PrefixesSeparateSequences(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	first, err := Open(ctx, store, []byte("first/"))
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	second, err := Open(ctx, store, []byte("second/"))
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	if err := first.Extend(ctx, []Record{rec("s", "1"), rec("s", "1")}); err != nil {
		t.Fatalf("failed to extend: %v", err)
	}
	if err := second.Append(ctx, rec("s", "2")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	checkContent(t, first, []Record{rec("s", "1"), rec("s", "1")})
	checkContent(t, second, []Record{rec("s", "2")})
}

func TestSequence_VerifyIgnoresSequencesWithExtendedPrefix(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	run, err := Open(ctx, store, []byte("run"))
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	run2, err := Open(ctx, store, []byte("run2"))
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	if err := run.Append(ctx, rec("a", "1")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if err := run2.Extend(ctx, []Record{rec("b", "2"), rec("c", "3")}); err != nil {
		t.Fatalf("failed to extend: %v", err)
	}
	checkContent(t, run, []Record{rec("a", "1")})
	checkContent(t, run2, []Record{rec("b", "2"), rec("c", "3")})
}

func TestSequence_CompressionIsPersisted(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	payload := string(make([]byte, 4096))

	seq := openSequence(t, store, WithCompression(compress.Zstd))
	if err := seq.Append(ctx, rec("data", payload, "small", "x")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if err := seq.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	reopened := openSequence(t, store)
	if got := reopened.Compression(); got != compress.Zstd {
		t.Errorf("persisted compression should be adopted, got %v", got)
	}
	checkContent(t, reopened, []Record{rec("data", payload, "small", "x")})

	if _, err := Open(ctx, store, []byte("test/"), WithCompression(compress.LZ4)); !errors.Is(err, UnsupportedConfiguration) {
		t.Errorf("conflicting compression should be rejected, got %v", err)
	}
	if _, err := Open(ctx, store, []byte("other/"), WithCompression("snappy")); !errors.Is(err, UnsupportedConfiguration) {
		t.Errorf("unknown compression should be rejected, got %v", err)
	}
}

func TestSequence_CompressedSequencesBehaveLikePlainOnes(t *testing.T) {
	for _, kind := range compress.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			seq := openSequence(t, memory.New(), WithCompression(kind))
			long := rec("positions", string(make([]byte, 1000)), "symbols", "HHO")
			if err := seq.Extend(ctx, []Record{long, rec("e", "")}); err != nil {
				t.Fatalf("failed to extend: %v", err)
			}
			if err := seq.Insert(ctx, 1, rec("mid", "1")); err != nil {
				t.Fatalf("failed to insert: %v", err)
			}
			got, err := seq.GetFields(ctx, 0, "positions")
			if err != nil || len(got["positions"]) != 1000 {
				t.Errorf("unexpected partial read: %v", err)
			}
			checkContent(t, seq, []Record{long, rec("mid", "1"), rec("e", "")})
		})
	}
}

func TestSequence_HashDependsOnlyOnContent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	appended, err := Open(ctx, store, []byte("a/"))
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	inserted, err := Open(ctx, store, []byte("b/"), WithCompression(compress.LZ4), WithReindexWindow(1))
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}

	var records []Record
	for i := 0; i < 80; i++ {
		records = append(records, rec("i", fmt.Sprint(i), "x", "y"))
	}
	if err := appended.Extend(ctx, records); err != nil {
		t.Fatalf("failed to extend: %v", err)
	}
	// build the same content back to front, exhausting sort keys on the way
	if err := inserted.Append(ctx, records[0]); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if err := inserted.Append(ctx, records[len(records)-1]); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	for i := len(records) - 2; i > 0; i-- {
		if err := inserted.Insert(ctx, 1, records[i]); err != nil {
			t.Fatalf("failed to insert: %v", err)
		}
	}

	first, err := appended.Hash(ctx)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	second, err := inserted.Hash(ctx)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	if first != second {
		t.Errorf("equal content should have equal hashes, got %v and %v", first, second)
	}

	if err := inserted.Update(ctx, 5, rec("x", "z")); err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	third, err := inserted.Hash(ctx)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	if first == third {
		t.Errorf("different content should have different hashes")
	}
}

func TestSequence_VerifyDetectsCorruption(t *testing.T) {
	tests := map[string]func(txn backend.Txn, keys keyspace) error{
		"stale mapping": func(txn backend.Txn, keys keyspace) error {
			return txn.Put(keys.mapping(5), SortKeyOf(9).Text())
		},
		"missing mapping": func(txn backend.Txn, keys keyspace) error {
			return txn.Delete(keys.mapping(1))
		},
		"unordered mapping": func(txn backend.Txn, keys keyspace) error {
			return txn.Put(keys.mapping(1), SortKeyOf(-5).Text())
		},
		"orphaned record": func(txn backend.Txn, keys keyspace) error {
			return txn.Put(keys.record(SortKeyOf(100)), nil)
		},
		"orphaned field": func(txn backend.Txn, keys keyspace) error {
			return txn.Put(keys.field(SortKeyOf(-7), "x"), []byte("1"))
		},
		"missing record": func(txn backend.Txn, keys keyspace) error {
			return txn.Delete(keys.record(SortKeyOf(1)))
		},
		"invalid count": func(txn backend.Txn, keys keyspace) error {
			return txn.Put(keys.count(), []byte("many"))
		},
	}
	for name, corrupt := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.New()
			seq := openSequence(t, store)
			if err := seq.Extend(ctx, []Record{rec("a", "0"), rec("a", "1"), rec("a", "2")}); err != nil {
				t.Fatalf("failed to extend: %v", err)
			}
			if err := seq.Verify(ctx, nil); err != nil {
				t.Fatalf("fresh sequence should be valid: %v", err)
			}

			txn, err := store.Begin(ctx, true)
			if err != nil {
				t.Fatalf("failed to begin: %v", err)
			}
			if err := corrupt(txn, seq.keys); err != nil {
				t.Fatalf("failed to corrupt: %v", err)
			}
			if err := txn.Commit(); err != nil {
				t.Fatalf("failed to commit: %v", err)
			}

			if err := seq.Verify(ctx, nil); !errors.Is(err, ErrCorrupted) {
				t.Errorf("corruption should be detected, got %v", err)
			}
		})
	}
}

type recordingVerificationObserver struct {
	started bool
	steps   []string
	result  error
	ended   bool
}

func (o *recordingVerificationObserver) StartVerification()  { o.started = true }
func (o *recordingVerificationObserver) Progress(msg string) { o.steps = append(o.steps, msg) }
func (o *recordingVerificationObserver) EndVerification(res error) {
	o.ended = true
	o.result = res
}

func TestSequence_VerifyReportsProgress(t *testing.T) {
	seq := openSequence(t, memory.New())
	observer := &recordingVerificationObserver{}
	if err := seq.Verify(context.Background(), observer); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
	if !observer.started || !observer.ended || observer.result != nil || len(observer.steps) == 0 {
		t.Errorf("unexpected observations: %+v", observer)
	}
}

func TestSequence_ObserverSeesOperations(t *testing.T) {
	ctx := context.Background()
	observer := newCountingObserver()
	seq := openSequence(t, memory.New(), WithObserver(observer))
	if err := seq.Append(ctx, Record{}); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if _, err := seq.Get(ctx, 3); err == nil {
		t.Fatalf("get of missing index should fail")
	}
	if observer.operations["append"] != 1 || observer.operations["get"] != 1 || observer.failures["get"] != 1 {
		t.Errorf("unexpected observations: %+v", observer)
	}
}

func TestSequence_CanceledContextPreventsOperations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seq := openSequence(t, memory.New())
	cancel()
	if err := seq.Append(ctx, Record{}); !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error: %v", err)
	}
	checkContent(t, seq, nil)
}

func TestSequence_MemoryFootprintIncludesStore(t *testing.T) {
	seq := openSequence(t, memory.New())
	mf := seq.GetMemoryFootprint()
	if mf.Total() <= mf.Value() {
		t.Errorf("footprint should include the store: %v", mf)
	}
}
