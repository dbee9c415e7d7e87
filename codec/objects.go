// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package codec

import (
	"context"
	"fmt"
	"runtime"

	"github.com/zincware/asebytes/sequence"
	"golang.org/x/sync/errgroup"
)

// Objects is a list of values of type T stored in a sequence, converted
// with a codec on every access.
type Objects[T any] struct {
	seq   *sequence.Sequence
	codec Codec[T]
}

// NewObjects wraps the given sequence. The sequence remains owned by the
// caller.
func NewObjects[T any](seq *sequence.Sequence, codec Codec[T]) *Objects[T] {
	return &Objects[T]{seq: seq, codec: codec}
}

// Sequence provides the underlying sequence.
func (o *Objects[T]) Sequence() *sequence.Sequence {
	return o.seq
}

func (o *Objects[T]) Len(ctx context.Context) (int, error) {
	return o.seq.Len(ctx)
}

func (o *Objects[T]) Get(ctx context.Context, index int) (T, error) {
	record, err := o.seq.Get(ctx, index)
	if err != nil {
		var zero T
		return zero, err
	}
	return o.codec.Decode(record)
}

// GetFields decodes a value from the named fields of the record at the
// given index only. It fails with sequence.ErrFieldNotFound if any of them
// is absent.
func (o *Objects[T]) GetFields(ctx context.Context, index int, names ...string) (T, error) {
	record, err := o.seq.GetFields(ctx, index, names...)
	if err != nil {
		var zero T
		return zero, err
	}
	return o.codec.Decode(record)
}

// Keys lists the record fields stored for the value at the given index.
func (o *Objects[T]) Keys(ctx context.Context, index int) ([]string, error) {
	return o.seq.Keys(ctx, index)
}

// Metadata describes the record fields stored for the value at the given
// index without decoding them.
func (o *Objects[T]) Metadata(ctx context.Context, index int) (map[string]FieldInfo, error) {
	record, err := o.seq.Get(ctx, index)
	if err != nil {
		return nil, err
	}
	return Metadata(record)
}

// Update merges encoded fields into the record at the given index.
func (o *Objects[T]) Update(ctx context.Context, index int, fields sequence.Record) error {
	return o.seq.Update(ctx, index, fields)
}

func (o *Objects[T]) Set(ctx context.Context, index int, value T) error {
	record, err := o.codec.Encode(value)
	if err != nil {
		return err
	}
	return o.seq.Set(ctx, index, record)
}

func (o *Objects[T]) Append(ctx context.Context, value T) error {
	record, err := o.codec.Encode(value)
	if err != nil {
		return err
	}
	return o.seq.Append(ctx, record)
}

func (o *Objects[T]) Insert(ctx context.Context, index int, value T) error {
	record, err := o.codec.Encode(value)
	if err != nil {
		return err
	}
	return o.seq.Insert(ctx, index, record)
}

func (o *Objects[T]) Delete(ctx context.Context, index int) error {
	return o.seq.Delete(ctx, index)
}

// Extend appends all values in one transaction. Values are encoded in
// parallel before the transaction starts.
func (o *Objects[T]) Extend(ctx context.Context, values []T) error {
	records := make([]sequence.Record, len(values))
	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, value := range values {
		i, value := i, value
		g.Go(func() error {
			record, err := o.codec.Encode(value)
			if err != nil {
				return fmt.Errorf("failed to encode value %d; %w", i, err)
			}
			records[i] = record
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return o.seq.Extend(ctx, records)
}

// Range provides the values with indices in [from, to) as observed by a
// single snapshot. Records are decoded in parallel.
func (o *Objects[T]) Range(ctx context.Context, from, to int) ([]T, error) {
	var records []sequence.Record
	err := o.seq.View(ctx, func(tx *sequence.Tx) error {
		count, err := tx.Len()
		if err != nil {
			return err
		}
		from, to = max(from, 0), min(to, count)
		for i := from; i < to; i++ {
			record, err := tx.Get(i)
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := make([]T, len(records))
	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, record := range records {
		i, record := i, record
		g.Go(func() error {
			value, err := o.codec.Decode(record)
			if err != nil {
				return fmt.Errorf("failed to decode index %d; %w", from+i, err)
			}
			res[i] = value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// ForEach visits all values in index order within a single snapshot.
func (o *Objects[T]) ForEach(ctx context.Context, visit func(index int, value T) error) error {
	return o.seq.ForEach(ctx, func(index int, record sequence.Record) error {
		value, err := o.codec.Decode(record)
		if err != nil {
			return fmt.Errorf("failed to decode index %d; %w", index, err)
		}
		return visit(index, value)
	})
}
