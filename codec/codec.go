// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package codec converts domain objects to and from the records stored in
// a sequence.
package codec

import (
	"github.com/zincware/asebytes/common"
	"github.com/zincware/asebytes/sequence"
)

const (
	// ErrUnknownField is returned when decoding a record containing a field
	// the codec has no destination for.
	ErrUnknownField = common.ConstError("unknown field")
	// ErrInvalidFieldName is returned when encoding a value whose name can
	// not be represented as a record field.
	ErrInvalidFieldName = common.ConstError("invalid field name")
	// ErrUnsupportedType is returned for types a codec can not handle.
	ErrUnsupportedType = common.ConstError("unsupported type")
)

// Codec converts values of type T into records and back. Errors of a codec
// are passed on to the caller unchanged.
type Codec[T any] interface {
	Encode(value T) (sequence.Record, error)
	Decode(record sequence.Record) (T, error)
}
