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
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/zincware/asebytes/sequence"
)

// Type names reported by Metadata.
const (
	TypeNone    = "NoneType"
	TypeBool    = "bool"
	TypeInt     = "int"
	TypeFloat   = "float"
	TypeString  = "str"
	TypeBytes   = "bytes"
	TypeList    = "list"
	TypeDict    = "dict"
	TypeNDArray = "ndarray"
	TypeTag     = "tag"
)

// Element types of arrays reported by Metadata.
const (
	DTypeBool    = "bool"
	DTypeInt64   = "int64"
	DTypeFloat64 = "float64"
)

// FieldInfo describes the value of a record field. DType and Shape are
// only set for arrays, which are non-empty rectangular lists of numbers
// or booleans.
type FieldInfo struct {
	Type  string
	DType string
	Shape []int
}

var metadataDecMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("invalid CBOR decoding options: %v", err))
	}
	return mode
}()

// Metadata describes every field of a record holding CBOR encoded values,
// as produced by AtomsCodec and CBOR, without decoding it into a type.
func Metadata(record sequence.Record) (map[string]FieldInfo, error) {
	res := make(map[string]FieldInfo, len(record))
	for name, data := range record {
		var value any
		if err := metadataDecMode.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("failed to decode %s; %w", name, err)
		}
		res[name] = describe(value)
	}
	return res, nil
}

func describe(value any) FieldInfo {
	switch v := value.(type) {
	case nil:
		return FieldInfo{Type: TypeNone}
	case bool:
		return FieldInfo{Type: TypeBool}
	case int64, uint64:
		return FieldInfo{Type: TypeInt}
	case float64:
		return FieldInfo{Type: TypeFloat}
	case string:
		return FieldInfo{Type: TypeString}
	case []byte:
		return FieldInfo{Type: TypeBytes}
	case []any:
		if dtype, shape, ok := arrayShape(v); ok {
			return FieldInfo{Type: TypeNDArray, DType: dtype, Shape: shape}
		}
		return FieldInfo{Type: TypeList}
	case map[any]any, map[string]any:
		return FieldInfo{Type: TypeDict}
	case cbor.Tag, cbor.RawTag:
		return FieldInfo{Type: TypeTag}
	}
	return FieldInfo{Type: fmt.Sprintf("%T", value)}
}

// arrayShape computes the element type and the shape of nested lists.
// Mixing integers and floats yields float elements.
func arrayShape(list []any) (string, []int, bool) {
	if len(list) == 0 {
		return "", nil, false
	}
	if _, nested := list[0].([]any); nested {
		var dtype string
		var inner []int
		for i, element := range list {
			sub, ok := element.([]any)
			if !ok {
				return "", nil, false
			}
			subType, subShape, ok := arrayShape(sub)
			if !ok {
				return "", nil, false
			}
			if i == 0 {
				dtype, inner = subType, subShape
				continue
			}
			if !slices.Equal(inner, subShape) {
				return "", nil, false
			}
			if dtype, ok = promote(dtype, subType); !ok {
				return "", nil, false
			}
		}
		return dtype, append([]int{len(list)}, inner...), true
	}

	var dtype string
	for i, element := range list {
		var current string
		switch element.(type) {
		case bool:
			current = DTypeBool
		case int64, uint64:
			current = DTypeInt64
		case float64:
			current = DTypeFloat64
		default:
			return "", nil, false
		}
		if i == 0 {
			dtype = current
			continue
		}
		var ok bool
		if dtype, ok = promote(dtype, current); !ok {
			return "", nil, false
		}
	}
	return dtype, []int{len(list)}, true
}

func promote(a, b string) (string, bool) {
	switch {
	case a == b:
		return a, true
	case a == DTypeBool || b == DTypeBool:
		return "", false
	}
	return DTypeFloat64, true
}
