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
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zincware/asebytes/sequence"
)

// CBOR is a codec storing each exported field of a struct type as one
// record field holding its CBOR encoding. Field names default to the Go
// field name and can be changed with a `record:"name"` tag; the option
// `omitempty` skips zero values and the name "-" skips the field.
type CBOR[T any] struct {
	fields []structField
	byName map[string]int
	enc    cbor.EncMode
	dec    cbor.DecMode
}

type structField struct {
	name      string
	index     int
	omitEmpty bool
}

// NewCBOR creates a codec for the struct type T.
func NewCBOR[T any]() (*CBOR[T], error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w; %v is not a struct", ErrUnsupportedType, typ)
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}

	res := &CBOR[T]{byName: map[string]int{}, enc: enc, dec: dec}
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("record"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}
		if _, found := res.byName[name]; found {
			return nil, fmt.Errorf("%w; duplicate field %q in %v", ErrInvalidFieldName, name, typ)
		}
		res.byName[name] = len(res.fields)
		res.fields = append(res.fields, structField{
			name:      name,
			index:     i,
			omitEmpty: opts == "omitempty",
		})
	}
	return res, nil
}

func (c *CBOR[T]) Encode(value T) (sequence.Record, error) {
	v := reflect.ValueOf(value)
	res := make(sequence.Record, len(c.fields))
	for _, field := range c.fields {
		fv := v.Field(field.index)
		if field.omitEmpty && fv.IsZero() {
			continue
		}
		data, err := c.enc.Marshal(fv.Interface())
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %s; %w", field.name, err)
		}
		res[field.name] = data
	}
	return res, nil
}

func (c *CBOR[T]) Decode(record sequence.Record) (T, error) {
	var res T
	v := reflect.ValueOf(&res).Elem()
	for name, data := range record {
		pos, found := c.byName[name]
		if !found {
			return res, fmt.Errorf("%w; %q", ErrUnknownField, name)
		}
		field := c.fields[pos]
		if err := c.dec.Unmarshal(data, v.Field(field.index).Addr().Interface()); err != nil {
			return res, fmt.Errorf("failed to decode field %s; %w", name, err)
		}
	}
	return res, nil
}
