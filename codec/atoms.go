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
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zincware/asebytes/sequence"
)

// Atoms is an atomic structure as stored by the Atoms codec: per-atom
// arrays, a unit cell with periodic boundary flags, free-form metadata
// and the results of a calculation.
type Atoms struct {
	Numbers   []int
	Positions [][3]float64
	Cell      [3][3]float64
	PBC       [3]bool
	// Arrays holds per-atom properties beyond numbers and positions.
	Arrays map[string]any
	Info   map[string]any
	// Calc holds calculator results such as energies and forces.
	Calc map[string]any
	// Constraints are stored as opaque values.
	Constraints []any
}

// Len provides the number of atoms.
func (a *Atoms) Len() int {
	return len(a.Numbers)
}

// Field names of the Atoms record layout. Dictionaries are flattened into
// one field per entry using the prefixes below.
const (
	fieldCell        = "cell"
	fieldPBC         = "pbc"
	fieldConstraints = "constraints"
	fieldNumbers     = "arrays.numbers"
	fieldPositions   = "arrays.positions"

	prefixArrays = "arrays."
	prefixInfo   = "info."
	prefixCalc   = "calc."
)

// mapType makes nested maps decode with string keys.
var mapType = reflect.TypeOf(map[string]any{})

// AtomsCodec stores Atoms as records with one CBOR encoded field per
// property. Keys of Arrays, Info and Calc must not contain a dot.
type AtomsCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewAtomsCodec() (*AtomsCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{DefaultMapType: mapType}.DecMode()
	if err != nil {
		return nil, err
	}
	return &AtomsCodec{enc: enc, dec: dec}, nil
}

func (c *AtomsCodec) Encode(atoms *Atoms) (sequence.Record, error) {
	if atoms == nil {
		return nil, fmt.Errorf("%w; nil atoms", ErrUnsupportedType)
	}
	res := sequence.Record{}
	put := func(name string, value any) error {
		return c.put(res, name, value)
	}
	putAll := func(prefix string, values map[string]any) error {
		return c.putAll(res, prefix, values)
	}

	if err := put(fieldCell, atoms.Cell); err != nil {
		return nil, err
	}
	if err := put(fieldPBC, atoms.PBC); err != nil {
		return nil, err
	}
	if err := put(fieldNumbers, atoms.Numbers); err != nil {
		return nil, err
	}
	if err := put(fieldPositions, atoms.Positions); err != nil {
		return nil, err
	}
	for _, reserved := range []string{"numbers", "positions"} {
		if _, found := atoms.Arrays[reserved]; found {
			return nil, fmt.Errorf("%w; %s must be set through its own attribute", ErrInvalidFieldName, reserved)
		}
	}
	if err := putAll(prefixArrays, atoms.Arrays); err != nil {
		return nil, err
	}
	if err := putAll(prefixInfo, atoms.Info); err != nil {
		return nil, err
	}
	if err := putAll(prefixCalc, atoms.Calc); err != nil {
		return nil, err
	}
	if len(atoms.Constraints) > 0 {
		if err := put(fieldConstraints, atoms.Constraints); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *AtomsCodec) put(record sequence.Record, name string, value any) error {
	data, err := c.enc.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s; %w", name, err)
	}
	record[name] = data
	return nil
}

func (c *AtomsCodec) putAll(record sequence.Record, prefix string, values map[string]any) error {
	for key, value := range values {
		if strings.Contains(key, ".") {
			return fmt.Errorf("%w; key %q of %s contains a dot", ErrInvalidFieldName, key, strings.TrimSuffix(prefix, "."))
		}
		if err := c.put(record, prefix+key, value); err != nil {
			return err
		}
	}
	return nil
}

// AtomsUpdate lists entries added to or replaced in stored atoms. Arrays
// may name numbers and positions to replace these.
type AtomsUpdate struct {
	Info   map[string]any
	Arrays map[string]any
	Calc   map[string]any
}

// EncodeUpdate converts an update into the record fields it replaces.
func (c *AtomsCodec) EncodeUpdate(update AtomsUpdate) (sequence.Record, error) {
	res := sequence.Record{}
	if err := c.putAll(res, prefixInfo, update.Info); err != nil {
		return nil, err
	}
	if err := c.putAll(res, prefixArrays, update.Arrays); err != nil {
		return nil, err
	}
	if err := c.putAll(res, prefixCalc, update.Calc); err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateAtoms merges an update into the atoms at the given index in a
// single transaction, keeping all other properties. The atoms must be
// stored with an AtomsCodec.
func UpdateAtoms(ctx context.Context, atoms *Objects[*Atoms], index int, update AtomsUpdate) error {
	codec, ok := atoms.codec.(*AtomsCodec)
	if !ok {
		return fmt.Errorf("%w; atoms are not stored by an AtomsCodec", ErrUnsupportedType)
	}
	fields, err := codec.EncodeUpdate(update)
	if err != nil {
		return err
	}
	return atoms.Update(ctx, index, fields)
}

// Decode restores atoms from a record. Missing fields take their zero
// values, except positions which default to the origin for every atom.
func (c *AtomsCodec) Decode(record sequence.Record) (*Atoms, error) {
	res := &Atoms{}
	get := func(name string, dst any) error {
		if err := c.dec.Unmarshal(record[name], dst); err != nil {
			return fmt.Errorf("failed to decode %s; %w", name, err)
		}
		return nil
	}
	getInto := func(values *map[string]any, key, name string) error {
		var value any
		if err := get(name, &value); err != nil {
			return err
		}
		if *values == nil {
			*values = map[string]any{}
		}
		(*values)[key] = value
		return nil
	}

	var err error
	for name := range record {
		switch {
		case name == fieldCell:
			err = get(name, &res.Cell)
		case name == fieldPBC:
			err = get(name, &res.PBC)
		case name == fieldNumbers:
			err = get(name, &res.Numbers)
		case name == fieldPositions:
			err = get(name, &res.Positions)
		case name == fieldConstraints:
			err = get(name, &res.Constraints)
		case strings.HasPrefix(name, prefixArrays):
			err = getInto(&res.Arrays, strings.TrimPrefix(name, prefixArrays), name)
		case strings.HasPrefix(name, prefixInfo):
			err = getInto(&res.Info, strings.TrimPrefix(name, prefixInfo), name)
		case strings.HasPrefix(name, prefixCalc):
			err = getInto(&res.Calc, strings.TrimPrefix(name, prefixCalc), name)
		default:
			err = fmt.Errorf("%w; %q", ErrUnknownField, name)
		}
		if err != nil {
			return nil, err
		}
	}
	if _, found := record[fieldPositions]; !found {
		res.Positions = make([][3]float64, len(res.Numbers))
	}
	return res, nil
}
