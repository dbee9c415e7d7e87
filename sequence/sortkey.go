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
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// SortKey is a fixed-point decimal with 15 fractional digits locating a
// record in the underlying store. Keys are totally ordered, new keys can
// be allocated between any two keys until the fractional precision is
// exhausted.
//
// Internally the value is kept as an unsigned number of 10^-15 units
// shifted by 5·10^19, so negative keys order correctly both numerically
// and in their fixed-width text form.
type SortKey struct {
	units uint256.Int
}

const (
	integerDigits  = 20
	fractionDigits = 15
	// SortKeyTextSize is the length of the text form of a sort key.
	SortKeyTextSize = integerDigits + 1 + fractionDigits
)

var (
	unit  = uint256.NewInt(1_000_000_000_000_000) // 10^15, the key 1
	e18   = uint256.NewInt(1_000_000_000_000_000_000)
	bias  = new(uint256.Int).Mul(new(uint256.Int).Mul(uint256.NewInt(5_000_000_000_000_000_000), uint256.NewInt(10)), unit)
	limit = new(uint256.Int).Lsh(bias, 1)
	// minStep is the smallest spacing produced by reindexing between two fences.
	minStep = uint256.NewInt(1 << 32)
)

// SortKeyOf provides the sort key with the given integer value.
func SortKeyOf(value int64) SortKey {
	var res SortKey
	if value >= 0 {
		res.units.Mul(uint256.NewInt(uint64(value)), unit)
		res.units.Add(&res.units, bias)
	} else {
		res.units.Mul(uint256.NewInt(uint64(-value)), unit)
		res.units.Sub(bias, &res.units)
	}
	return res
}

// ParseSortKey parses the fixed-width text form produced by Text.
func ParseSortKey(text []byte) (SortKey, error) {
	var res SortKey
	if len(text) != SortKeyTextSize || text[integerDigits] != '.' {
		return res, fmt.Errorf("%w; invalid sort key %q", ErrCorrupted, text)
	}
	digits := make([]byte, 0, integerDigits+fractionDigits)
	digits = append(digits, text[:integerDigits]...)
	digits = append(digits, text[integerDigits+1:]...)
	for _, c := range digits {
		if c < '0' || c > '9' {
			return res, fmt.Errorf("%w; invalid sort key %q", ErrCorrupted, text)
		}
	}
	// 35 digits do not fit a uint64, split them into 17 high and 18 low digits.
	high, _ := strconv.ParseUint(string(digits[:17]), 10, 64)
	low, _ := strconv.ParseUint(string(digits[17:]), 10, 64)
	res.units.Mul(uint256.NewInt(high), e18)
	res.units.Add(&res.units, uint256.NewInt(low))
	return res, nil
}

// Text produces the fixed-width text form of the key. Byte-wise order of
// text forms equals the numeric order of keys.
func (k SortKey) Text() []byte {
	var high, low uint256.Int
	high.DivMod(&k.units, e18, &low)
	digits := fmt.Sprintf("%017d%018d", high.Uint64(), low.Uint64())
	res := make([]byte, 0, SortKeyTextSize)
	res = append(res, digits[:integerDigits]...)
	res = append(res, '.')
	return append(res, digits[integerDigits:]...)
}

// String renders the numeric value of the key, e.g. -1.5 or 3.
func (k SortKey) String() string {
	value := new(big.Int).Sub(k.units.ToBig(), bias.ToBig())
	sign := ""
	if value.Sign() < 0 {
		sign = "-"
		value.Neg(value)
	}
	integer, fraction := new(big.Int).QuoRem(value, unit.ToBig(), new(big.Int))
	if fraction.Sign() == 0 {
		return sign + integer.String()
	}
	frac := strings.TrimRight(fmt.Sprintf("%015d", fraction.Uint64()), "0")
	return sign + integer.String() + "." + frac
}

// Cmp compares two keys returning -1, 0 or +1.
func (k SortKey) Cmp(other SortKey) int {
	return k.units.Cmp(&other.units)
}

// Less reports whether k orders before other.
func (k SortKey) Less(other SortKey) bool {
	return k.units.Lt(&other.units)
}

// IsInteger reports whether the key has no fractional digits.
func (k SortKey) IsInteger() bool {
	var rest uint256.Int
	rest.Mod(&k.units, unit)
	return rest.IsZero()
}

// Floor provides the largest integer key not greater than k.
func (k SortKey) Floor() SortKey {
	var rest uint256.Int
	rest.Mod(&k.units, unit)
	var res SortKey
	res.units.Sub(&k.units, &rest)
	return res
}

// NextInteger provides the smallest integer key strictly greater than k.
func (k SortKey) NextInteger() (SortKey, error) {
	res := k.Floor()
	res.units.Add(&res.units, unit)
	if !res.units.Lt(limit) {
		return SortKey{}, ErrKeyAllocationExhausted
	}
	return res, nil
}

// PrevInteger provides the largest integer key strictly less than k.
func (k SortKey) PrevInteger() (SortKey, error) {
	res := k.Floor()
	if res.Cmp(k) == 0 {
		return k.minusOne()
	}
	return res, nil
}

func (k SortKey) minusOne() (SortKey, error) {
	if k.units.Lt(unit) {
		return SortKey{}, ErrKeyAllocationExhausted
	}
	var res SortKey
	res.units.Sub(&k.units, unit)
	return res, nil
}

// Midpoint provides the key halfway between lower and upper. It fails with
// ErrKeyAllocationExhausted if no representable key lies strictly between
// the two.
func Midpoint(lower, upper SortKey) (SortKey, error) {
	if !lower.Less(upper) {
		return SortKey{}, fmt.Errorf("%w; bounds %v and %v are not ordered", ErrKeyAllocationExhausted, lower, upper)
	}
	var res SortKey
	res.units.Add(&lower.units, &upper.units)
	res.units.Rsh(&res.units, 1)
	if res.units.Eq(&lower.units) || res.units.Eq(&upper.units) {
		return SortKey{}, fmt.Errorf("%w; no key between %v and %v", ErrKeyAllocationExhausted, lower, upper)
	}
	return res, nil
}

// spread provides n ascending keys strictly between lower and upper,
// evenly spaced. It fails if the spacing would drop below minStep.
func spread(lower, upper SortKey, n int) ([]SortKey, bool) {
	var width, step uint256.Int
	width.Sub(&upper.units, &lower.units)
	step.Div(&width, uint256.NewInt(uint64(n+1)))
	if step.Lt(minStep) {
		return nil, false
	}
	res := make([]SortKey, n)
	cur := lower
	for i := range res {
		cur.units.Add(&cur.units, &step)
		res[i] = cur
	}
	return res, true
}

// integers provides n consecutive integer keys starting at first.
func integers(first SortKey, n int) ([]SortKey, bool) {
	var last uint256.Int
	last.Mul(unit, uint256.NewInt(uint64(n)))
	last.Add(&last, &first.units)
	if !last.Lt(limit) {
		return nil, false
	}
	res := make([]SortKey, n)
	cur := first
	for i := range res {
		res[i] = cur
		cur.units.Add(&cur.units, unit)
	}
	return res, true
}

// integersBelow provides the n largest integer keys strictly less than upper.
func integersBelow(upper SortKey, n int) ([]SortKey, bool) {
	last, err := upper.PrevInteger()
	if err != nil {
		return nil, false
	}
	var span uint256.Int
	span.Mul(unit, uint256.NewInt(uint64(n-1)))
	if last.units.Lt(&span) {
		return nil, false
	}
	var first SortKey
	first.units.Sub(&last.units, &span)
	return integers(first, n)
}
