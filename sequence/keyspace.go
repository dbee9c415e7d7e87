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
	"strconv"

	"github.com/syndtr/goleveldb/leveldb/util"
)

// keyspace produces the store keys of a sequence living under a prefix.
//
//	P + sortKeyText                  record marker, empty value
//	P + sortKeyText + "-" + field    record field
//	P + "__idx__" + index            sort key text of a logical index
//	P + "__meta__count"              number of records
//	P + "__meta__format"             format descriptor
//
// Record keys and mapping values hold the fixed-width text of the sort key
// plus a bias of 5·10^19, not the plain signed decimal, so that byte order
// equals numeric order for negative keys as well. A raw scan of the records
// thus visits them in index order.
//
// Sort key texts start with a digit, so records occupy [P+"0", P+":")
// and never interleave with the "__" bookkeeping entries. The range also
// holds the entries of sequences whose prefix extends P by a digit.
type keyspace struct {
	prefix []byte
}

const fieldSeparator = '-'

func (k keyspace) with(parts ...string) []byte {
	res := make([]byte, 0, len(k.prefix)+32)
	res = append(res, k.prefix...)
	for _, part := range parts {
		res = append(res, part...)
	}
	return res
}

func (k keyspace) record(key SortKey) []byte {
	return append(k.with(), key.Text()...)
}

func (k keyspace) fieldPrefix(key SortKey) []byte {
	return append(k.record(key), fieldSeparator)
}

func (k keyspace) field(key SortKey, name string) []byte {
	return append(k.fieldPrefix(key), name...)
}

// recordRange covers the marker and all fields of the record at key.
func (k keyspace) recordRange(key SortKey) *util.Range {
	start := k.record(key)
	limit := append(k.record(key), fieldSeparator+1)
	return &util.Range{Start: start, Limit: limit}
}

// records covers the markers and fields of all records.
func (k keyspace) records() *util.Range {
	return &util.Range{Start: k.with("0"), Limit: k.with(":")}
}

func (k keyspace) mapping(index int) []byte {
	return strconv.AppendInt(k.with("__idx__"), int64(index), 10)
}

func (k keyspace) mappings() *util.Range {
	return util.BytesPrefix(k.with("__idx__"))
}

func (k keyspace) count() []byte {
	return k.with("__meta__count")
}

func (k keyspace) format() []byte {
	return k.with("__meta__format")
}
