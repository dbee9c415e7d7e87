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
	"github.com/zincware/asebytes/backend"
	"github.com/zincware/asebytes/common"
)

const (
	// ErrIndexNotFound is returned when reading a logical index without a record.
	ErrIndexNotFound = common.ConstError("index not found")
	// ErrIndexOutOfRange is returned for writes and deletes outside the valid range.
	ErrIndexOutOfRange = common.ConstError("index out of range")
	// ErrKeyAllocationExhausted signals that no sort key is left between two
	// neighbours. It is recovered internally by reindexing.
	ErrKeyAllocationExhausted = common.ConstError("sort key precision exhausted")
	// ErrReindexFailed is returned if reindexing could not restore key headroom.
	ErrReindexFailed = common.ConstError("reindexing failed")
	// ErrTransaction is returned if the store could not begin or commit a transaction.
	ErrTransaction = common.ConstError("store transaction failed")
	// ErrFieldNotFound is returned for partial reads naming absent fields.
	ErrFieldNotFound = common.ConstError("field not found")
	// ErrCorrupted is returned for persisted state violating the sequence's invariants.
	ErrCorrupted = common.ConstError("sequence corrupted")
	// UnsupportedConfiguration is returned if a sequence is opened with a
	// configuration incompatible with its persisted format.
	UnsupportedConfiguration = common.ConstError("unsupported configuration")

	// ErrClosed is returned for operations on closed sequences.
	ErrClosed = backend.ErrClosed
	// ErrReadOnly is returned for mutations of read-only sequences.
	ErrReadOnly = backend.ErrReadOnly
)
