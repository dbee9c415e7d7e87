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

import "time"

// Observer is notified about completed operations of a sequence, for
// instance to export metrics.
type Observer interface {
	// OnOperation is called after each operation of the list interface.
	OnOperation(op string, duration time.Duration, err error)
	// OnReindex is called after sort keys of a window of records were
	// reassigned to restore allocation headroom.
	OnReindex(duration time.Duration, window int, moved int, err error)
}

// NilObserver ignores all events.
type NilObserver struct{}

func (NilObserver) OnOperation(string, time.Duration, error) {}
func (NilObserver) OnReindex(time.Duration, int, int, error) {}

// VerificationObserver is a listener interface for tracking the progress
// of the verification of a sequence.
type VerificationObserver interface {
	StartVerification()
	Progress(msg string)
	EndVerification(res error)
}

// NilVerificationObserver is a trivial implementation of the observer
// interface above which ignores all reported events.
type NilVerificationObserver struct{}

func (NilVerificationObserver) StartVerification()        {}
func (NilVerificationObserver) Progress(msg string)       {}
func (NilVerificationObserver) EndVerification(res error) {}
