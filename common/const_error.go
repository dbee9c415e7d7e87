// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"errors"
	"io"
)

// ConstError is a error type that can be used to define immutable
// error constants shared between packages. Two ConstErrors with the
// same text are equal, so errors.Is works across package boundaries.
type ConstError string

func (e ConstError) Error() string {
	return string(e)
}

// CloseAll closes all given resources, including those following a failed
// one, and returns the joined errors.
func CloseAll(closers ...io.Closer) error {
	var errs []error
	for _, closer := range closers {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
