// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package database opens sequences on top of the available stores.
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/zincware/asebytes/backend"
	"github.com/zincware/asebytes/common"
	"github.com/zincware/asebytes/sequence"
)

// OpenSequence is the public interface for opening asebytes sequences. If for
// the given parameters a store can be opened, the sequence in it is returned,
// owning the store. If the requested configuration is not supported, the
// error is an UnsupportedConfiguration error.
func OpenSequence(ctx context.Context, params Parameters) (*sequence.Sequence, error) {
	if params.Variant == "" {
		params.Variant = LevelDbVariant
	}
	factory, found := storeFactoryRegistry[params.Variant]
	if !found {
		return nil, fmt.Errorf("%w; no registered store for variant %v", UnsupportedConfiguration, params.Variant)
	}
	if params.Variant != MemoryVariant && params.Directory == "" {
		return nil, fmt.Errorf("%w; variant %v requires a directory", UnsupportedConfiguration, params.Variant)
	}

	properties := common.Properties{}
	for name, value := range params.Properties {
		properties[name] = value
	}
	if params.ReadOnly {
		properties.SetBool(backend.ReadOnly, true)
	}
	readOnly, err := properties.GetBool(backend.ReadOnly, false)
	if err != nil {
		return nil, errors.Join(UnsupportedConfiguration, err)
	}
	window, err := properties.GetInteger(ReindexMinWindow, sequence.DefaultReindexWindow)
	if err != nil {
		return nil, errors.Join(UnsupportedConfiguration, err)
	}
	params.Properties = properties

	opts := []sequence.Option{
		sequence.WithOwnedStore(),
		sequence.WithReindexWindow(window),
		sequence.WithLogger(params.Logger),
		sequence.WithObserver(params.Observer),
	}
	if params.Compression != "" {
		opts = append(opts, sequence.WithCompression(params.Compression))
	}
	if readOnly {
		opts = append(opts, sequence.WithReadOnly())
	}

	store, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("failed to open %v store; %w", params.Variant, err)
	}
	return sequence.Open(ctx, store, []byte(params.Prefix), opts...)
}
