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
	"log/slog"

	"github.com/zincware/asebytes/compress"
)

// DefaultReindexWindow is the initial number of records on each side of
// an exhausted gap that get new sort keys during reindexing.
const DefaultReindexWindow = 8

type options struct {
	logger        *slog.Logger
	observer      Observer
	compression   compress.Kind
	readOnly      bool
	reindexWindow int
	ownsStore     bool
}

func defaultOptions() options {
	return options{
		logger:        slog.Default(),
		observer:      NilObserver{},
		reindexWindow: DefaultReindexWindow,
	}
}

// Option customizes a sequence.
type Option func(*options)

// WithLogger sets the logger reporting reindexing and initialization.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver registers an observer of operations.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithCompression selects the compression of field values. Without this
// option, new sequences are uncompressed and existing ones keep their
// persisted compression. Requesting a compression differing from the
// persisted one fails with UnsupportedConfiguration.
func WithCompression(kind compress.Kind) Option {
	return func(o *options) {
		o.compression = kind
	}
}

// WithReadOnly opens the sequence for reading only.
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

// WithReindexWindow sets the initial half-width of reindexing windows.
func WithReindexWindow(records int) Option {
	return func(o *options) {
		if records > 0 {
			o.reindexWindow = records
		}
	}
}

// WithOwnedStore makes the sequence close its store when it is closed.
func WithOwnedStore() Option {
	return func(o *options) {
		o.ownsStore = true
	}
}
