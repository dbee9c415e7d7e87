// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package database

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"

	"github.com/zincware/asebytes/backend"
	"github.com/zincware/asebytes/backend/ldb"
	"github.com/zincware/asebytes/backend/memory"
	"github.com/zincware/asebytes/backend/sqlite"
	"github.com/zincware/asebytes/common"
	"github.com/zincware/asebytes/compress"
	"github.com/zincware/asebytes/sequence"
)

// ----------------------------------------------------------------------------
//                        for asebytes users
// ----------------------------------------------------------------------------

// Parameters struct defining the location and configuration of a sequence.
type Parameters struct {
	Variant     Variant
	Compression compress.Kind // empty to adopt the persisted compression
	Directory   string
	Prefix      string
	ReadOnly    bool
	Properties  common.Properties
	Logger      *slog.Logger
	Observer    sequence.Observer
}

// UnsupportedConfiguration is the error returned if unsupported configuration
// parameters have been specified. The text may contain further details regarding the
// unsupported feature.
const UnsupportedConfiguration = sequence.UnsupportedConfiguration

// ReindexMinWindow is the property setting the number of records on each
// side of an exhausted position which are assigned new sort keys.
const ReindexMinWindow = common.Property("ReindexMinWindow")

// ----------------------------------------------------------------------------
//                      for asebytes implementations
// ----------------------------------------------------------------------------

type Configuration struct {
	Variant     Variant
	Compression compress.Kind
}

func (c *Configuration) String() string {
	return fmt.Sprintf("%s_%s", c.Variant, c.Compression)
}

type Variant string

const (
	LevelDbVariant Variant = "leveldb"
	MemoryVariant  Variant = "memory"
	SqliteVariant  Variant = "sqlite"
)

// StoreFactory opens the store of a variant in the parameter's directory.
type StoreFactory func(params Parameters) (backend.Store, error)

var storeFactoryRegistry = map[Variant]StoreFactory{
	LevelDbVariant: func(params Parameters) (backend.Store, error) {
		return ldb.Open(params.Directory, params.Properties)
	},
	MemoryVariant: func(Parameters) (backend.Store, error) {
		return memory.New(), nil
	},
	SqliteVariant: func(params Parameters) (backend.Store, error) {
		readOnly, err := params.Properties.GetBool(backend.ReadOnly, false)
		if err != nil {
			return nil, err
		}
		if !readOnly {
			if err := os.MkdirAll(params.Directory, 0700); err != nil {
				return nil, err
			}
		}
		return sqlite.Open(filepath.Join(params.Directory, "sequence.sqlite"), params.Properties)
	},
}

func RegisterStoreFactory(variant Variant, factory StoreFactory) {
	if _, found := storeFactoryRegistry[variant]; found {
		panic(fmt.Sprintf("attempted to register multiple factories for %v", variant))
	}
	storeFactoryRegistry[variant] = factory
}

func GetAllRegisteredStoreFactories() map[Variant]StoreFactory {
	return maps.Clone(storeFactoryRegistry)
}

// GetAllConfigurations lists all combinations of registered variants and
// compression kinds.
func GetAllConfigurations() []Configuration {
	var res []Configuration
	for variant := range storeFactoryRegistry {
		for _, kind := range compress.Kinds() {
			res = append(res, Configuration{Variant: variant, Compression: kind})
		}
	}
	return res
}
