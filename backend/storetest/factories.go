// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package storetest

import (
	"path/filepath"
	"testing"

	"github.com/zincware/asebytes/backend"
	"github.com/zincware/asebytes/backend/ldb"
	"github.com/zincware/asebytes/backend/memory"
	"github.com/zincware/asebytes/backend/sqlite"
	"github.com/zincware/asebytes/common"
)

// Factory creates a fresh store closed at the end of the test.
type Factory func(t testing.TB) backend.Store

// Factories provides a factory for every store implementation.
func Factories() map[string]Factory {
	return map[string]Factory{
		"leveldb": func(t testing.TB) backend.Store {
			return closeOnCleanup(t, mustOpen(t, func() (backend.Store, error) {
				return ldb.Open(t.TempDir(), common.Properties{})
			}))
		},
		"memory": func(t testing.TB) backend.Store {
			return closeOnCleanup(t, memory.New())
		},
		"sqlite": func(t testing.TB) backend.Store {
			return closeOnCleanup(t, mustOpen(t, func() (backend.Store, error) {
				return sqlite.Open(filepath.Join(t.TempDir(), "db.sqlite"), common.Properties{})
			}))
		},
	}
}

// Reopenable provides, for every persistent store implementation, a
// function opening the store at the given location.
func Reopenable() map[string]func(path string, properties common.Properties) (backend.Store, error) {
	return map[string]func(path string, properties common.Properties) (backend.Store, error){
		"leveldb": func(path string, properties common.Properties) (backend.Store, error) {
			return ldb.Open(path, properties)
		},
		"sqlite": func(path string, properties common.Properties) (backend.Store, error) {
			return sqlite.Open(filepath.Join(path, "db.sqlite"), properties)
		},
	}
}

func mustOpen(t testing.TB, open func() (backend.Store, error)) backend.Store {
	t.Helper()
	store, err := open()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return store
}

func closeOnCleanup(t testing.TB, store backend.Store) backend.Store {
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
