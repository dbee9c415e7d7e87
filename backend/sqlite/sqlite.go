// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/zincware/asebytes/backend"
	"github.com/zincware/asebytes/common"
	_ "modernc.org/sqlite"
)

const (
	kCreateTable = "CREATE TABLE IF NOT EXISTS kv (key BLOB PRIMARY KEY, value BLOB) WITHOUT ROWID"
	kGetStmt     = "SELECT value FROM kv WHERE key = ?"
	kPutStmt     = "INSERT OR REPLACE INTO kv(key, value) VALUES (?,?)"
	kDeleteStmt  = "DELETE FROM kv WHERE key = ?"
	kStartRead   = "SELECT count(*) FROM (SELECT 1 FROM kv LIMIT 1)"

	// BusyTimeout is the time in milliseconds a connection waits for
	// locks held by other processes.
	BusyTimeout = common.Property("SqliteBusyTimeout")
)

// Store is a backend.Store persisting all entries in a single SQLite
// table in WAL mode. Read transactions are SQLite read transactions and
// thus observe a snapshot. Writers are serialized within the process.
type Store struct {
	db       *sql.DB
	writer   chan struct{}
	readOnly bool
	closed   atomic.Bool
}

// Open opens or creates the SQLite database file at the given path. With
// the ReadOnly property set, the file must exist and is never modified.
func Open(file string, properties common.Properties) (*Store, error) {
	timeout, err := properties.GetInteger(BusyTimeout, 5000)
	if err != nil {
		return nil, err
	}
	readOnly, err := properties.GetBool(backend.ReadOnly, false)
	if err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", file, timeout)
	if readOnly {
		dsn += "&mode=ro"
	} else {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite; %w", err)
	}
	if readOnly {
		// read-only connections fail on missing files instead of creating them
		if err := db.Ping(); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to open SQLite file %s; %w", file, err), db.Close())
		}
	} else if _, err := db.Exec(kCreateTable); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create kv table; %w", err), db.Close())
	}
	return &Store{
		db:       db,
		writer:   make(chan struct{}, 1),
		readOnly: readOnly,
	}, nil
}

func (s *Store) Begin(ctx context.Context, writable bool) (backend.Txn, error) {
	if s.closed.Load() {
		return nil, backend.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if writable {
		if s.readOnly {
			return nil, backend.ErrReadOnly
		}
		select {
		case s.writer <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	// database/sql rolls back transactions when their context is canceled
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		s.release(writable)
		return nil, s.convertError(err)
	}
	if !writable {
		// SQLite takes the snapshot on the first read, not on BEGIN.
		var n int
		if err := tx.QueryRow(kStartRead).Scan(&n); err != nil {
			tx.Rollback()
			return nil, s.convertError(err)
		}
	}
	return &txn{store: s, tx: tx, writable: writable}, nil
}

func (s *Store) release(writable bool) {
	if writable {
		<-s.writer
	}
}

func (s *Store) convertError(err error) error {
	if err == nil {
		return nil
	}
	if s.closed.Load() || errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w; %v", backend.ErrClosed, err)
	}
	return err
}

// GetMemoryFootprint provides the size of the store in memory in bytes
func (s *Store) GetMemoryFootprint() *common.MemoryFootprint {
	mf := common.NewMemoryFootprint(unsafe.Sizeof(*s))
	var pages, pageSize int64
	if err := s.db.QueryRow("PRAGMA cache_size").Scan(&pages); err == nil {
		if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err == nil {
			// negative cache sizes are given in KiB
			size := pages * pageSize
			if pages < 0 {
				size = -pages * 1024
			}
			mf.AddChild("pageCache", common.NewMemoryFootprint(uintptr(size)))
		}
	}
	return mf
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

type txn struct {
	store    *Store
	tx       *sql.Tx
	writable bool
	done     bool
}

func (t *txn) Get(key []byte) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRow(kGetStmt, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, t.store.convertError(err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (t *txn) Put(key, value []byte) error {
	if !t.writable {
		return backend.ErrReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	_, err := t.tx.Exec(kPutStmt, key, value)
	return t.store.convertError(err)
}

func (t *txn) Delete(key []byte) error {
	if !t.writable {
		return backend.ErrReadOnly
	}
	_, err := t.tx.Exec(kDeleteStmt, key)
	return t.store.convertError(err)
}

func (t *txn) NewIterator(r *util.Range) backend.Iterator {
	return backend.NewChunkIterator(r, t.fetch)
}

func (t *txn) fetch(r *util.Range, after []byte, limit int) ([]backend.KeyValue, error) {
	var (
		conditions []string
		args       []any
	)
	if after != nil {
		conditions = append(conditions, "key > ?")
		args = append(args, after)
	} else if r.Start != nil {
		conditions = append(conditions, "key >= ?")
		args = append(args, r.Start)
	}
	if r.Limit != nil {
		conditions = append(conditions, "key < ?")
		args = append(args, r.Limit)
	}
	query := "SELECT key, value FROM kv"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY key LIMIT ?"
	args = append(args, limit)

	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, t.store.convertError(err)
	}
	defer rows.Close()
	res := make([]backend.KeyValue, 0, limit)
	for rows.Next() {
		var kv backend.KeyValue
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, err
		}
		res = append(res, kv)
	}
	return res, rows.Err()
}

func (t *txn) Writable() bool {
	return t.writable
}

func (t *txn) Commit() error {
	if t.done {
		return backend.ErrClosed
	}
	t.done = true
	defer t.store.release(t.writable)
	return t.store.convertError(t.tx.Commit())
}

func (t *txn) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.tx.Rollback()
	t.store.release(t.writable)
}
