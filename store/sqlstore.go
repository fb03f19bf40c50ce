// wasession - a session and identity layer for WhatsApp-style end-to-end encryption.
// Copyright (C) 2025 Tulir Asokan
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package store

import (
	"context"
	"fmt"
	"strings"

	"go.mau.fi/util/dbutil"
)

var (
	_ Store         = (*SQLStore)(nil)
	_ Transactioner = (*SQLStore)(nil)
)

// SQLStore is a Store backed by a SQL database through dbutil.
// Only SQLite and Postgres are currently fully supported.
type SQLStore struct {
	DB      *dbutil.Database
	txnOpts TxnOptions
}

type sqlTxnKey struct{}

// NewSQLStore wraps an existing dbutil database in a SQLStore with the
// default transaction retry policy. Upgrade must be called before use:
//
//	db, err := dbutil.NewWithDialect("file:wasession.db?_foreign_keys=on", "sqlite3")
//	if err != nil {
//	    panic(err)
//	}
//	container := store.NewSQLStore(db)
//	err = container.Upgrade(ctx)
func NewSQLStore(db *dbutil.Database) *SQLStore {
	return NewSQLStoreWithOptions(db, DefaultTxnOptions)
}

// NewSQLStoreWithOptions wraps an existing dbutil database in a SQLStore
// with the given transaction retry policy.
func NewSQLStoreWithOptions(db *dbutil.Database, opts TxnOptions) *SQLStore {
	db.UpgradeTable = UpgradeTable
	return &SQLStore{
		DB:      db,
		txnOpts: opts.withDefaults(),
	}
}

// Upgrade upgrades the database schema to the latest version.
func (s *SQLStore) Upgrade(ctx context.Context) error {
	return s.DB.Upgrade(ctx)
}

const (
	getRecordsQuery   = `SELECT id, record FROM wasession_record WHERE kind=$1 AND id IN (%s)`
	putRecordQuery    = `INSERT INTO wasession_record (kind, id, record) VALUES ($1, $2, $3) ON CONFLICT (kind, id) DO UPDATE SET record=excluded.record`
	deleteRecordQuery = `DELETE FROM wasession_record WHERE kind=$1 AND id=$2`
	clearRecordsQuery = `DELETE FROM wasession_record`
)

func (s *SQLStore) Get(ctx context.Context, kind Kind, ids []string) (map[string][]byte, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("invalid record kind %q", kind)
	}
	result := make(map[string][]byte, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids)+1)
	args[0] = string(kind)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args[i+1] = id
	}
	rows, err := s.DB.Query(ctx, fmt.Sprintf(getRecordsQuery, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s records: %w", kind, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var record []byte
		if err = rows.Scan(&id, &record); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", kind, err)
		}
		result[id] = record
	}
	return result, rows.Err()
}

func (s *SQLStore) Put(ctx context.Context, patch Patch) error {
	for kind := range patch {
		if !kind.IsValid() {
			return fmt.Errorf("invalid record kind %q", kind)
		}
	}
	return s.DB.DoTxn(ctx, nil, func(ctx context.Context) error {
		for kind, records := range patch {
			for id, record := range records {
				var err error
				if record == nil {
					_, err = s.DB.Exec(ctx, deleteRecordQuery, string(kind), id)
				} else {
					_, err = s.DB.Exec(ctx, putRecordQuery, string(kind), id, record)
				}
				if err != nil {
					return fmt.Errorf("failed to put %s/%s: %w", kind, id, err)
				}
			}
		}
		return nil
	})
}

func (s *SQLStore) Clear(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, clearRecordsQuery)
	return err
}

func (s *SQLStore) IsInTransaction(ctx context.Context) bool {
	marker, ok := ctx.Value(sqlTxnKey{}).(*SQLStore)
	return ok && marker == s
}

func (s *SQLStore) DoTxn(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.IsInTransaction(ctx) {
		return fn(ctx)
	}
	return retryTxn(ctx, s.txnOpts, isSQLCommitConflict, func(ctx context.Context) error {
		return s.DB.DoTxn(ctx, nil, func(ctx context.Context) error {
			return fn(context.WithValue(ctx, sqlTxnKey{}, s))
		})
	})
}

// isSQLCommitConflict classifies driver errors that mean the transaction
// lost a race and is worth re-running. Matched by message because the
// drivers are not imported here (the Postgres driver is the caller's
// choice).
func isSQLCommitConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "deadlock detected")
}
