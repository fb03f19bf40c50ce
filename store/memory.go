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
	"errors"
	"sync"

	"golang.org/x/exp/maps"
)

var (
	_ Store         = (*MemoryStore)(nil)
	_ Transactioner = (*MemoryStore)(nil)
)

// MemoryStore is a Store backed by in-process maps. Transactions use
// optimistic concurrency control: reads are buffered with the version they
// observed and the commit fails with ErrTxnConflict if any of those
// versions changed in the meantime.
type MemoryStore struct {
	lock     sync.RWMutex
	data     map[Kind]map[string][]byte
	versions map[Kind]map[string]uint64
	txnOpts  TxnOptions
}

type memoryTxnKey struct{}

type memoryTxn struct {
	store *MemoryStore
	reads map[Kind]map[string]uint64
	// writes buffers the pending patch; a nil record is a pending delete.
	writes Patch
}

// NewMemoryStore creates an empty MemoryStore with the default transaction
// retry policy.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithOptions(DefaultTxnOptions)
}

// NewMemoryStoreWithOptions creates an empty MemoryStore with the given
// transaction retry policy.
func NewMemoryStoreWithOptions(opts TxnOptions) *MemoryStore {
	return &MemoryStore{
		data:     make(map[Kind]map[string][]byte),
		versions: make(map[Kind]map[string]uint64),
		txnOpts:  opts.withDefaults(),
	}
}

func (ms *MemoryStore) txnFromContext(ctx context.Context) *memoryTxn {
	txn, ok := ctx.Value(memoryTxnKey{}).(*memoryTxn)
	if !ok || txn.store != ms {
		return nil
	}
	return txn
}

func (ms *MemoryStore) Get(ctx context.Context, kind Kind, ids []string) (map[string][]byte, error) {
	txn := ms.txnFromContext(ctx)
	result := make(map[string][]byte)
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	for _, id := range ids {
		if txn != nil {
			if record, buffered := txn.writes[kind][id]; buffered {
				if record != nil {
					result[id] = record
				}
				continue
			}
			if txn.reads[kind] == nil {
				txn.reads[kind] = make(map[string]uint64)
			}
			txn.reads[kind][id] = ms.versions[kind][id]
		}
		if record, ok := ms.data[kind][id]; ok {
			result[id] = record
		}
	}
	return result, nil
}

func (ms *MemoryStore) Put(ctx context.Context, patch Patch) error {
	if txn := ms.txnFromContext(ctx); txn != nil {
		for kind, records := range patch {
			if txn.writes[kind] == nil {
				txn.writes[kind] = make(map[string][]byte)
			}
			for id, record := range records {
				txn.writes[kind][id] = record
			}
		}
		return nil
	}
	ms.lock.Lock()
	defer ms.lock.Unlock()
	ms.applyLocked(patch)
	return nil
}

func (ms *MemoryStore) applyLocked(patch Patch) {
	for kind, records := range patch {
		for id, record := range records {
			if record == nil {
				delete(ms.data[kind], id)
			} else {
				if ms.data[kind] == nil {
					ms.data[kind] = make(map[string][]byte)
				}
				ms.data[kind][id] = record
			}
			if ms.versions[kind] == nil {
				ms.versions[kind] = make(map[string]uint64)
			}
			ms.versions[kind][id]++
		}
	}
}

func (ms *MemoryStore) Clear(ctx context.Context) error {
	if ms.txnFromContext(ctx) != nil {
		return errors.New("clear is not supported inside a transaction")
	}
	ms.lock.Lock()
	defer ms.lock.Unlock()
	maps.Clear(ms.data)
	// Versions are kept so open transactions still conflict correctly.
	for _, versions := range ms.versions {
		for id := range versions {
			versions[id]++
		}
	}
	return nil
}

func (ms *MemoryStore) IsInTransaction(ctx context.Context) bool {
	return ms.txnFromContext(ctx) != nil
}

func (ms *MemoryStore) DoTxn(ctx context.Context, fn func(ctx context.Context) error) error {
	if ms.IsInTransaction(ctx) {
		return fn(ctx)
	}
	return retryTxn(ctx, ms.txnOpts, func(err error) bool {
		return errors.Is(err, ErrTxnConflict)
	}, func(ctx context.Context) error {
		txn := &memoryTxn{
			store:  ms,
			reads:  make(map[Kind]map[string]uint64),
			writes: make(Patch),
		}
		if err := fn(context.WithValue(ctx, memoryTxnKey{}, txn)); err != nil {
			return err
		}
		return ms.commit(txn)
	})
}

func (ms *MemoryStore) commit(txn *memoryTxn) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()
	for kind, reads := range txn.reads {
		for id, observed := range reads {
			if ms.versions[kind][id] != observed {
				return ErrTxnConflict
			}
		}
	}
	ms.applyLocked(txn.writes)
	return nil
}
