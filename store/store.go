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

// Package store defines the persisted key-value contract the wasession
// repositories are built on, plus in-memory and SQL implementations of it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies one namespace of persisted records. The set of kinds is
// closed; records of different kinds never share an id space.
type Kind string

const (
	KindSession      Kind = "session"
	KindPreKey       Kind = "pre-key"
	KindSignedPreKey Kind = "signed-pre-key"
	KindSenderKey    Kind = "sender-key"
	KindIdentity     Kind = "identity"
	KindLIDMapping   Kind = "lid-mapping"
)

// Kinds lists every valid record kind.
var Kinds = []Kind{KindSession, KindPreKey, KindSignedPreKey, KindSenderKey, KindIdentity, KindLIDMapping}

// IsValid returns true if the kind is one of the known record kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindSession, KindPreKey, KindSignedPreKey, KindSenderKey, KindIdentity, KindLIDMapping:
		return true
	default:
		return false
	}
}

// Patch is a set of mutations to apply in one atomic Put call.
// A nil record value deletes the entry.
type Patch = map[Kind]map[string][]byte

// Store is an abstract persisted mapping from (kind, id) to opaque records.
//
// Implementations must apply each Put atomically from the caller's point of
// view: a failure may not leave the patch partially applied across kinds.
// Concurrent Puts to disjoint ids must not interfere; concurrent Puts to the
// same id serialize with last-committed-wins semantics.
type Store interface {
	// Get returns the records that exist for the given ids. Missing ids are
	// simply absent from the result, not an error.
	Get(ctx context.Context, kind Kind, ids []string) (map[string][]byte, error)
	// Put atomically applies the given patch. A nil record deletes.
	Put(ctx context.Context, patch Patch) error
	// Clear erases all kinds.
	Clear(ctx context.Context) error
}

// Transactioner is an optional capability of a Store: call sites that
// read-then-write the same id use it to get atomic commit-or-retry
// semantics instead of last-committed-wins.
type Transactioner interface {
	// DoTxn runs fn inside a transaction. On commit conflict the whole
	// function is retried per the store's TxnOptions. All Store calls made
	// with the context passed to fn happen inside the transaction.
	DoTxn(ctx context.Context, fn func(ctx context.Context) error) error
	// IsInTransaction reports whether the given context is already inside
	// a transaction of this store, so nested callers can avoid re-entering.
	IsInTransaction(ctx context.Context) bool
}

// TxnOptions tunes the commit-retry policy of a Transactioner.
type TxnOptions struct {
	// MaxCommitRetries is the number of times a conflicted transaction is
	// re-run before giving up.
	MaxCommitRetries int
	// RetryDelay is how long to wait between attempts.
	RetryDelay time.Duration
}

// DefaultTxnOptions is used when no options are given.
var DefaultTxnOptions = TxnOptions{
	MaxCommitRetries: 10,
	RetryDelay:       200 * time.Millisecond,
}

func (opts TxnOptions) withDefaults() TxnOptions {
	if opts.MaxCommitRetries <= 0 {
		opts.MaxCommitRetries = DefaultTxnOptions.MaxCommitRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultTxnOptions.RetryDelay
	}
	return opts
}

// ErrTxnExhausted is returned by DoTxn after the commit retry budget is
// spent. The last conflict cause is attached to the returned error chain.
var ErrTxnExhausted = errors.New("transaction retries exhausted")

// ErrTxnConflict is the conflict cause reported by stores with optimistic
// concurrency control when a commit loses a race.
var ErrTxnConflict = errors.New("transaction commit conflict")

// RunInTxn runs fn in a transaction if the store supports them and the
// context isn't already inside one. Otherwise fn runs directly.
func RunInTxn(ctx context.Context, s Store, fn func(ctx context.Context) error) error {
	if txs, ok := s.(Transactioner); ok && !txs.IsInTransaction(ctx) {
		return txs.DoTxn(ctx, fn)
	}
	return fn(ctx)
}

// retryTxn implements the shared bounded-retry loop around a single
// transaction attempt. isConflict classifies an attempt error as a commit
// conflict worth retrying.
func retryTxn(ctx context.Context, opts TxnOptions, isConflict func(error) bool, attempt func(ctx context.Context) error) error {
	opts = opts.withDefaults()
	var lastErr error
	for try := 0; try <= opts.MaxCommitRetries; try++ {
		if try > 0 {
			select {
			case <-time.After(opts.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := attempt(ctx)
		if err == nil {
			return nil
		} else if !isConflict(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %w", ErrTxnExhausted, lastErr)
}
