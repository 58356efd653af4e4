// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

const (
	// maxConflictRetries bounds optimistic retries of a read-modify-write transaction.
	maxConflictRetries = 64
	conflictBackoff    = time.Millisecond
)

// Backend wraps a BadgerDB instance and provides low-level operations.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist. With inMemory set the path is ignored.
func OpenBackend(filePath string, inMemory bool) (*Backend, error) {
	var opts badger.Options

	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(filePath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			if err := os.MkdirAll(filePath, 0755); err != nil {
				return nil, err
			}
			if info, err = os.Stat(filePath); err != nil {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", filePath)
		}
		opts = badger.DefaultOptions(filePath)
	}

	logger := slog.Default().With("component", "badger")
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Backend{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// view runs a read-only transaction and classifies any badger failure.
func (b *Backend) view(op string, fn func(tx *badger.Txn) error) error {
	if b.db.IsClosed() {
		return &core.StoreError{Kind: core.StoreTransient, Op: op, Err: storage.ErrStorageClosed}
	}
	return classifyError(op, b.db.View(fn))
}

// update runs fn in a read-write transaction and commits it. Commits that
// lose an optimistic conflict are re-run with a fresh transaction, so fn must
// derive everything it writes from what it reads inside the transaction.
func (b *Backend) update(ctx context.Context, op string, fn func(tx *badger.Txn) error) error {
	if b.db.IsClosed() {
		return &core.StoreError{Kind: core.StoreTransient, Op: op, Err: storage.ErrStorageClosed}
	}
	var err error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return classifyError(op, err)
		}
		b.logger.Debug("transaction conflict, retrying", "op", op, "attempt", attempt)
		time.Sleep(time.Duration(min(attempt, 10))*conflictBackoff + rand.N(conflictBackoff))
	}
	// Exhausted conflict retries surface as transient.
	return &core.StoreError{Kind: core.StoreTransient, Op: op, Err: err}
}

// classifyError passes domain errors through and wraps badger failures in a StoreError.
func classifyError(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return &core.StoreError{Kind: core.StoreTransient, Op: op, Err: storage.ErrStorageClosed}
	}
	if errors.Is(err, badger.ErrTxnTooBig) {
		return &core.StoreError{Kind: core.StoreConflict, Op: op, Err: err}
	}
	return &core.StoreError{Kind: core.StoreTransient, Op: op, Err: err}
}

func isDomainError(err error) bool {
	var storeErr *core.StoreError
	if errors.As(err, &storeErr) || core.IsNotReady(err) {
		return true
	}
	for _, target := range []error{
		storage.ErrNotFound,
		storage.ErrInvalidQuery,
		storage.ErrSerializationFailed,
		storage.ErrOrphanChild,
		storage.ErrDimensionMismatch,
		core.ErrInvalidTenant,
		core.ErrInvalidSession,
		core.ErrInvalidTurn,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
