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
	"encoding/binary"
	"errors"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// SessionRepository implements storage.SessionRepository for BadgerDB.
type SessionRepository struct {
	backend *Backend
}

var _ storage.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(backend *Backend) *SessionRepository {
	return &SessionRepository{backend: backend}
}

// AppendTurns appends turns after any existing ones. Turns already stored are never rewritten.
func (r *SessionRepository) AppendTurns(ctx context.Context, tenant core.TenantID, sessionID string, turns ...core.Turn) error {
	if err := core.ValidateTenant(tenant); err != nil {
		return err
	}
	if err := core.ValidateSessionID(sessionID); err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range turns {
		if turns[i].Timestamp.IsZero() {
			turns[i].Timestamp = now
		}
		if err := core.ValidateTurn(&turns[i]); err != nil {
			return err
		}
	}
	if len(turns) == 0 {
		return nil
	}

	return r.backend.update(ctx, "append_turns", func(tx *badger.Txn) error {
		seqKey := makeSessionSeqKey(tenant, sessionID)
		var next uint64
		item, err := tx.Get(seqKey)
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				next = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		for i := range turns {
			if err := writeRecord(tx, makeSessionTurnKey(tenant, sessionID, next), &turns[i], storage.MarshalTurn); err != nil {
				return err
			}
			next++
		}
		return tx.Set(seqKey, binary.BigEndian.AppendUint64(nil, next))
	})
}

// RecentTurns returns up to n of the latest turns, oldest first.
func (r *SessionRepository) RecentTurns(ctx context.Context, tenant core.TenantID, sessionID string, n int) ([]core.Turn, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if err := core.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []core.Turn{}, nil
	}

	turns := make([]core.Turn, 0, n)
	err := r.backend.view("recent_turns", func(tx *badger.Txn) error {
		prefix := makePartialSessionKey(tenant, sessionID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Seek past the last possible sequence under the prefix.
		seekKey := append(slices.Clone(prefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for iter.Seek(seekKey); iter.Valid() && len(turns) < n; iter.Next() {
			var turn *core.Turn
			err := iter.Item().Value(func(val []byte) error {
				var err error
				turn, err = storage.UnmarshalTurn(val)
				return err
			})
			if err != nil {
				return err
			}
			turns = append(turns, *turn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(turns)
	return turns, nil
}
