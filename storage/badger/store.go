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
	"github.com/poiesic/folio/storage"
)

// Store bundles the BadgerDB repositories into a storage.DocumentStore.
type Store struct {
	*DocumentRepository
	*ChunkRepository
	*SessionRepository
	*CheckpointRepository

	backend *Backend
	index   storage.VectorIndex
}

var _ storage.DocumentStore = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithVectorIndex mirrors children into index and answers nearest-neighbour queries from it.
func WithVectorIndex(index storage.VectorIndex) StoreOption {
	return func(s *Store) {
		s.index = index
	}
}

// NewStore creates a Store on top of an open backend.
func NewStore(backend *Backend, opts ...StoreOption) *Store {
	s := &Store{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	s.DocumentRepository = NewDocumentRepository(backend)
	s.ChunkRepository = NewChunkRepository(backend, s.index)
	s.SessionRepository = NewSessionRepository(backend)
	s.CheckpointRepository = NewCheckpointRepository(backend)
	return s
}

// OpenStore opens the database at path and wraps it in a Store.
func OpenStore(path string, inMemory bool, opts ...StoreOption) (*Store, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}
	return NewStore(backend, opts...), nil
}

// Backend exposes the underlying backend.
func (s *Store) Backend() *Backend {
	return s.backend
}

// Close closes the vector index, if any, and the backend.
func (s *Store) Close() error {
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			s.backend.logger.Error("error closing vector index", "err", err)
		}
	}
	return s.backend.Close()
}
