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
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
// Nearest-neighbour queries are an exhaustive cosine scan over the tenant's
// children unless an external storage.VectorIndex is attached.
type ChunkRepository struct {
	backend *Backend
	index   storage.VectorIndex
	logger  *slog.Logger
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository. index may be nil.
func NewChunkRepository(backend *Backend, index storage.VectorIndex) *ChunkRepository {
	return &ChunkRepository{
		backend: backend,
		index:   index,
		logger:  slog.Default().With("component", "chunk-repository"),
	}
}

// UpsertParentAndChildren writes the parent, its children and the parent to
// child index in one transaction. Children left over from an earlier split of
// the same parent are removed so a retry never leaves duplicates.
func (r *ChunkRepository) UpsertParentAndChildren(ctx context.Context, parent *core.ParentChunk, children []*core.ChildChunk) error {
	if parent == nil || parent.Id == 0 {
		return fmt.Errorf("%w: parent id is required", storage.ErrInvalidQuery)
	}
	if err := core.ValidateTenant(parent.Tenant); err != nil {
		return err
	}
	for _, child := range children {
		if child == nil || child.ParentId != parent.Id {
			return storage.ErrOrphanChild
		}
		if child.Tenant == "" {
			child.Tenant = parent.Tenant
		}
		if child.Tenant != parent.Tenant {
			return fmt.Errorf("%w: child tenant %q differs from parent tenant %q", core.ErrInvalidTenant, child.Tenant, parent.Tenant)
		}
	}

	var stale []core.ID
	err := r.backend.update(ctx, "upsert_parent_and_children", func(tx *badger.Txn) error {
		stale = stale[:0]
		if err := writeRecord(tx, makeParentKey(parent.Tenant, parent.Id), parent, storage.MarshalParent); err != nil {
			return err
		}

		keep := make(map[core.ID]bool, len(children))
		for _, child := range children {
			keep[child.Id] = true
			if err := writeRecord(tx, makeChildKey(child.Tenant, child.Id), child, storage.MarshalChild); err != nil {
				return err
			}
			if err := tx.Set(makeParentChildKey(parent.Tenant, parent.Id, child.Id), nil); err != nil {
				return err
			}
		}

		existing, err := r.childIDs(tx, parent.Tenant, parent.Id)
		if err != nil {
			return err
		}
		for _, id := range existing {
			if keep[id] {
				continue
			}
			if err := tx.Delete(makeChildKey(parent.Tenant, id)); err != nil {
				return err
			}
			if err := tx.Delete(makeParentChildKey(parent.Tenant, parent.Id, id)); err != nil {
				return err
			}
			stale = append(stale, id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if r.index != nil {
		if err := r.index.IndexChildren(ctx, parent.Tenant, children); err != nil {
			return &core.StoreError{Kind: core.StoreTransient, Op: "index_children", Err: err}
		}
		if len(stale) > 0 {
			if err := r.index.DeleteChildren(ctx, parent.Tenant, stale); err != nil {
				return &core.StoreError{Kind: core.StoreTransient, Op: "index_children", Err: err}
			}
		}
	}
	return nil
}

func (r *ChunkRepository) childIDs(tx *badger.Txn, tenant core.TenantID, parentID core.ID) ([]core.ID, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = makePartialParentChildKey(tenant, parentID)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var ids []core.ID
	for iter.Rewind(); iter.Valid(); iter.Next() {
		ids = append(ids, childIDFromIndexKey(iter.Item().Key()))
	}
	return ids, nil
}

// NearestChildren finds the k children closest to vector within the tenant.
func (r *ChunkRepository) NearestChildren(ctx context.Context, tenant core.TenantID, vector []float32, k int) ([]core.ChildMatch, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if k <= 0 || len(vector) == 0 {
		return nil, fmt.Errorf("%w: k must be positive and vector non-empty", storage.ErrInvalidQuery)
	}
	if r.index != nil {
		return r.index.NearestChildren(ctx, tenant, vector, k)
	}

	var matches []core.ChildMatch
	err := r.backend.view("nearest_children", func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tenantPrefix(childPrefix, tenant)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var child *core.ChildChunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				child, err = storage.UnmarshalChild(val)
				return err
			})
			if err != nil {
				return err
			}
			if len(child.Vector) == 0 {
				continue
			}
			if len(child.Vector) != len(vector) {
				return fmt.Errorf("%w: query has %d dimensions, child %s has %d",
					storage.ErrDimensionMismatch, len(vector), child.Id, len(child.Vector))
			}
			matches = append(matches, core.ChildMatch{
				ChildId:  child.Id,
				ParentId: child.ParentId,
				Distance: core.CosineDistance(vector, child.Vector),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, &core.NotReadyError{Tenant: tenant}
	}

	SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// SortMatches orders matches by ascending distance, then by child id.
func SortMatches(matches []core.ChildMatch) {
	slices.SortFunc(matches, func(a, b core.ChildMatch) int {
		if a.Distance < b.Distance {
			return -1
		}
		if a.Distance > b.Distance {
			return 1
		}
		if a.ChildId < b.ChildId {
			return -1
		}
		if a.ChildId > b.ChildId {
			return 1
		}
		return 0
	})
}

// ResolveParents fetches parents by id, preserving request order and reporting missing ids.
func (r *ChunkRepository) ResolveParents(ctx context.Context, tenant core.TenantID, ids []core.ID) ([]*core.ParentChunk, []core.ID, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, nil, err
	}
	var found []*core.ParentChunk
	var missing []core.ID
	err := r.backend.view("resolve_parents", func(tx *badger.Txn) error {
		seen := make(map[core.ID]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			parent, err := readRecord(tx, makeParentKey(tenant, id), storage.UnmarshalParent)
			if errors.Is(err, storage.ErrNotFound) {
				missing = append(missing, id)
				continue
			}
			if err != nil {
				return err
			}
			found = append(found, parent)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return found, missing, nil
}

// GetChildren returns a parent's children ordered by span index.
func (r *ChunkRepository) GetChildren(ctx context.Context, tenant core.TenantID, parentID core.ID) ([]*core.ChildChunk, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	var children []*core.ChildChunk
	err := r.backend.view("get_children", func(tx *badger.Txn) error {
		ids, err := r.childIDs(tx, tenant, parentID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			child, err := readRecord(tx, makeChildKey(tenant, id), storage.UnmarshalChild)
			if err != nil {
				return err
			}
			children = append(children, child)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(children, func(a, b *core.ChildChunk) int { return a.SpanIndex - b.SpanIndex })
	return children, nil
}

// IterateChildren pages through a tenant's children in id order.
func (r *ChunkRepository) IterateChildren(ctx context.Context, tenant core.TenantID, after core.ID, limit int) ([]*core.ChildChunk, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}
	var children []*core.ChildChunk
	err := r.backend.view("iterate_children", func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tenantPrefix(childPrefix, tenant)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(makeChildKey(tenant, after)); iter.Valid() && len(children) < limit; iter.Next() {
			var child *core.ChildChunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				child, err = storage.UnmarshalChild(val)
				return err
			})
			if err != nil {
				return err
			}
			if child.Id <= after {
				continue
			}
			children = append(children, child)
		}
		return nil
	})
	return children, err
}

// CountChildren counts a tenant's children without reading their values.
func (r *ChunkRepository) CountChildren(ctx context.Context, tenant core.TenantID) (int, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return 0, err
	}
	count := 0
	err := r.backend.view("count_children", func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tenantPrefix(childPrefix, tenant)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// UpdateChildVectors replaces vectors of existing children.
func (r *ChunkRepository) UpdateChildVectors(ctx context.Context, tenant core.TenantID, vectors map[core.ID][]float32) error {
	if err := core.ValidateTenant(tenant); err != nil {
		return err
	}
	var updated []*core.ChildChunk
	err := r.backend.update(ctx, "update_child_vectors", func(tx *badger.Txn) error {
		updated = updated[:0]
		for id, vector := range vectors {
			key := makeChildKey(tenant, id)
			child, err := readRecord(tx, key, storage.UnmarshalChild)
			if err != nil {
				return fmt.Errorf("child %s: %w", id, err)
			}
			child.Vector = vector
			if err := writeRecord(tx, key, child, storage.MarshalChild); err != nil {
				return err
			}
			updated = append(updated, child)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if r.index != nil && len(updated) > 0 {
		if err := r.index.IndexChildren(ctx, tenant, updated); err != nil {
			return &core.StoreError{Kind: core.StoreTransient, Op: "index_children", Err: err}
		}
	}
	return nil
}
