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


// Package chromem provides an in-process vector index backed by chromem-go.
// Each tenant gets its own collection, so a query can only ever see its tenant's children.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/philippgille/chromem-go"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

const (
	collectionPrefix = "children_"
	parentIDKey      = "parent_id"
)

// errNoEmbedding is returned if chromem is ever asked to embed text itself.
var errNoEmbedding = errors.New("vector index only accepts precomputed embeddings")

// Index implements storage.VectorIndex.
type Index struct {
	db     *chromem.DB
	logger *slog.Logger
}

var _ storage.VectorIndex = (*Index)(nil)

// NewIndex creates an index. An empty path keeps it in memory; otherwise
// collections are persisted under path.
func NewIndex(path string) (*Index, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	return &Index{
		db:     db,
		logger: slog.Default().With("component", "chromem-index"),
	}, nil
}

func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoEmbedding
}

func collectionName(tenant core.TenantID) string {
	return collectionPrefix + string(tenant)
}

// IndexChildren adds or replaces children. Children without a usable vector are skipped.
func (i *Index) IndexChildren(ctx context.Context, tenant core.TenantID, children []*core.ChildChunk) error {
	if err := core.ValidateTenant(tenant); err != nil {
		return err
	}
	collection, err := i.db.GetOrCreateCollection(collectionName(tenant), nil, rejectEmbedding)
	if err != nil {
		return err
	}
	for _, child := range children {
		if !usable(child.Vector) {
			continue
		}
		err := collection.AddDocument(ctx, chromem.Document{
			ID:        child.Id.String(),
			Metadata:  map[string]string{parentIDKey: child.ParentId.String()},
			Embedding: slices.Clone(child.Vector),
			Content:   child.Text,
		})
		if err != nil {
			return fmt.Errorf("index child %s: %w", child.Id, err)
		}
	}
	return nil
}

// DeleteChildren removes children from the tenant's collection.
func (i *Index) DeleteChildren(ctx context.Context, tenant core.TenantID, ids []core.ID) error {
	if err := core.ValidateTenant(tenant); err != nil {
		return err
	}
	collection := i.db.GetCollection(collectionName(tenant), rejectEmbedding)
	if collection == nil || len(ids) == 0 {
		return nil
	}
	docIDs := make([]string, len(ids))
	for n, id := range ids {
		docIDs[n] = id.String()
	}
	return collection.Delete(ctx, nil, nil, docIDs...)
}

// NearestChildren queries the tenant's collection by cosine similarity.
func (i *Index) NearestChildren(ctx context.Context, tenant core.TenantID, vector []float32, k int) ([]core.ChildMatch, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if k <= 0 || !usable(vector) {
		return nil, fmt.Errorf("%w: k must be positive and vector non-zero", storage.ErrInvalidQuery)
	}
	collection := i.db.GetCollection(collectionName(tenant), rejectEmbedding)
	if collection == nil || collection.Count() == 0 {
		return nil, &core.NotReadyError{Tenant: tenant}
	}

	results, err := collection.QueryEmbedding(ctx, vector, min(k, collection.Count()), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query chromem collection: %w", err)
	}

	matches := make([]core.ChildMatch, 0, len(results))
	for _, res := range results {
		childID, err := core.ParseID(res.ID)
		if err != nil {
			i.logger.Warn("skipping document with foreign id", "id", res.ID)
			continue
		}
		parentID, err := core.ParseID(res.Metadata[parentIDKey])
		if err != nil {
			i.logger.Warn("skipping document without parent", "id", res.ID)
			continue
		}
		matches = append(matches, core.ChildMatch{
			ChildId:  childID,
			ParentId: parentID,
			Distance: 1 - res.Similarity,
		})
	}
	slices.SortStableFunc(matches, func(a, b core.ChildMatch) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		case a.ChildId < b.ChildId:
			return -1
		case a.ChildId > b.ChildId:
			return 1
		}
		return 0
	})
	return matches, nil
}

// Close is a no-op; persistent collections are written on every change.
func (i *Index) Close() error {
	return nil
}

func usable(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return true
		}
	}
	return false
}
