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


// Package storage defines the persistence contracts for folio.
//
// The repository interfaces decouple ingestion and retrieval from the storage
// engine. The badger subpackage implements all of them on a single embedded
// BadgerDB; the chromem subpackage provides an optional in-process vector
// index that the badger store can mirror children into.
//
// # Tenancy
//
// Every operation takes an explicit core.TenantID and every key is prefixed
// with it. Implementations validate the tenant before touching storage, so a
// missing tenant fails closed rather than reading across tenants.
//
// # Idempotency
//
// All identifiers are derived from content or position (see core.ParentID and
// core.ChildID), so writes are upserts by id. Counters are updated with
// read-modify-write transactions that are retried on conflict:
//
//	completion, err := store.MarkPageComplete(ctx, tenant, documentID, page)
//	if err != nil {
//	    return err
//	}
//	if completion.Complete() {
//	    // every page of the document has been indexed
//	}
//
// # Errors
//
// Engine failures surface as *core.StoreError with a TRANSIENT or CONFLICT
// kind. ErrNotFound and the validation errors of package core pass through
// unchanged. NearestChildren returns *core.NotReadyError when a tenant has
// nothing indexed yet.
package storage
