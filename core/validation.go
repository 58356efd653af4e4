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


package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// UploadPrefix is the storage path root under which tenant uploads live.
const UploadPrefix = "uploads/"

var (
	tenantPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)
)

// ValidateTenant checks that a tenant handle is present and well formed.
// Every store operation calls it so a missing tenant fails closed.
func ValidateTenant(tenant TenantID) error {
	if tenant == "" {
		return fmt.Errorf("%w: tenant is empty", ErrInvalidTenant)
	}
	if !tenantPattern.MatchString(string(tenant)) {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenant)
	}
	return nil
}

// ValidateSessionID checks a session identifier.
func ValidateSessionID(id string) error {
	if !sessionPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSession, id)
	}
	return nil
}

// TenantFromPath derives the tenant from an upload path of the form
// uploads/<tenant>/<file>.
func TenantFromPath(storagePath string) (TenantID, error) {
	rest, ok := strings.CutPrefix(storagePath, UploadPrefix)
	if !ok {
		return "", fmt.Errorf("%w: path %q is outside %s", ErrInvalidTenant, storagePath, UploadPrefix)
	}
	tenant, file, ok := strings.Cut(rest, "/")
	if !ok || file == "" {
		return "", fmt.Errorf("%w: path %q has no file component", ErrInvalidTenant, storagePath)
	}
	t := TenantID(tenant)
	if err := ValidateTenant(t); err != nil {
		return "", err
	}
	return t, nil
}

// ValidateNotification validates an upload notification.
//
// Validation rules:
//   - StoragePath must not be empty
//   - Fingerprint must not be empty
//   - Tenant, if set, must match the tenant encoded in StoragePath
//
// A missing Tenant is filled in from the path.
func ValidateNotification(n *Notification) error {
	if n == nil {
		return fmt.Errorf("%w: notification is nil", ErrInvalidNotification)
	}
	if n.StoragePath == "" {
		return fmt.Errorf("%w: storage path is empty", ErrInvalidNotification)
	}
	if n.Fingerprint == "" {
		return fmt.Errorf("%w: content fingerprint is empty", ErrInvalidNotification)
	}
	derived, err := TenantFromPath(n.StoragePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidNotification, err)
	}
	if n.Tenant == "" {
		n.Tenant = derived
	} else if n.Tenant != derived {
		return fmt.Errorf("%w: tenant %q does not own path %q", ErrInvalidNotification, n.Tenant, n.StoragePath)
	}
	return nil
}

// ValidatePageTask validates a page task message.
func ValidatePageTask(task *PageTask) error {
	if task == nil {
		return fmt.Errorf("%w: task is nil", ErrInvalidPageTask)
	}
	if err := ValidateTenant(task.Tenant); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPageTask, err)
	}
	if task.DocumentId == 0 {
		return fmt.Errorf("%w: document id is zero", ErrInvalidPageTask)
	}
	if task.Page < 1 {
		return fmt.Errorf("%w: page number %d must be >= 1", ErrInvalidPageTask, task.Page)
	}
	return nil
}

// ValidateTurn validates a session turn.
func ValidateTurn(turn *Turn) error {
	if turn == nil {
		return fmt.Errorf("%w: turn is nil", ErrInvalidTurn)
	}
	if turn.Role != RoleUser && turn.Role != RoleAssistant {
		return fmt.Errorf("%w: role %q", ErrInvalidTurn, turn.Role)
	}
	if turn.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidTurn, ErrEmptyContent)
	}
	if turn.Timestamp.After(time.Now().Add(time.Minute)) {
		return fmt.Errorf("%w: timestamp is in the future", ErrInvalidTurn)
	}
	return nil
}
