package ingestion

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/queue"
)

// EncodeNotification serializes an upload notification for the uploads queue.
func EncodeNotification(n core.Notification) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeNotification parses and validates an upload notification.
func DecodeNotification(data []byte) (core.Notification, error) {
	var n core.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return n, fmt.Errorf("%w: %v", core.ErrInvalidNotification, err)
	}
	if err := core.ValidateNotification(&n); err != nil {
		return n, err
	}
	return n, nil
}

// NotificationID is the deduplication key for an upload notification.
func NotificationID(n core.Notification) string {
	return core.DocumentID(n.Tenant, n.StoragePath, n.Fingerprint).String()
}

// EncodeTask serializes a page task for the pages queue.
func EncodeTask(task core.PageTask) ([]byte, error) {
	return json.Marshal(task)
}

// DecodeTask parses and validates a page task.
func DecodeTask(data []byte) (core.PageTask, error) {
	var task core.PageTask
	if err := json.Unmarshal(data, &task); err != nil {
		return task, fmt.Errorf("%w: %v", core.ErrInvalidPageTask, err)
	}
	if err := core.ValidatePageTask(&task); err != nil {
		return task, err
	}
	return task, nil
}

// PublishNotification validates n, fills its tenant from the storage path and
// publishes it on the uploads queue. The validated notification is returned.
func PublishNotification(ctx context.Context, uploads queue.Publisher, n core.Notification) (core.Notification, error) {
	if err := core.ValidateNotification(&n); err != nil {
		return n, err
	}
	data, err := EncodeNotification(n)
	if err != nil {
		return n, err
	}
	if err := uploads.Publish(ctx, NotificationID(n), data); err != nil {
		return n, fmt.Errorf("failed to publish notification: %w", err)
	}
	return n, nil
}
