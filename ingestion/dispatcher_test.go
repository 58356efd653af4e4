package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/queue"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatcher_RequiresCollaborators(t *testing.T) {
	store := setupStore(t)
	source := NewTextFileSource(t.TempDir())
	pub := &recordingPublisher{}

	_, err := NewDispatcher(nil, source, pub)
	assert.ErrorIs(t, err, ErrStoreRequired)
	_, err = NewDispatcher(store, nil, pub)
	assert.ErrorIs(t, err, ErrPageCounterRequired)
	_, err = NewDispatcher(store, source, nil)
	assert.ErrorIs(t, err, ErrPublisherRequired)
}

func TestDispatcher_PublishesOneTaskPerPage(t *testing.T) {
	root := t.TempDir()
	store := setupStore(t)
	pub := &recordingPublisher{}
	path := writeUpload(t, root, testTenant, "manual.txt", "one", "two", "three")

	d, err := NewDispatcher(store, NewTextFileSource(root), pub, WithDispatchRetry(fastPolicy()))
	require.NoError(t, err)

	ctx := context.Background()
	result, err := d.HandleNotification(ctx, notificationFor(path))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, 3, result.Pages)

	tasks := pub.tasks(t)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, testTenant, task.Tenant)
		assert.Equal(t, result.DocumentID, task.DocumentId)
		assert.Equal(t, i+1, task.Page)
	}

	doc, err := store.GetDocument(ctx, testTenant, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.ExpectedPageCount)
	assert.Equal(t, core.DocumentPending, doc.Status)
	assert.Equal(t, core.DispatchDispatched, doc.DispatchState)
	assert.Equal(t, path, doc.StoragePath)

	for page := 1; page <= 3; page++ {
		p, err := store.GetPage(ctx, testTenant, result.DocumentID, page)
		require.NoError(t, err)
		assert.Equal(t, core.PagePending, p.Status)
	}
}

func TestDispatcher_DuplicateNotificationIsNoop(t *testing.T) {
	root := t.TempDir()
	store := setupStore(t)
	pub := &recordingPublisher{}
	path := writeUpload(t, root, testTenant, "manual.txt", "one", "two")

	d, err := NewDispatcher(store, NewTextFileSource(root), pub, WithDispatchRetry(fastPolicy()))
	require.NoError(t, err)

	ctx := context.Background()
	first, err := d.HandleNotification(ctx, notificationFor(path))
	require.NoError(t, err)

	second, err := d.HandleNotification(ctx, notificationFor(path))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, 2, pub.count())
}

func TestDispatcher_NewFingerprintIsNewDocument(t *testing.T) {
	root := t.TempDir()
	store := setupStore(t)
	pub := &recordingPublisher{}
	path := writeUpload(t, root, testTenant, "manual.txt", "one")

	d, err := NewDispatcher(store, NewTextFileSource(root), pub)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := d.HandleNotification(ctx, core.Notification{StoragePath: path, Fingerprint: "v1"})
	require.NoError(t, err)
	second, err := d.HandleNotification(ctx, core.Notification{StoragePath: path, Fingerprint: "v2"})
	require.NoError(t, err)

	assert.NotEqual(t, first.DocumentID, second.DocumentID)
	assert.False(t, second.Duplicate)
	assert.Equal(t, 2, pub.count())
}

func TestDispatcher_PageCountFailureFailsDocument(t *testing.T) {
	store := setupStore(t)
	pub := &recordingPublisher{}
	notification := notificationFor("uploads/acme/missing.txt")

	d, err := NewDispatcher(store, NewTextFileSource(t.TempDir()), pub, WithDispatchRetry(fastPolicy()))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = d.HandleNotification(ctx, notification)
	var dispatchErr *core.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, notification.StoragePath, dispatchErr.StoragePath)
	assert.Zero(t, pub.count())

	docID := core.DocumentID(testTenant, notification.StoragePath, notification.Fingerprint)
	doc, err := store.GetDocument(ctx, testTenant, docID)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentFailed, doc.Status)
	assert.NotEmpty(t, doc.FailureReason)

	again, err := d.HandleNotification(ctx, notification)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
}

func TestDispatcher_EmptyDocumentFails(t *testing.T) {
	store := setupStore(t)
	counter := countFunc(func(context.Context, string) (int, error) { return 0, nil })

	d, err := NewDispatcher(store, counter, &recordingPublisher{})
	require.NoError(t, err)

	_, err = d.HandleNotification(context.Background(), notificationFor("uploads/acme/empty.pdf"))
	var dispatchErr *core.DispatchError
	assert.ErrorAs(t, err, &dispatchErr)
}

func TestDispatcher_RejectsInvalidNotification(t *testing.T) {
	store := setupStore(t)
	d, err := NewDispatcher(store, NewTextFileSource(t.TempDir()), &recordingPublisher{})
	require.NoError(t, err)

	tests := []core.Notification{
		{StoragePath: "uploads/acme/a.txt"},
		{StoragePath: "elsewhere/a.txt", Fingerprint: "f"},
		{StoragePath: "uploads/acme/a.txt", Tenant: "globex", Fingerprint: "f"},
	}
	for _, n := range tests {
		_, err := d.HandleNotification(context.Background(), n)
		assert.ErrorIs(t, err, core.ErrInvalidNotification, n.StoragePath)
	}
}

func TestDispatcher_PublishFailureResumesOnRedelivery(t *testing.T) {
	root := t.TempDir()
	store := setupStore(t)
	pub := &recordingPublisher{err: errors.New("broker down")}
	path := writeUpload(t, root, testTenant, "manual.txt", "one", "two")

	d, err := NewDispatcher(store, NewTextFileSource(root), pub, WithDispatchRetry(fastPolicy()))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = d.HandleNotification(ctx, notificationFor(path))
	require.Error(t, err)

	docID := core.DocumentID(testTenant, path, notificationFor(path).Fingerprint)
	doc, err := store.GetDocument(ctx, testTenant, docID)
	require.NoError(t, err)
	assert.Equal(t, core.DispatchSplit, doc.DispatchState)

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()

	result, err := d.HandleNotification(ctx, notificationFor(path))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, 2, pub.count())
}

func TestDispatcher_Run(t *testing.T) {
	root := t.TempDir()
	store := setupStore(t)
	uploads := queue.NewMemory(queue.MemoryOptions{FetchWait: 10 * time.Millisecond})
	pages := queue.NewMemory(queue.MemoryOptions{FetchWait: 10 * time.Millisecond})
	path := writeUpload(t, root, testTenant, "manual.txt", "one", "two", "three")

	d, err := NewDispatcher(store, NewTextFileSource(root), pages, WithDispatchRetry(fastPolicy()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := notificationFor(path)
	data, err := EncodeNotification(n)
	require.NoError(t, err)
	require.NoError(t, uploads.Publish(ctx, NotificationID(core.Notification{StoragePath: path, Tenant: testTenant, Fingerprint: n.Fingerprint}), data))
	require.NoError(t, uploads.Publish(ctx, "garbage", []byte("{not json")))

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, uploads) }()

	assert.Eventually(t, func() bool { return pages.Len() == 3 && uploads.Len() == 0 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_FailedAfterSplitStaysFailed(t *testing.T) {
	root := t.TempDir()
	store := setupStore(t)
	pub := &recordingPublisher{err: errors.New("broker down")}
	path := writeUpload(t, root, testTenant, "manual.txt", "one", "two")
	n := notificationFor(path)
	docID := core.DocumentID(testTenant, path, n.Fingerprint)

	d, err := NewDispatcher(store, NewTextFileSource(root), pub, WithDispatchRetry(fastPolicy()))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = d.HandleNotification(ctx, n)
	require.Error(t, err)
	require.NoError(t, store.MarkDocumentFailed(ctx, testTenant, docID, "dispatch retries exhausted"))

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()

	again, err := d.HandleNotification(ctx, n)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Zero(t, pub.count())

	doc, err := store.GetDocument(ctx, testTenant, docID)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentFailed, doc.Status)
	assert.Equal(t, core.DispatchSplit, doc.DispatchState)
}

func TestDispatcher_RunExhaustsDeliveries(t *testing.T) {
	root := t.TempDir()
	store := setupStore(t)
	uploads := queue.NewMemory(queue.MemoryOptions{FetchWait: 10 * time.Millisecond})
	defer uploads.Close()
	pub := &recordingPublisher{err: errors.New("broker down")}
	path := writeUpload(t, root, testTenant, "manual.txt", "one", "two")
	n := notificationFor(path)
	docID := core.DocumentID(testTenant, path, n.Fingerprint)

	d, err := NewDispatcher(store, NewTextFileSource(root), pub,
		WithDispatchRetry(fastPolicy()), WithDispatchMaxDeliveries(2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, uploads) }()

	data, err := EncodeNotification(n)
	require.NoError(t, err)
	require.NoError(t, uploads.Publish(ctx, "first", data))

	assert.Eventually(t, func() bool {
		doc, err := store.GetDocument(ctx, testTenant, docID)
		return err == nil && doc.Status == core.DocumentFailed && uploads.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)

	doc, err := store.GetDocument(ctx, testTenant, docID)
	require.NoError(t, err)
	assert.Contains(t, doc.FailureReason, "retries exhausted")

	// A redelivered notification after the broker recovers publishes nothing.
	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()
	require.NoError(t, uploads.Publish(ctx, "second", data))
	assert.Eventually(t, func() bool { return uploads.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	doc, err = store.GetDocument(ctx, testTenant, docID)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentFailed, doc.Status)
	assert.Zero(t, pub.count())

	cancel()
	require.NoError(t, <-done)
}

func TestDispatcher_RunTerminatesInvalidNotification(t *testing.T) {
	store := setupStore(t)
	uploads := queue.NewMemory(queue.MemoryOptions{FetchWait: 10 * time.Millisecond})
	defer uploads.Close()
	pub := &recordingPublisher{}

	d, err := NewDispatcher(store, NewTextFileSource(t.TempDir()), pub, WithDispatchRetry(fastPolicy()))
	require.NoError(t, err)

	rejected := d.metrics.NotificationsTotal.WithLabelValues("rejected")
	before := testutil.ToFloat64(rejected)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, uploads) }()

	n := core.Notification{StoragePath: "elsewhere/a.txt", Fingerprint: "f"}
	data, err := EncodeNotification(n)
	require.NoError(t, err)
	require.NoError(t, uploads.Publish(ctx, "bad", data))

	assert.Eventually(t, func() bool { return uploads.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, pub.count())
	assert.Equal(t, before+1, testutil.ToFloat64(rejected))

	cancel()
	require.NoError(t, <-done)
}

type countFunc func(ctx context.Context, storagePath string) (int, error)

func (f countFunc) CountPages(ctx context.Context, storagePath string) (int, error) {
	return f(ctx, storagePath)
}
