package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/retry"
	"github.com/poiesic/folio/storage/badger"
	"github.com/stretchr/testify/require"
)

const testTenant core.TenantID = "acme"

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func setupStore(t *testing.T) *badger.Store {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// writeUpload writes pages joined by form feeds under root and returns the storage path.
func writeUpload(t *testing.T, root string, tenant core.TenantID, name string, pages ...string) string {
	t.Helper()
	storagePath := "uploads/" + string(tenant) + "/" + name
	full := filepath.Join(root, filepath.FromSlash(storagePath))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	data := ""
	for i, page := range pages {
		if i > 0 {
			data += pageBreak
		}
		data += page
	}
	require.NoError(t, os.WriteFile(full, []byte(data), 0o644))
	return storagePath
}

func notificationFor(storagePath string) core.Notification {
	return core.Notification{StoragePath: storagePath, Fingerprint: "sha256:" + storagePath}
}

type published struct {
	id   string
	data []byte
}

// recordingPublisher keeps every publish, including duplicates.
type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, id string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{id: id, data: data})
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func (p *recordingPublisher) tasks(t *testing.T) []core.PageTask {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	tasks := make([]core.PageTask, len(p.messages))
	for i, msg := range p.messages {
		task, err := DecodeTask(msg.data)
		require.NoError(t, err)
		require.Equal(t, task.MessageID(), msg.id)
		tasks[i] = task
	}
	return tasks
}
