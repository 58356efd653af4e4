package folio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/folio/ai/mock"
	"github.com/poiesic/folio/chunking"
	"github.com/poiesic/folio/config"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/ingestion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.InMemory = true
	cfg.Store.Path = ""
	cfg.Sources.Root = t.TempDir()
	cfg.Sources.Format = "text"
	cfg.Retrieval.Rewriter = "heuristic"
	cfg.Worker.PoolSize = 2
	cfg.Worker.BaseDelay = time.Millisecond
	cfg.Worker.MaxDelay = 5 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func openSystem(t *testing.T, cfg *config.Config) *System {
	t.Helper()
	sys, err := Open(cfg, WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	t.Cleanup(func() { sys.Close() })
	return sys
}

func writeUpload(t *testing.T, root, storagePath string, pages ...string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(storagePath))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(strings.Join(pages, "\f")), 0o644))
}

func TestOpen(t *testing.T) {
	sys := openSystem(t, testConfig(t))

	assert.NotNil(t, sys.Store())
	assert.NotNil(t, sys.Uploads())
	assert.NotNil(t, sys.Pages())
	assert.IsType(t, &ingestion.TextFileSource{}, sys.Source())
}

func TestOpen_InvalidStorePath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not_a_dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	cfg := config.Default()
	cfg.Store.Path = file
	_, err := Open(cfg, WithProvider(mock.NewMockProvider()))
	assert.Error(t, err)
}

func TestOpen_ChromemIndex(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.VectorIndex = "chromem"
	sys := openSystem(t, cfg)
	assert.NotNil(t, sys.Store())
}

func TestOpen_PersistentChromemNeedsIndexPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.InMemory = false
	cfg.Store.Path = filepath.Join(t.TempDir(), "db")
	cfg.Store.VectorIndex = "chromem"

	_, err := Open(cfg, WithProvider(mock.NewMockProvider()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.index_path")
}

func TestOpen_ChromemIndexSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Store.InMemory = false
	cfg.Store.Path = filepath.Join(dir, "db")
	cfg.Store.VectorIndex = "chromem"
	cfg.Store.IndexPath = filepath.Join(dir, "index")

	ctx := context.Background()
	docID := core.DocumentID("acme", "uploads/acme/pump.txt", "f")
	parent, children, err := chunking.NewBuilder(chunking.Options{}).
		Build("acme", docID, 1, "uploads/acme/pump.txt", "Prime the pump before start.")
	require.NoError(t, err)
	for _, child := range children {
		child.Vector = mock.Vector(child.Text, mock.DefaultDimensions)
	}

	sys, err := Open(cfg, WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	require.NoError(t, sys.Store().UpsertParentAndChildren(ctx, parent, children))
	require.NoError(t, sys.Close())

	sys = openSystem(t, cfg)
	matches, err := sys.Store().NearestChildren(ctx, "acme", mock.Vector("prime the pump", mock.DefaultDimensions), 3)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, parent.Id, matches[0].ParentId)
}

func TestFactoryMethods(t *testing.T) {
	sys := openSystem(t, testConfig(t))

	d, err := sys.NewDispatcher()
	require.NoError(t, err)
	assert.NotNil(t, d)

	w, err := sys.NewWorker()
	require.NoError(t, err)
	w.Release()

	e, err := sys.NewEngine()
	require.NoError(t, err)
	assert.NotNil(t, e)

	r, err := sys.NewReembedder(io.Discard, false)
	require.NoError(t, err)
	assert.NotNil(t, r)

	srv, err := sys.NewServer()
	require.NoError(t, err)
	assert.NotNil(t, srv.Handler())
}

func TestRun_IngestAndAsk(t *testing.T) {
	cfg := testConfig(t)
	sys := openSystem(t, cfg)

	path := "uploads/acme/surgery.txt"
	writeUpload(t, cfg.Sources.Root, path,
		"Splenectomy removes the spleen. Patients face a lifelong risk of overwhelming infection.",
		"Cholecystectomy removes the gallbladder. Bile duct injury is the most feared complication.",
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sys.Run(ctx, false) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	n, err := ingestion.PublishNotification(ctx, sys.Uploads(), core.Notification{StoragePath: path, Fingerprint: "sha256:surgery"})
	require.NoError(t, err)
	docID := core.DocumentID(n.Tenant, path, n.Fingerprint)

	require.Eventually(t, func() bool {
		doc, err := sys.Store().GetDocument(ctx, "acme", docID)
		return err == nil && doc.Status == core.DocumentComplete
	}, 10*time.Second, 20*time.Millisecond)

	doc, err := sys.Store().GetDocument(ctx, "acme", docID)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.ExpectedPageCount)
	assert.Equal(t, 2, doc.PagesCompleted)

	engine, err := sys.NewEngine()
	require.NoError(t, err)
	answer, err := engine.Ask(ctx, "acme", "", "What are the risks of splenectomy?")
	require.NoError(t, err)
	assert.False(t, answer.NoKnowledge)
	assert.NotEmpty(t, answer.SessionID)
	assert.Contains(t, answer.CitedParentIDs, core.ParentID(docID, 1))

	other, err := engine.Ask(ctx, "globex", "", "What are the risks of splenectomy?")
	require.NoError(t, err)
	assert.True(t, other.NoKnowledge)

	r, err := sys.NewReembedder(io.Discard, false)
	require.NoError(t, err)
	result, err := r.Run(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, result.Total, result.Processed)
	assert.Positive(t, result.Total)
}
