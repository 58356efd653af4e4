package ingestion

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/poiesic/folio/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextFileSource_Pages(t *testing.T) {
	root := t.TempDir()
	path := writeUpload(t, root, testTenant, "guide.txt", "first page", "second page", "")
	source := NewTextFileSource(root)
	ctx := context.Background()

	n, err := source.CountPages(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	text, err := source.PageText(ctx, 1, path, 2)
	require.NoError(t, err)
	assert.Equal(t, "second page", text)

	_, err = source.PageText(ctx, 1, path, 3)
	var extErr *core.ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, 3, extErr.Page)
}

func TestTextFileSource_SinglePageWithoutBreaks(t *testing.T) {
	root := t.TempDir()
	path := writeUpload(t, root, testTenant, "note.txt", "just one page")

	n, err := NewTextFileSource(root).CountPages(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTextFileSource_RejectsEscapingPaths(t *testing.T) {
	source := NewTextFileSource(t.TempDir())

	_, err := source.CountPages(context.Background(), "../etc/passwd")
	require.Error(t, err)

	_, err = source.PageText(context.Background(), 1, "/etc/passwd", 1)
	var extErr *core.ExtractionError
	require.ErrorAs(t, err, &extErr)
}

func TestTextFileSource_MissingFile(t *testing.T) {
	_, err := NewTextFileSource(t.TempDir()).CountPages(context.Background(), "uploads/acme/none.txt")
	require.Error(t, err)
}

func TestTextFileSource_ReadsEachVersionOnce(t *testing.T) {
	root := t.TempDir()
	path := writeUpload(t, root, testTenant, "manual.txt", "one", "two", "three")
	source := NewTextFileSource(root)
	defer source.Close()

	reads := 0
	source.readFile = func(name string) ([]byte, error) {
		reads++
		return os.ReadFile(name)
	}

	ctx := context.Background()
	n, err := source.CountPages(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	for page := 1; page <= n; page++ {
		_, err := source.PageText(ctx, 1, path, page)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, reads)

	writeUpload(t, root, testTenant, "manual.txt", "revised first page", "revised second page")
	text, err := source.PageText(ctx, 1, path, 2)
	require.NoError(t, err)
	assert.Equal(t, "revised second page", text)
	assert.Equal(t, 2, reads)
}

func TestExtensionRouter_Close(t *testing.T) {
	text := NewTextFileSource(t.TempDir())
	router := NewExtensionRouter(text).Route(".txt", text).Route(".pdf", NewPDFSource(t.TempDir()))
	require.NoError(t, router.Close())
}

func TestExtensionRouter(t *testing.T) {
	root := t.TempDir()
	path := writeUpload(t, root, testTenant, "a.txt", "text")
	runner := &fakeRunner{outputs: map[string]string{"pdfinfo": "Title: x\nPages:          4\n"}}

	router := NewExtensionRouter(NewTextFileSource(root)).
		Route(".PDF", NewPDFSourceWithRunner(root, runner))
	ctx := context.Background()

	n, err := router.CountPages(ctx, "uploads/acme/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = router.CountPages(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	strict := NewExtensionRouter(nil)
	_, err = strict.CountPages(ctx, "uploads/acme/a.docx")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}
