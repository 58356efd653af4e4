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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/poiesic/folio/core"
)

// PageCounter determines how many pages an uploaded document has.
type PageCounter interface {
	CountPages(ctx context.Context, storagePath string) (int, error)
}

// PageSource extracts the raw text of one page. Errors that will not go
// away on retry are returned as *core.ExtractionError.
type PageSource interface {
	PageText(ctx context.Context, documentID core.ID, storagePath string, page int) (string, error)
}

// Extractor is a PageCounter and PageSource over the same storage.
type Extractor interface {
	PageCounter
	PageSource
}

// pageBreak separates pages in plain text files, as written by pdftotext.
const pageBreak = "\f"

// splitCacheBytes bounds the text held by a TextFileSource's page cache.
const splitCacheBytes = 64 << 20

// splitFile is a file's pages as of one size and modification time.
type splitFile struct {
	modTime time.Time
	size    int64
	pages   []string
}

// TextFileSource reads plain text uploads from a directory tree.
// Pages are separated by form feeds; a file without any is a single page.
// Split files are cached so workers handling pages of one upload read it once.
type TextFileSource struct {
	root     string
	cache    *ristretto.Cache[string, *splitFile]
	readFile func(string) ([]byte, error)
}

var (
	_ Extractor = (*TextFileSource)(nil)
	_ io.Closer = (*TextFileSource)(nil)
)

// NewTextFileSource serves storage paths relative to root.
func NewTextFileSource(root string) *TextFileSource {
	s := &TextFileSource{root: root, readFile: os.ReadFile}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *splitFile]{
		NumCounters: 10_000,
		MaxCost:     splitCacheBytes,
		BufferItems: 64,
	})
	if err == nil {
		s.cache = cache
	}
	return s
}

// Close releases the page cache.
func (s *TextFileSource) Close() error {
	if s.cache != nil {
		s.cache.Close()
	}
	return nil
}

// CountPages returns the number of form-feed separated pages.
func (s *TextFileSource) CountPages(ctx context.Context, storagePath string) (int, error) {
	pages, err := s.pages(storagePath)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

// PageText returns the text of a 1-based page.
func (s *TextFileSource) PageText(ctx context.Context, documentID core.ID, storagePath string, page int) (string, error) {
	pages, err := s.pages(storagePath)
	if err != nil {
		return "", &core.ExtractionError{DocumentId: documentID, Page: page, Reason: "read failed", Err: err}
	}
	if page < 1 || page > len(pages) {
		return "", &core.ExtractionError{DocumentId: documentID, Page: page,
			Reason: fmt.Sprintf("page out of range 1..%d", len(pages))}
	}
	return pages[page-1], nil
}

func (s *TextFileSource) pages(storagePath string) ([]string, error) {
	path, err := resolvePath(s.root, storagePath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if cached, ok := s.cache.Get(path); ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
			return cached.pages, nil
		}
	}

	data, err := s.readFile(path)
	if err != nil {
		return nil, err
	}
	pages := strings.Split(string(data), pageBreak)
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	if s.cache != nil {
		s.cache.Set(path, &splitFile{modTime: info.ModTime(), size: info.Size(), pages: pages}, max(info.Size(), 1))
		s.cache.Wait()
	}
	return pages, nil
}

// resolvePath maps a slash-separated storage path under root, refusing
// paths that would escape it.
func resolvePath(root, storagePath string) (string, error) {
	rel := filepath.FromSlash(storagePath)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("storage path %q escapes the upload root", storagePath)
	}
	return filepath.Join(root, rel), nil
}

// ExtensionRouter picks an Extractor by file extension.
type ExtensionRouter struct {
	routes   map[string]Extractor
	fallback Extractor
}

var _ Extractor = (*ExtensionRouter)(nil)

// NewExtensionRouter uses fallback for extensions without a route. A nil
// fallback rejects them.
func NewExtensionRouter(fallback Extractor) *ExtensionRouter {
	return &ExtensionRouter{routes: make(map[string]Extractor), fallback: fallback}
}

// Route registers an extractor for an extension such as ".pdf".
func (r *ExtensionRouter) Route(ext string, e Extractor) *ExtensionRouter {
	r.routes[strings.ToLower(ext)] = e
	return r
}

func (r *ExtensionRouter) pick(storagePath string) (Extractor, error) {
	if e, ok := r.routes[strings.ToLower(filepath.Ext(storagePath))]; ok {
		return e, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(storagePath))
}

// CountPages delegates to the extractor for the path's extension.
func (r *ExtensionRouter) CountPages(ctx context.Context, storagePath string) (int, error) {
	e, err := r.pick(storagePath)
	if err != nil {
		return 0, err
	}
	return e.CountPages(ctx, storagePath)
}

// Close closes every routed extractor and the fallback that hold resources.
func (r *ExtensionRouter) Close() error {
	var errs []error
	for _, e := range r.routes {
		if c, ok := e.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	if c, ok := r.fallback.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// PageText delegates to the extractor for the path's extension.
func (r *ExtensionRouter) PageText(ctx context.Context, documentID core.ID, storagePath string, page int) (string, error) {
	e, err := r.pick(storagePath)
	if err != nil {
		return "", &core.ExtractionError{DocumentId: documentID, Page: page, Reason: "no extractor", Err: err}
	}
	return e.PageText(ctx, documentID, storagePath, page)
}

// isExtraction reports whether err is a terminal extraction failure.
func isExtraction(err error) bool {
	var extErr *core.ExtractionError
	return errors.As(err, &extErr)
}
