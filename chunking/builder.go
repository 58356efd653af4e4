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


// Package chunking turns page text into a parent chunk and its child spans.
package chunking

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/folio/core"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChildSize    = 400
	DefaultChildOverlap = 50
)

// Separators are tried in order, so spans prefer paragraph, line and
// sentence boundaries before falling back to words and characters.
var Separators = []string{"\n\n", "\n", ". ", " ", ""}

var (
	errEmptyPage   = errors.New("page text is empty")
	errInvalidUTF8 = errors.New("page text is not valid UTF-8")
)

// Options configures child span sizes, measured in runes.
type Options struct {
	ChildSize    int
	ChildOverlap int
}

// DefaultOptions returns the splitting policy used at both index and reindex time.
func DefaultOptions() Options {
	return Options{ChildSize: DefaultChildSize, ChildOverlap: DefaultChildOverlap}
}

// Builder is safe for concurrent use.
type Builder struct {
	splitter textsplitter.RecursiveCharacter
}

// NewBuilder creates a Builder. Invalid sizes fall back to the defaults.
func NewBuilder(opts Options) *Builder {
	if opts.ChildSize <= 0 {
		opts.ChildSize = DefaultChildSize
	}
	if opts.ChildOverlap < 0 || opts.ChildOverlap >= opts.ChildSize {
		opts.ChildOverlap = min(DefaultChildOverlap, opts.ChildSize/2)
	}
	return &Builder{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(opts.ChildSize),
			textsplitter.WithChunkOverlap(opts.ChildOverlap),
			textsplitter.WithSeparators(Separators),
		),
	}
}

// Build splits rawText into a parent holding the page verbatim and ordered children.
// Identical arguments always produce identical ids and span boundaries.
// Children are returned without vectors.
func (b *Builder) Build(tenant core.TenantID, documentID core.ID, page int, source, rawText string) (*core.ParentChunk, []*core.ChildChunk, error) {
	if !utf8.ValidString(rawText) {
		return nil, nil, &core.ExtractionError{DocumentId: documentID, Page: page, Reason: "unparsable text", Err: errInvalidUTF8}
	}
	if strings.TrimSpace(rawText) == "" {
		return nil, nil, &core.ExtractionError{DocumentId: documentID, Page: page, Reason: "empty text", Err: errEmptyPage}
	}

	spans, err := b.splitter.SplitText(normalize(rawText))
	if err != nil {
		return nil, nil, &core.ExtractionError{DocumentId: documentID, Page: page, Reason: "split failed", Err: err}
	}

	parent := &core.ParentChunk{
		Tenant:     tenant,
		Id:         core.ParentID(documentID, page),
		DocumentId: documentID,
		PageNumber: page,
		Source:     source,
		FullText:   rawText,
	}

	children := make([]*core.ChildChunk, 0, len(spans))
	for _, span := range spans {
		span = strings.TrimSpace(span)
		if span == "" {
			continue
		}
		index := len(children)
		children = append(children, &core.ChildChunk{
			Tenant:    tenant,
			Id:        core.ChildID(parent.Id, index),
			ParentId:  parent.Id,
			SpanIndex: index,
			Text:      span,
		})
	}
	if len(children) == 0 {
		return nil, nil, &core.ExtractionError{DocumentId: documentID, Page: page, Reason: "no text spans", Err: errEmptyPage}
	}
	return parent, children, nil
}

// Texts returns the span texts of children in order.
func Texts(children []*core.ChildChunk) []string {
	texts := make([]string, len(children))
	for i, c := range children {
		texts[i] = c.Text
	}
	return texts
}

// normalize unifies line endings so the same page splits the same way
// regardless of the producing platform.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
