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


package retrieval

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
)

// Rewriter turns a follow-up question into a standalone query using the
// recent turns of the session. With no history the query must come back
// unchanged.
type Rewriter interface {
	Rewrite(ctx context.Context, history []core.Turn, query string) (string, error)
}

var (
	pluralRef = regexp.MustCompile(`(?i)\b(the two of them|both of them|the two|both|them|they|those|these)\b`)
	itRef     = regexp.MustCompile(`(?i)\bit\b`)
	// "this" and "that" only count as references at the end of a clause.
	demonstrativeRef = regexp.MustCompile(`(?i)\b(this|that)\b([?.!,;]|\s*$)`)
)

// subjectMarkers introduce the subject of a question ("complications of a splenectomy").
var subjectMarkers = map[string]bool{
	"of": true, "about": true, "on": true, "for": true, "regarding": true, "with": true, "in": true,
}

// HeuristicRewriter resolves references deterministically. Plural references
// ("the two", "both", "them", ...) become the subjects of the earlier user
// turns joined with "and"; "it" and a clause-final "this"/"that" become the
// most recent subject. The subject of a turn is the text after its last
// "of"/"about"/"for"-style marker, or else whatever remains after dropping
// stop words and words the new query already uses.
type HeuristicRewriter struct{}

var _ Rewriter = HeuristicRewriter{}

// Rewrite never fails.
func (HeuristicRewriter) Rewrite(_ context.Context, history []core.Turn, query string) (string, error) {
	subjects := subjectsOf(history, query)
	if len(subjects) == 0 {
		return query, nil
	}

	if pluralRef.MatchString(query) && len(subjects) > 1 {
		return pluralRef.ReplaceAllLiteralString(query, joinSubjects(subjects)), nil
	}
	last := subjects[len(subjects)-1]
	if itRef.MatchString(query) {
		return itRef.ReplaceAllLiteralString(query, last), nil
	}
	if demonstrativeRef.MatchString(query) {
		return demonstrativeRef.ReplaceAllString(query, strings.ReplaceAll(last, "$", "$$")+"${2}"), nil
	}
	if pluralRef.MatchString(query) {
		return pluralRef.ReplaceAllLiteralString(query, last), nil
	}
	return query, nil
}

// subjectsOf returns the distinct subjects of user turns, oldest first.
func subjectsOf(history []core.Turn, query string) []string {
	queryTerms := make(map[string]bool)
	for _, term := range tokenize(query) {
		queryTerms[term] = true
	}

	var subjects []string
	seen := make(map[string]bool)
	for _, turn := range history {
		if turn.Role != core.RoleUser {
			continue
		}
		subject := subjectOf(turn.Text, queryTerms)
		if subject == "" || seen[subject] {
			continue
		}
		seen[subject] = true
		subjects = append(subjects, subject)
	}
	return subjects
}

func subjectOf(text string, queryTerms map[string]bool) string {
	words := strings.Fields(strings.ToLower(text))
	for i := len(words) - 1; i >= 0; i-- {
		if subjectMarkers[strings.Trim(words[i], ",;:")] {
			if tail := tokenize(strings.Join(words[i+1:], " ")); len(tail) > 0 {
				return strings.Join(tail, " ")
			}
			break
		}
	}

	var rest []string
	for _, term := range tokenize(text) {
		if !queryTerms[term] {
			rest = append(rest, term)
		}
	}
	return strings.Join(rest, " ")
}

func joinSubjects(subjects []string) string {
	if len(subjects) == 1 {
		return subjects[0]
	}
	return strings.Join(subjects[:len(subjects)-1], ", ") + " and " + subjects[len(subjects)-1]
}

const rewritePrompt = `Rewrite the user's latest question as a single standalone question.
Replace pronouns and vague references such as "it", "they" or "the two" with the things they refer to in the conversation.
Return only the rewritten question, without explanation.`

// LLMRewriter asks the generation model for the standalone query and falls
// back to the heuristic when the model fails or answers with nothing.
type LLMRewriter struct {
	generator ai.Generator
	fallback  Rewriter
	logger    *slog.Logger
}

var _ Rewriter = (*LLMRewriter)(nil)

// NewLLMRewriter creates a rewriter backed by generator.
func NewLLMRewriter(generator ai.Generator, logger *slog.Logger) *LLMRewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMRewriter{generator: generator, fallback: HeuristicRewriter{}, logger: logger}
}

// Rewrite returns query unchanged when there is no history.
func (r *LLMRewriter) Rewrite(ctx context.Context, history []core.Turn, query string) (string, error) {
	if len(history) == 0 {
		return query, nil
	}

	var conversation strings.Builder
	for _, turn := range history {
		conversation.WriteString(string(turn.Role))
		conversation.WriteString(": ")
		conversation.WriteString(turn.Text)
		conversation.WriteString("\n")
	}
	conversation.WriteString("\nLatest question: ")
	conversation.WriteString(query)

	reply, err := r.generator.Generate(ctx, []ai.Message{
		ai.SystemMessage(rewritePrompt),
		ai.UserMessage(conversation.String()),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		r.logger.Warn("query rewrite failed, using heuristic", "error", err)
		return r.fallback.Rewrite(ctx, history, query)
	}

	rewritten := firstLine(reply)
	if rewritten == "" {
		return r.fallback.Rewrite(ctx, history, query)
	}
	return rewritten, nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.Trim(strings.TrimSpace(line), `"`)
		if line != "" {
			return line
		}
	}
	return ""
}
