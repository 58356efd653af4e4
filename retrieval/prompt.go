package retrieval

import (
	"fmt"
	"strings"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
)

// NoKnowledgeResponse is the answer given when the tenant has nothing indexed.
const NoKnowledgeResponse = "I don't have any indexed documents to answer that yet."

const systemPrompt = `You are an expert assistant. Answer the question strictly based on the provided context.
Use the chat history to understand follow-up questions or resolve ambiguous references (e.g., "the two").
If the context does not contain the answer, say that you do not know.`

const (
	noHistory = "No previous conversation history."
	noContext = "No relevant documents found."
)

// BuildPrompt assembles the generation request from ranked parent pages,
// recent turns and the standalone question.
func BuildPrompt(candidates []Candidate, history []core.Turn, question string) []ai.Message {
	var b strings.Builder

	b.WriteString("Chat History:\n")
	if len(history) == 0 {
		b.WriteString(noHistory)
		b.WriteString("\n")
	}
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text)
	}

	b.WriteString("\nContext:\n")
	if len(candidates) == 0 {
		b.WriteString(noContext)
		b.WriteString("\n")
	}
	for _, c := range candidates {
		fmt.Fprintf(&b, "[Source: %s, Page: %d]\n%s\n\n", c.Parent.Source, c.Parent.PageNumber, strings.TrimSpace(c.Parent.FullText))
	}

	b.WriteString("\nQuestion:\n")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")

	return []ai.Message{
		ai.SystemMessage(systemPrompt),
		ai.UserMessage(b.String()),
	}
}
