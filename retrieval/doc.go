// Package retrieval answers questions from a tenant's indexed documents.
//
// An Engine call loads the recent turns of the session, rewrites the question
// into a standalone query, embeds it, finds the nearest child chunks, resolves
// and deduplicates their parent pages and asks the generation model for an
// answer grounded in those pages. The question and answer are appended to the
// session only when the whole call succeeds.
//
// Basic usage:
//
//	engine, err := retrieval.NewEngine(store, provider.Embedder(), provider.Generator())
//	if err != nil {
//		return err
//	}
//	answer, err := engine.Ask(ctx, "acme", sessionID, "What are the complications of a splenectomy?")
package retrieval
