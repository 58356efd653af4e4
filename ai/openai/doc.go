// Package openai talks to OpenAI-compatible model servers through langchaingo.
//
// The same client works against the hosted OpenAI API and local servers that
// mimic it (Ollama, vLLM, LocalAI). Hosts are normalized to end in /v1.
//
//	provider, err := openai.NewProvider(ai.NewConfig(
//	    ai.WithHost("http://localhost:11434"),
//	    ai.WithRequestsPerSecond(4),
//	))
//
// EmbedTexts splits its input into Config.BatchSize requests and waits on a
// token bucket between them when RequestsPerSecond is set. langchaingo error
// codes are mapped onto *core.EmbeddingError kinds so the ingestion retry
// policy can tell throttling from bad input.
package openai
