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


// Package ai provides abstractions for the remote model services used by folio.
//
// Two capabilities are needed: turning text into vectors (Embedder) and
// turning a conversation into a reply (Generator). AIProvider bundles both so
// they share configuration and lifecycle.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder, etc.) return
// interface types. Test constructors (mock.NewMockEmbedder, mock.NewMockGenerator)
// return concrete types so tests can script failures and inspect calls.
//
//	provider, err := openai.NewProvider(config)  // returns ai.AIProvider
//	mockEmbed := mock.NewMockEmbedder()          // returns *mock.MockEmbedder
//	mockEmbed.FailNext(err)
//
// # Errors
//
// Embedders report failures as *core.EmbeddingError with a kind of
// RATE_LIMITED, INVALID_INPUT or UNAVAILABLE. Generators return plain errors;
// the retrieval engine wraps them in *core.GenerationError.
package ai
