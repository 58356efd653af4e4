// Package mock provides test double implementations of AI service interfaces.
//
// MockEmbedder produces bag-of-words vectors by feature hashing, so texts that
// share words are close in cosine distance. Tests can queue failures with
// FailNext to simulate rate limiting or invalid input.
//
// MockGenerator replies with scripted responses, or echoes the last user
// message, and records every request for assertions.
package mock
