// Package ingestion turns uploaded documents into indexed chunks.
//
// The Dispatcher receives one notification per upload, counts the pages,
// records the document and emits one task per page. Workers consume page
// tasks on a bounded pool, build and embed chunks, store them and advance the
// document's completion counters.
//
// Delivery is at-least-once. Every write is keyed by a deterministic id and
// the completion counters are guarded per page, so a redelivered task never
// duplicates chunks or double counts a page.
package ingestion
