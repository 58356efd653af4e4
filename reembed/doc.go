// Package reembed recomputes the vectors of a tenant's child chunks, for
// example after switching embedding models. Runs are checkpointed per tenant
// so an interrupted run resumes after the last completed batch.
package reembed
