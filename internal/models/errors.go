// ABOUTME: Error taxonomy for the capture, ingest, retrieval, and synthesis paths
// ABOUTME: Callers classify failures with errors.Is against these sentinels
package models

import "errors"

var (
	// ErrCaptureFailed marks a transient grab failure. The controller retries;
	// only a run of consecutive failures stops the session.
	ErrCaptureFailed = errors.New("screen capture failed")

	// ErrStorageFull means disk or quota is exhausted. Fatal to the recording
	// session: the controller stops rather than silently dropping frames.
	ErrStorageFull = errors.New("storage full")

	// ErrEmbeddingUnavailable means the embedding service is unreachable.
	// Retryable; the frame is persisted without an embedding and backfilled.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrEncodeFailure means the raw bitmap could not be encoded. The frame
	// is dropped and counted, not retried.
	ErrEncodeFailure = errors.New("frame encode failure")

	// ErrEmbeddingMismatch means the query embedding model differs from the
	// model that produced the corpus vectors. Scores across models are
	// meaningless, so the mismatch is surfaced instead of scored.
	ErrEmbeddingMismatch = errors.New("embedding model mismatch")

	// ErrSynthesisUnavailable means the VLM endpoint is unreachable or timed
	// out. The caller degrades to an evidence-only result.
	ErrSynthesisUnavailable = errors.New("answer synthesis unavailable")

	// ErrCorruptCatalog marks a data-integrity violation: a catalog entry
	// whose image file is missing, or vice versa. Never swallowed.
	ErrCorruptCatalog = errors.New("catalog integrity violation")
)
