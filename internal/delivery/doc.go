// Package delivery implements the resilient upload half of the pipeline: the
// bounded FIFO-with-requeue queue shared with the capture engine, the HTTP
// client for the remote transcription service, and the single-consumer
// processor that drives each item through the
// Pending -> InFlight -> {Delivered | Pending(retry+1) | Discarded}
// state machine with bounded retries, linear backoff, and age-based expiry.
package delivery
