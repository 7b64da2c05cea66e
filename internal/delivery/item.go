package delivery

import (
	"time"

	"github.com/Justiceleeg/always-on-app/internal/location"
)

// Item is the unit of work traveling through the pipeline: one encoded
// capture window plus its metadata. The payload is immutable once created;
// only RetryCount is mutated, and only by the delivery processor.
type Item struct {
	// Payload is the encoded WAV container (header + raw samples).
	Payload []byte

	// WindowStart and WindowEnd are the capture-time boundaries of the window.
	WindowStart time.Time
	WindowEnd   time.Time

	// Location is a best-effort coordinate snapshot, nil when unavailable.
	Location *location.Coordinates

	// RetryCount starts at 0 and is incremented on each failed attempt.
	RetryCount int

	// CreatedAt is the enqueue instant, used for expiry. Never mutated.
	CreatedAt time.Time
}

// Age returns how long the item has been resident since it was enqueued.
func (it *Item) Age(now time.Time) time.Duration {
	return now.Sub(it.CreatedAt)
}

// Expired reports whether the item has exceeded the maximum resident age.
func (it *Item) Expired(now time.Time, maxAge time.Duration) bool {
	return it.Age(now) >= maxAge
}

// DiscardReason identifies why an item left the pipeline without delivery.
type DiscardReason int

const (
	// DiscardExpired means the item exceeded the maximum resident age.
	DiscardExpired DiscardReason = iota
	// DiscardRetryExhausted means the item failed more than max_retries times.
	DiscardRetryExhausted
	// DiscardQueueFull means the item was evicted from a full bounded queue.
	DiscardQueueFull
)

// String returns a log-friendly name for the discard reason.
func (r DiscardReason) String() string {
	switch r {
	case DiscardExpired:
		return "expired"
	case DiscardRetryExhausted:
		return "retry_exhausted"
	case DiscardQueueFull:
		return "queue_full"
	default:
		return "unknown"
	}
}
