package delivery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Justiceleeg/always-on-app/internal/metrics"
)

// fakeUploader scripts per-item outcomes and records every attempt.
type fakeUploader struct {
	mu       sync.Mutex
	attempts []*Item
	outcome  func(item *Item, attempt int) error
	delay    time.Duration
}

func (f *fakeUploader) Upload(ctx context.Context, item *Item) (*TranscribeResponse, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.attempts = append(f.attempts, item)
	attempt := 0
	for _, it := range f.attempts {
		if it == item {
			attempt++
		}
	}
	outcome := f.outcome
	f.mu.Unlock()

	if outcome != nil {
		if err := outcome(item, attempt); err != nil {
			return nil, err
		}
	}
	return &TranscribeResponse{Processed: true, SessionID: "test-session"}, nil
}

func (f *fakeUploader) attemptCount(item *Item) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.attempts {
		if it == item {
			n++
		}
	}
	return n
}

func (f *fakeUploader) totalAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

func newTestProcessor(t *testing.T, uploader Uploader, config ProcessorConfig) (*Processor, *Queue, *metrics.Metrics) {
	t.Helper()

	queue := NewQueue(0)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Millisecond
	}
	if config.BackoffStep == 0 {
		config.BackoffStep = time.Millisecond
	}

	return NewProcessor(queue, uploader, m, logger, config), queue, m
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestProcessorDeliversItem(t *testing.T) {
	uploader := &fakeUploader{}
	p, queue, m := newTestProcessor(t, uploader, ProcessorConfig{MaxRetries: 3, MaxAge: time.Hour})

	item := testItem(time.Now())
	queue.Push(item)

	p.Start()
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return m.GetSnapshot().ItemsDelivered == 1
	}, "Item was not delivered")

	if got := uploader.attemptCount(item); got != 1 {
		t.Errorf("Expected 1 attempt, got %d", got)
	}
	if queue.Len() != 0 {
		t.Errorf("Expected empty queue, got %d items", queue.Len())
	}
}

func TestProcessorRetriesThenSucceeds(t *testing.T) {
	uploader := &fakeUploader{
		outcome: func(item *Item, attempt int) error {
			if attempt <= 2 {
				return fmt.Errorf("HTTP error 503: unavailable")
			}
			return nil
		},
	}
	p, queue, m := newTestProcessor(t, uploader, ProcessorConfig{MaxRetries: 3, MaxAge: time.Hour})

	item := testItem(time.Now())
	queue.Push(item)

	p.Start()
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return m.GetSnapshot().ItemsDelivered == 1
	}, "Item was not delivered after retries")

	if got := uploader.attemptCount(item); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}

	snapshot := m.GetSnapshot()
	if snapshot.DeliveryRetries != 2 {
		t.Errorf("Expected 2 recorded retries, got %d", snapshot.DeliveryRetries)
	}
	if snapshot.DeliveryFailures != 2 {
		t.Errorf("Expected 2 recorded failures, got %d", snapshot.DeliveryFailures)
	}
}

func TestProcessorRetryExhaustion(t *testing.T) {
	uploader := &fakeUploader{
		outcome: func(item *Item, attempt int) error {
			return fmt.Errorf("HTTP error 500: broken")
		},
	}
	p, queue, m := newTestProcessor(t, uploader, ProcessorConfig{MaxRetries: 2, MaxAge: time.Hour})

	item := testItem(time.Now())
	queue.Push(item)

	p.Start()
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return m.GetSnapshot().ItemsDiscardedExhausted == 1
	}, "Item was not discarded after exhausting retries")

	// max_retries failures plus the initial attempt
	if got := uploader.attemptCount(item); got != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", got)
	}
	if queue.Len() != 0 {
		t.Errorf("Expected empty queue after discard, got %d items", queue.Len())
	}
	if m.GetSnapshot().ItemsDelivered != 0 {
		t.Error("Discarded item was recorded as delivered")
	}
}

func TestProcessorZeroRetriesMeansSingleAttempt(t *testing.T) {
	uploader := &fakeUploader{
		outcome: func(item *Item, attempt int) error {
			return fmt.Errorf("HTTP error 500: broken")
		},
	}
	p, queue, m := newTestProcessor(t, uploader, ProcessorConfig{MaxRetries: 0, MaxAge: time.Hour})

	item := testItem(time.Now())
	queue.Push(item)

	p.Start()
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return m.GetSnapshot().ItemsDiscardedExhausted == 1
	}, "Item was not discarded after its only attempt")

	// max_retries of zero disables retries, not the first attempt
	if got := uploader.attemptCount(item); got != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", got)
	}
	if m.GetSnapshot().DeliveryRetries != 0 {
		t.Errorf("Expected 0 recorded retries, got %d", m.GetSnapshot().DeliveryRetries)
	}
}

func TestProcessorDiscardsExpiredWithoutAttempt(t *testing.T) {
	uploader := &fakeUploader{}
	p, queue, m := newTestProcessor(t, uploader, ProcessorConfig{MaxRetries: 3, MaxAge: time.Hour})

	// Enqueued two hours ago: past the age bound before any attempt
	stale := testItem(time.Now().Add(-2 * time.Hour))
	queue.Push(stale)

	p.Start()
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return m.GetSnapshot().ItemsDiscardedExpired == 1
	}, "Stale item was not discarded")

	if got := uploader.totalAttempts(); got != 0 {
		t.Errorf("Expired item cost %d network attempts, want 0", got)
	}
}

func TestProcessorDiscardsItemExpiringInFlight(t *testing.T) {
	uploader := &fakeUploader{
		delay: 100 * time.Millisecond,
		outcome: func(item *Item, attempt int) error {
			return fmt.Errorf("HTTP error 502: bad gateway")
		},
	}
	p, queue, m := newTestProcessor(t, uploader, ProcessorConfig{MaxRetries: 10, MaxAge: 80 * time.Millisecond})

	// Fresh enough to attempt, old enough to expire while in flight
	item := testItem(time.Now())
	queue.Push(item)

	p.Start()
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return m.GetSnapshot().ItemsDiscardedExpired == 1
	}, "In-flight-expired item was not discarded")

	// Expiry wins over the remaining retry allowance
	if got := uploader.attemptCount(item); got != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", got)
	}
	if m.GetSnapshot().ItemsDiscardedExhausted != 0 {
		t.Error("In-flight expiry was misclassified as retry exhaustion")
	}
}

func TestProcessorFailingItemDoesNotBlockOthers(t *testing.T) {
	base := time.Now()
	poison := testItem(base)
	healthy := testItem(base.Add(10 * time.Second))

	uploader := &fakeUploader{
		outcome: func(item *Item, attempt int) error {
			if item == poison {
				return fmt.Errorf("HTTP error 500: broken")
			}
			return nil
		},
	}
	p, queue, m := newTestProcessor(t, uploader, ProcessorConfig{MaxRetries: 3, MaxAge: time.Hour})

	queue.Push(poison)
	queue.Push(healthy)

	p.Start()
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return m.GetSnapshot().ItemsDelivered == 1
	}, "Healthy item was starved by a failing one")

	if got := uploader.attemptCount(healthy); got != 1 {
		t.Errorf("Expected 1 attempt for the healthy item, got %d", got)
	}
}

func TestProcessorStopIsIdempotent(t *testing.T) {
	uploader := &fakeUploader{}
	p, queue, _ := newTestProcessor(t, uploader, ProcessorConfig{MaxRetries: 3, MaxAge: time.Hour})

	queue.Push(testItem(time.Now()))

	p.Start()
	p.Start()
	p.Stop()
	p.Stop()
}
