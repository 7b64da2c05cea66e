package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Justiceleeg/always-on-app/internal/metrics"
)

// Uploader performs one delivery attempt for one item. Satisfied by *Client.
type Uploader interface {
	Upload(ctx context.Context, item *Item) (*TranscribeResponse, error)
}

// ProcessorConfig contains the delivery durability bounds.
type ProcessorConfig struct {
	// MaxRetries bounds failed attempts per item; total attempts never
	// exceed MaxRetries+1.
	MaxRetries int

	// MaxAge is the resident-age bound. Items at or past it are discarded
	// without a network call.
	MaxAge time.Duration

	// PollInterval is the idle-queue wake cadence.
	PollInterval time.Duration

	// BackoffStep scales the wait after a failed attempt:
	// backoff(retryCount) = BackoffStep * retryCount.
	BackoffStep time.Duration
}

// Processor is the single consumer draining the delivery queue. Every
// dequeued item ends up delivered, requeued for retry, or discarded for a
// logged cause; errors from the service call never escape the loop.
type Processor struct {
	queue    *Queue
	uploader Uploader
	metrics  *metrics.Metrics
	logger   *slog.Logger
	config   ProcessorConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewProcessor creates a delivery processor. Unset config fields fall back to
// the service defaults: 3 retries (negative only; zero means no retries),
// 1 hour max age, 500ms poll, 1s backoff step.
func NewProcessor(queue *Queue, uploader Uploader, m *metrics.Metrics, logger *slog.Logger, config ProcessorConfig) *Processor {
	// MaxRetries 0 is meaningful (single attempt, no retries), so only
	// negative values fall back to the default.
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}
	if config.MaxAge <= 0 {
		config.MaxAge = time.Hour
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.BackoffStep <= 0 {
		config.BackoffStep = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		queue:    queue,
		uploader: uploader,
		metrics:  m,
		logger:   logger,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the consumer loop. Subsequent calls are no-ops.
func (p *Processor) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run()
	})
}

// Stop signals the loop to terminate and waits for it. An in-flight request
// is allowed to complete or time out on its own terms.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}

// run drains the queue, waking on a bounded poll interval or a push signal.
func (p *Processor) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Delivery processor started",
		slog.Int("max_retries", p.config.MaxRetries),
		slog.Duration("max_age", p.config.MaxAge),
		slog.Duration("poll_interval", p.config.PollInterval),
	)

	for {
		p.drain()

		select {
		case <-p.ctx.Done():
			p.logger.Info("Delivery processor stopping",
				slog.Int("items_left_queued", p.queue.Len()),
			)
			return
		case <-ticker.C:
		case <-p.queue.Wake():
		}
	}
}

// drain processes queued items until the queue is empty or shutdown begins.
func (p *Processor) drain() {
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		item, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.process(item)
		p.metrics.SetQueueSize(p.queue.Len())
	}
}

// process drives one item through a single state-machine step.
func (p *Processor) process(item *Item) {
	now := time.Now()

	// Expiry is checked before attempting so stale items never cost a
	// network call.
	if item.Expired(now, p.config.MaxAge) {
		p.discard(item, DiscardExpired)
		return
	}

	if item.RetryCount > 0 {
		p.metrics.RecordDeliveryRetry()
	}

	// The in-flight request deliberately gets a fresh context: stopping the
	// processor must not cancel an attempt that may already have reached
	// the service. The client's own timeout bounds it.
	startTime := time.Now()
	resp, err := p.uploader.Upload(context.Background(), item)
	elapsed := time.Since(startTime)

	if err == nil {
		p.metrics.RecordItemDelivered(elapsed.Seconds(), resp.FilteredSegments)
		p.logger.Info("Item delivered",
			slog.Time("window_start", item.WindowStart),
			slog.Time("window_end", item.WindowEnd),
			slog.Int("attempts", item.RetryCount+1),
			slog.Int("segments", len(resp.Segments)),
			slog.Int("filtered_segments", resp.FilteredSegments),
			slog.Duration("request_duration", elapsed),
		)
		return
	}

	p.metrics.RecordDeliveryFailure(elapsed.Seconds())
	item.RetryCount++

	p.logger.Warn("Delivery attempt failed",
		slog.Time("window_start", item.WindowStart),
		slog.Int("retry_count", item.RetryCount),
		slog.String("error", err.Error()),
	)

	if item.RetryCount > p.config.MaxRetries {
		p.discard(item, DiscardRetryExhausted)
		return
	}

	// Expiry is re-checked after a failed attempt so an item that aged out
	// while in flight is not requeued.
	if item.Expired(time.Now(), p.config.MaxAge) {
		p.discard(item, DiscardExpired)
		return
	}

	// Linear-in-implementation backoff tied to the attempt count. Waiting
	// here, before the item rejoins the tail, bounds retry storms without a
	// timer heap; the queue has a single consumer so nothing else stalls.
	backoff := time.Duration(item.RetryCount) * p.config.BackoffStep
	select {
	case <-time.After(backoff):
	case <-p.ctx.Done():
		// Shutdown during backoff: requeue without waiting so the item is
		// not lost while the process lives.
	}

	p.queue.Requeue(item)
}

// discard drops an item for cause, distinguishing the reason in both logs
// and metrics.
func (p *Processor) discard(item *Item, reason DiscardReason) {
	switch reason {
	case DiscardExpired:
		p.metrics.RecordItemDiscardedExpired()
	case DiscardRetryExhausted:
		p.metrics.RecordItemDiscardedExhausted()
	}

	p.logger.Warn("Item discarded",
		slog.String("reason", reason.String()),
		slog.Time("window_start", item.WindowStart),
		slog.Time("window_end", item.WindowEnd),
		slog.Int("retry_count", item.RetryCount),
		slog.Duration("age", item.Age(time.Now())),
	)
}
