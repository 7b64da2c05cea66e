package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Justiceleeg/always-on-app/internal/audio"
	"github.com/Justiceleeg/always-on-app/internal/delivery"
	"github.com/Justiceleeg/always-on-app/internal/location"
	"github.com/Justiceleeg/always-on-app/internal/metrics"
	"github.com/Justiceleeg/always-on-app/internal/vad"
)

// stopGrace bounds how long Stop waits for the capture loop to notice the
// stop signal before forcing the source closed.
const stopGrace = 2 * time.Second

// EngineConfig contains the capture window geometry.
type EngineConfig struct {
	SampleRate      int           // 16000 Hz, fixed by the downstream service
	Channels        int           // 1 (mono)
	WindowDuration  time.Duration // delivery granularity, e.g. 10s
	OverlapDuration time.Duration // continuity across boundaries, < WindowDuration
	FrameSize       int           // samples per source read
}

// Validate checks the window geometry.
func (c EngineConfig) Validate() error {
	src := audio.SourceConfig{SampleRate: c.SampleRate, Channels: c.Channels, FrameSize: c.FrameSize}
	if err := src.Validate(); err != nil {
		return err
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("window duration must be positive, got %v", c.WindowDuration)
	}
	if c.OverlapDuration < 0 || c.OverlapDuration >= c.WindowDuration {
		return fmt.Errorf("overlap duration must be non-negative and less than window duration, got %v", c.OverlapDuration)
	}
	return nil
}

func (c EngineConfig) sourceConfig() audio.SourceConfig {
	return audio.SourceConfig{SampleRate: c.SampleRate, Channels: c.Channels, FrameSize: c.FrameSize}
}

// windowBytes is the fixed window size: duration x sample rate x 2 bytes.
func (c EngineConfig) windowBytes() int {
	samples := int(c.WindowDuration.Seconds() * float64(c.SampleRate))
	return samples * c.Channels * 2
}

func (c EngineConfig) overlapBytes() int {
	samples := int(c.OverlapDuration.Seconds() * float64(c.SampleRate))
	return samples * c.Channels * 2
}

// Deps are the engine's collaborators.
type Deps struct {
	Source      audio.SourceFactory
	Gate        *vad.Gate
	Queue       *delivery.Queue
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Permissions PermissionChecker // optional; nil means always granted
	Location    location.Provider // optional; nil means no location
}

// Engine produces a stream of classified, encoded delivery items for as long
// as a session is active. One session runs at a time; the overlap buffer and
// the source handle are owned exclusively by the capture loop.
type Engine struct {
	config EngineConfig
	deps   Deps

	mu      sync.Mutex
	session *session
}

// session is the transient per-start/stop-cycle state.
type session struct {
	source audio.SampleSource

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (s *session) signalStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *session) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// NewEngine creates a capture engine.
func NewEngine(config EngineConfig, deps Deps) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if deps.Source == nil || deps.Gate == nil || deps.Queue == nil || deps.Metrics == nil || deps.Logger == nil {
		return nil, fmt.Errorf("source, gate, queue, metrics, and logger are required")
	}
	if deps.Location == nil {
		deps.Location = location.Nop{}
	}
	return &Engine{config: config, deps: deps}, nil
}

// Start transitions the session to active and launches the capture loop on
// its own goroutine. It returns (false, nil) when a session is already
// active, ErrPermissionDenied when microphone access is missing, and
// ErrSourceUnavailable when the sample source cannot be opened.
func (e *Engine) Start() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return false, nil
	}

	if e.deps.Permissions != nil && !e.deps.Permissions.Granted() {
		return false, ErrPermissionDenied
	}

	source, err := e.deps.Source(e.config.sourceConfig())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	s := &session{
		source: source,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.session = s
	e.deps.Metrics.SetSessionActive(true)

	go e.captureLoop(s)

	e.deps.Logger.Info("Capture session started",
		slog.Int("sample_rate", e.config.SampleRate),
		slog.Duration("window_duration", e.config.WindowDuration),
		slog.Duration("overlap_duration", e.config.OverlapDuration),
	)

	return true, nil
}

// Stop signals the loop to terminate at its next window boundary and waits
// for it. A window still short of its configured duration is discarded, not
// delivered partial. Items already queued are left for the delivery
// processor to drain. No-op when no session is active.
func (e *Engine) Stop() {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()

	if s == nil {
		return
	}

	s.signalStop()

	select {
	case <-s.done:
	case <-time.After(stopGrace):
		// The source read did not return in time; force it closed.
		_ = s.source.Close()
		<-s.done
	}
}

// Cancel tears the session down immediately, discarding any
// partially-assembled window. No-op when no session is active.
func (e *Engine) Cancel() {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()

	if s == nil {
		return
	}

	s.signalStop()
	_ = s.source.Close()
	<-s.done
}

// IsActive reports whether a capture session is currently running.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// captureLoop assembles overlapping windows from the source until stopped or
// the source fails. Loop errors are contained here and surfaced through the
// metrics surface, never past the loop boundary.
func (e *Engine) captureLoop(s *session) {
	defer close(s.done)
	defer func() {
		if err := s.source.Close(); err != nil && !errors.Is(err, audio.ErrSourceClosed) {
			e.deps.Logger.Warn("Error closing sample source", slog.String("error", err.Error()))
		}
		e.deactivate(s)
	}()

	windowBytes := e.config.windowBytes()
	overlapBytes := e.config.overlapBytes()
	frame := make([]byte, e.config.sourceConfig().FrameBytes())

	// overlap carries the trailing tail of the previous window; pending
	// carries fresh bytes that overflowed the previous window boundary.
	var overlap []byte
	var pending []byte

	for {
		if s.stopping() {
			return
		}

		window := make([]byte, 0, windowBytes+len(frame))
		window = append(window, overlap...)
		seeded := len(window)
		window = append(window, pending...)
		pending = nil

		windowStart := time.Now()
		for len(window) < windowBytes {
			if s.stopping() {
				// Interrupted mid-assembly: a short window produces an
				// unreliable VAD decision, so it is discarded.
				return
			}
			n, err := s.source.ReadFrame(frame)
			if err != nil {
				if s.stopping() || errors.Is(err, audio.ErrSourceClosed) {
					return
				}
				e.deps.Logger.Error("Sample source read failed, ending session",
					slog.String("error", err.Error()),
				)
				e.deps.Metrics.RecordSourceError()
				return
			}
			window = append(window, frame[:n]...)
		}
		windowEnd := time.Now()

		if len(window) > windowBytes {
			pending = append(pending, window[windowBytes:]...)
			window = window[:windowBytes]
		}

		// Only the newly captured portion feeds the gate; overlap samples
		// were already counted in the previous window.
		if e.deps.Gate.ClassifyPCM(window[seeded:]) {
			e.enqueueWindow(window, windowStart, windowEnd)
		} else {
			e.deps.Metrics.RecordWindowFiltered()
		}

		if overlapBytes > 0 {
			// Copied, not sliced: the enqueued item must not share backing
			// storage with the next window.
			overlap = make([]byte, overlapBytes)
			copy(overlap, window[windowBytes-overlapBytes:])
		}
	}
}

// enqueueWindow encodes a speech window and pushes it onto the delivery queue
// with its timestamps and a best-effort location snapshot.
func (e *Engine) enqueueWindow(window []byte, windowStart, windowEnd time.Time) {
	payload, err := audio.EncodePCM(window, e.config.SampleRate)
	if err != nil {
		e.deps.Logger.Error("Failed to encode window", slog.String("error", err.Error()))
		return
	}

	item := &delivery.Item{
		Payload:     payload,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		CreatedAt:   time.Now(),
	}
	if coords, ok := e.deps.Location.Current(); ok {
		c := coords
		item.Location = &c
	}

	if evicted := e.deps.Queue.Push(item); evicted != nil {
		e.deps.Metrics.RecordQueueDropped()
		e.deps.Logger.Warn("Item discarded",
			slog.String("reason", delivery.DiscardQueueFull.String()),
			slog.Time("window_start", evicted.WindowStart),
			slog.Time("window_end", evicted.WindowEnd),
			slog.Int("retry_count", evicted.RetryCount),
		)
	}
	e.deps.Metrics.RecordItemEnqueued()
	e.deps.Metrics.RecordWindowCaptured(len(payload))
	e.deps.Metrics.SetQueueSize(e.deps.Queue.Len())

	e.deps.Logger.Debug("Speech window enqueued",
		slog.Time("window_start", windowStart),
		slog.Time("window_end", windowEnd),
		slog.Int("payload_bytes", len(payload)),
		slog.Bool("has_location", item.Location != nil),
	)
}

func (e *Engine) deactivate(s *session) {
	e.mu.Lock()
	if e.session == s {
		e.session = nil
	}
	e.mu.Unlock()
	e.deps.Metrics.SetSessionActive(false)
	e.deps.Logger.Info("Capture session ended")
}
