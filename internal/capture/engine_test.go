package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Justiceleeg/always-on-app/internal/audio"
	"github.com/Justiceleeg/always-on-app/internal/delivery"
	"github.com/Justiceleeg/always-on-app/internal/location"
	"github.com/Justiceleeg/always-on-app/internal/metrics"
	"github.com/Justiceleeg/always-on-app/internal/vad"
)

// Small geometry keeps the tests fast: 100 Hz sampling, 1 s windows of 100
// samples, 200 ms overlap of 20 samples, 10-sample frames.
func testEngineConfig() EngineConfig {
	return EngineConfig{
		SampleRate:      100,
		Channels:        1,
		WindowDuration:  time.Second,
		OverlapDuration: 200 * time.Millisecond,
		FrameSize:       10,
	}
}

// fakeSource replays scripted frames, then an optional infinite generator,
// then either a terminal error or a block until Close.
type fakeSource struct {
	mu       sync.Mutex
	pending  [][]byte
	gen      func(read int) []byte
	reads    int
	finalErr error

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{closed: make(chan struct{})}
}

func (f *fakeSource) ReadFrame(buf []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, audio.ErrSourceClosed
	default:
	}

	f.mu.Lock()
	if len(f.pending) > 0 {
		frame := f.pending[0]
		f.pending = f.pending[1:]
		f.reads++
		f.mu.Unlock()
		return copy(buf, frame), nil
	}
	gen := f.gen
	read := f.reads
	finalErr := f.finalErr
	if gen != nil {
		f.reads++
	}
	f.mu.Unlock()

	if gen != nil {
		return copy(buf, gen(read)), nil
	}
	if finalErr != nil {
		return 0, finalErr
	}

	<-f.closed
	return 0, audio.ErrSourceClosed
}

func (f *fakeSource) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// counterFrame encodes frameSize consecutive sample values starting at base.
func counterFrame(base, frameSize int) []byte {
	frame := make([]byte, frameSize*2)
	for i := 0; i < frameSize; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(int16(base+i)))
	}
	return frame
}

func newTestEngine(t *testing.T, source audio.SampleSource, opts ...func(*Deps)) (*Engine, *delivery.Queue, *metrics.Metrics) {
	t.Helper()

	gate, err := vad.NewGate(50.0)
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}

	queue := delivery.NewQueue(0)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps := Deps{
		Source:  func(audio.SourceConfig) (audio.SampleSource, error) { return source, nil },
		Gate:    gate,
		Queue:   queue,
		Metrics: m,
		Logger:  logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	engine, err := NewEngine(testEngineConfig(), deps)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine, queue, m
}

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

func TestEngineWindowOverlapContinuity(t *testing.T) {
	source := newFakeSource()
	source.gen = func(read int) []byte {
		// Monotonically increasing loud samples so each byte is identifiable
		return counterFrame(1000+read*10, 10)
	}

	engine, queue, _ := newTestEngine(t, source)

	started, err := engine.Start()
	if err != nil || !started {
		t.Fatalf("Start failed: started=%v err=%v", started, err)
	}

	waitFor(t, 2*time.Second, func() bool { return queue.Len() >= 2 }, "Expected two windows enqueued")
	engine.Cancel()

	first, ok := queue.Pop()
	if !ok {
		t.Fatal("Missing first window")
	}
	second, ok := queue.Pop()
	if !ok {
		t.Fatal("Missing second window")
	}

	// Strip the 44-byte WAV header to compare raw PCM
	firstPCM := first.Payload[audio.HeaderSize:]
	secondPCM := second.Payload[audio.HeaderSize:]

	if len(firstPCM) != 200 || len(secondPCM) != 200 {
		t.Fatalf("Expected 200-byte windows, got %d and %d", len(firstPCM), len(secondPCM))
	}

	// The second window must begin with the last 40 bytes of the first
	tail := firstPCM[len(firstPCM)-40:]
	head := secondPCM[:40]
	for i := range tail {
		if head[i] != tail[i] {
			t.Fatalf("Overlap broken at byte %d: expected %d, got %d", i, tail[i], head[i])
		}
	}

	// Fresh content continues exactly where the first window ended
	expectedNext := int16(1000 + 100)
	gotNext := int16(binary.LittleEndian.Uint16(secondPCM[40:]))
	if gotNext != expectedNext {
		t.Errorf("Expected fresh content to start at sample %d, got %d", expectedNext, gotNext)
	}
}

func TestEngineFiltersSilentWindows(t *testing.T) {
	source := newFakeSource()
	source.gen = func(read int) []byte {
		return make([]byte, 20) // all-zero frames
	}

	engine, queue, m := newTestEngine(t, source)

	if _, err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return m.GetSnapshot().WindowsFiltered >= 3
	}, "Silent windows were not filtered")
	engine.Cancel()

	if queue.Len() != 0 {
		t.Errorf("Silent windows reached the queue: %d items", queue.Len())
	}
	if m.GetSnapshot().WindowsCaptured != 0 {
		t.Error("Silent windows were counted as captured")
	}
}

func TestEnginePartialWindowDiscardedOnCancel(t *testing.T) {
	source := newFakeSource()
	// Three loud frames, then block: the window never completes
	for i := 0; i < 3; i++ {
		source.pending = append(source.pending, counterFrame(20000, 10))
	}

	engine, queue, m := newTestEngine(t, source)

	if _, err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return len(source.pending) == 0
	}, "Source frames were not consumed")

	engine.Cancel()

	if queue.Len() != 0 {
		t.Errorf("Partial window was enqueued: %d items", queue.Len())
	}
	if m.GetSnapshot().WindowsCaptured != 0 {
		t.Error("Partial window was counted as captured")
	}
	if engine.IsActive() {
		t.Error("Session still active after Cancel")
	}
}

func TestEngineStopDiscardsPartialWindow(t *testing.T) {
	source := newFakeSource()
	source.gen = func(read int) []byte {
		return counterFrame(20000, 10)
	}

	engine, queue, m := newTestEngine(t, source)

	if _, err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let at least one full window through so Stop lands mid-assembly
	waitFor(t, 2*time.Second, func() bool { return queue.Len() >= 1 }, "No window enqueued")

	engine.Stop()

	if engine.IsActive() {
		t.Error("Session still active after Stop")
	}

	// Everything enqueued must be a complete window; the in-progress one
	// at stop time is discarded, never delivered short.
	delivered := 0
	for {
		item, ok := queue.Pop()
		if !ok {
			break
		}
		delivered++
		if got := len(item.Payload) - audio.HeaderSize; got != 200 {
			t.Errorf("Window %d has %d PCM bytes, want 200", delivered, got)
		}
	}
	if got := int(m.GetSnapshot().WindowsCaptured); got != delivered {
		t.Errorf("Captured count %d does not match delivered windows %d", got, delivered)
	}
}

func TestEngineStopForcesBlockedSourceClosed(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the stop grace period")
	}

	source := newFakeSource()
	// Three loud frames, then the source blocks until closed
	for i := 0; i < 3; i++ {
		source.pending = append(source.pending, counterFrame(20000, 10))
	}

	engine, queue, _ := newTestEngine(t, source)

	if _, err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return len(source.pending) == 0
	}, "Source frames were not consumed")

	// The loop is parked in a blocking read; Stop must force the source
	// closed after the grace period rather than hang.
	start := time.Now()
	engine.Stop()
	if elapsed := time.Since(start); elapsed < stopGrace {
		t.Errorf("Stop returned after %v, before the %v grace period", elapsed, stopGrace)
	}

	if engine.IsActive() {
		t.Error("Session still active after forced stop")
	}
	if queue.Len() != 0 {
		t.Errorf("Partial window was enqueued: %d items", queue.Len())
	}
}

func TestEngineSessionEndsWhenSourceExhausted(t *testing.T) {
	source := newFakeSource()
	// Exactly one full loud window, then the source reports closure
	for i := 0; i < 10; i++ {
		source.pending = append(source.pending, counterFrame(20000, 10))
	}
	source.finalErr = audio.ErrSourceClosed

	engine, queue, m := newTestEngine(t, source)

	if _, err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return !engine.IsActive() }, "Session did not end")

	if queue.Len() != 1 {
		t.Errorf("Expected 1 window enqueued, got %d", queue.Len())
	}
	if m.GetSnapshot().SourceErrors != 0 {
		t.Error("Clean source closure was counted as a source error")
	}
}

func TestEngineSourceErrorEndsSession(t *testing.T) {
	source := newFakeSource()
	source.pending = append(source.pending, counterFrame(20000, 10))
	source.finalErr = fmt.Errorf("device disappeared")

	engine, _, m := newTestEngine(t, source)

	if _, err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return !engine.IsActive() }, "Session did not end on source error")

	if m.GetSnapshot().SourceErrors != 1 {
		t.Errorf("Expected 1 source error recorded, got %d", m.GetSnapshot().SourceErrors)
	}
	if m.GetSnapshot().SessionActive {
		t.Error("Session still reported active after source error")
	}
}

func TestEngineStartPreconditions(t *testing.T) {
	t.Run("permission denied", func(t *testing.T) {
		engine, _, _ := newTestEngine(t, newFakeSource(), func(d *Deps) {
			d.Permissions = PermissionFunc(func() bool { return false })
		})

		started, err := engine.Start()
		if started {
			t.Error("Session started without permission")
		}
		if !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("Expected ErrPermissionDenied, got %v", err)
		}
	})

	t.Run("source unavailable", func(t *testing.T) {
		engine, _, _ := newTestEngine(t, newFakeSource(), func(d *Deps) {
			d.Source = func(audio.SourceConfig) (audio.SampleSource, error) {
				return nil, audio.ErrDeviceBusy
			}
		})

		started, err := engine.Start()
		if started {
			t.Error("Session started with an unavailable source")
		}
		if !errors.Is(err, ErrSourceUnavailable) {
			t.Errorf("Expected ErrSourceUnavailable, got %v", err)
		}
	})

	t.Run("double start", func(t *testing.T) {
		engine, _, _ := newTestEngine(t, newFakeSource())

		started, err := engine.Start()
		if err != nil || !started {
			t.Fatalf("First start failed: started=%v err=%v", started, err)
		}
		defer engine.Cancel()

		started, err = engine.Start()
		if err != nil {
			t.Errorf("Second start returned error: %v", err)
		}
		if started {
			t.Error("Second start reported a new session")
		}
	})
}

func TestEngineBoundedQueueEvictsOldest(t *testing.T) {
	source := newFakeSource()
	source.gen = func(read int) []byte {
		return counterFrame(1000+read*10, 10)
	}

	bounded := delivery.NewQueue(1)
	engine, _, m := newTestEngine(t, source, func(d *Deps) {
		d.Queue = bounded
	})

	if _, err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return m.GetSnapshot().QueueDropped >= 1
	}, "Full queue never evicted")
	engine.Cancel()

	snapshot := m.GetSnapshot()
	if bounded.Len() != 1 {
		t.Errorf("Bounded queue holds %d items, want 1", bounded.Len())
	}
	if snapshot.ItemsEnqueued <= snapshot.QueueDropped {
		t.Errorf("Enqueued %d should exceed dropped %d", snapshot.ItemsEnqueued, snapshot.QueueDropped)
	}

	// The survivor is the newest window: its PCM must not start at the
	// stream origin.
	item, ok := bounded.Pop()
	if !ok {
		t.Fatal("Bounded queue unexpectedly empty")
	}
	firstSample := int16(binary.LittleEndian.Uint16(item.Payload[audio.HeaderSize:]))
	if firstSample == 1000 {
		t.Error("Oldest window survived eviction")
	}
}

func TestEngineAttachesLocation(t *testing.T) {
	source := newFakeSource()
	source.gen = func(read int) []byte {
		return counterFrame(20000, 10)
	}

	coords := location.Coordinates{Latitude: 50.45, Longitude: 30.52}
	engine, queue, _ := newTestEngine(t, source, func(d *Deps) {
		d.Location = location.Static{Coords: coords}
	})

	if _, err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return queue.Len() >= 1 }, "No window enqueued")
	engine.Cancel()

	item, _ := queue.Pop()
	if item.Location == nil {
		t.Fatal("Expected location on the item")
	}
	if *item.Location != coords {
		t.Errorf("Expected %+v, got %+v", coords, *item.Location)
	}
}

func TestEngineConfigValidation(t *testing.T) {
	valid := testEngineConfig()

	tests := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"zero sample rate", func(c *EngineConfig) { c.SampleRate = 0 }},
		{"stereo", func(c *EngineConfig) { c.Channels = 2 }},
		{"zero window", func(c *EngineConfig) { c.WindowDuration = 0 }},
		{"overlap equals window", func(c *EngineConfig) { c.OverlapDuration = c.WindowDuration }},
		{"negative overlap", func(c *EngineConfig) { c.OverlapDuration = -time.Second }},
		{"zero frame size", func(c *EngineConfig) { c.FrameSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}

	if err := valid.Validate(); err != nil {
		t.Errorf("Valid config rejected: %v", err)
	}
}
