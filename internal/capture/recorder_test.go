package capture

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Justiceleeg/always-on-app/internal/audio"
)

func testRecorderConfig() RecorderConfig {
	return RecorderConfig{
		SampleRate:  100,
		Channels:    1,
		FrameSize:   10,
		MinDuration: time.Second,     // 200 bytes
		MaxDuration: 2 * time.Second, // 400 bytes
	}
}

func newTestRecorder(t *testing.T, source audio.SampleSource) *Recorder {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := func(audio.SourceConfig) (audio.SampleSource, error) { return source, nil }

	recorder, err := NewRecorder(testRecorderConfig(), factory, logger, nil)
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	return recorder
}

func TestRecorderStopsAtMaxDuration(t *testing.T) {
	source := newFakeSource()
	source.gen = func(read int) []byte {
		return counterFrame(20000, 10)
	}

	recorder := newTestRecorder(t, source)

	started, err := recorder.Start()
	if err != nil || !started {
		t.Fatalf("Start failed: started=%v err=%v", started, err)
	}

	// 400 bytes of audio is 20 frames; the loop must stop on its own
	waitFor(t, 2*time.Second, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return source.reads >= 20
	}, "Recording did not reach the maximum duration")

	wav, err := recorder.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	info, err := audio.GetWAVInfo(wav)
	if err != nil {
		t.Fatalf("Recorder produced invalid WAV: %v", err)
	}
	// Capped exactly at the maximum, even if the source produced more
	if info.DataSize != 400 {
		t.Errorf("Expected 400 data bytes, got %d", info.DataSize)
	}
	if info.SampleRate != 100 {
		t.Errorf("Expected sample rate 100, got %d", info.SampleRate)
	}

	if recorder.IsActive() {
		t.Error("Recorder still active after Stop")
	}
}

func TestRecorderRejectsShortRecording(t *testing.T) {
	source := newFakeSource()
	// Half the minimum, then the source ends
	for i := 0; i < 5; i++ {
		source.pending = append(source.pending, counterFrame(20000, 10))
	}
	source.finalErr = audio.ErrSourceClosed

	recorder := newTestRecorder(t, source)

	if _, err := recorder.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return len(source.pending) == 0
	}, "Source frames were not consumed")

	_, err := recorder.Stop()
	if !errors.Is(err, ErrRecordingTooShort) {
		t.Errorf("Expected ErrRecordingTooShort, got %v", err)
	}
}

func TestRecorderCancelDiscards(t *testing.T) {
	source := newFakeSource()
	source.gen = func(read int) []byte {
		return counterFrame(20000, 10)
	}

	recorder := newTestRecorder(t, source)

	if _, err := recorder.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	recorder.Cancel()

	if recorder.IsActive() {
		t.Error("Recorder still active after Cancel")
	}
	if _, err := recorder.Stop(); err == nil {
		t.Error("Stop after Cancel should report no recording in progress")
	}
}

func TestRecorderDoubleStart(t *testing.T) {
	source := newFakeSource()
	source.gen = func(read int) []byte {
		return counterFrame(20000, 10)
	}

	recorder := newTestRecorder(t, source)

	started, err := recorder.Start()
	if err != nil || !started {
		t.Fatalf("First start failed: started=%v err=%v", started, err)
	}
	defer recorder.Cancel()

	started, err = recorder.Start()
	if err != nil {
		t.Errorf("Second start returned error: %v", err)
	}
	if started {
		t.Error("Second start reported a new recording")
	}
}

func TestRecorderConfigValidation(t *testing.T) {
	valid := testRecorderConfig()

	tests := []struct {
		name   string
		mutate func(*RecorderConfig)
	}{
		{"zero min duration", func(c *RecorderConfig) { c.MinDuration = 0 }},
		{"max not above min", func(c *RecorderConfig) { c.MaxDuration = c.MinDuration }},
		{"zero sample rate", func(c *RecorderConfig) { c.SampleRate = 0 }},
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
}
