package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Justiceleeg/always-on-app/internal/audio"
)

// RecorderConfig contains the enrollment recording bounds.
type RecorderConfig struct {
	SampleRate  int
	Channels    int
	FrameSize   int
	MinDuration time.Duration // recordings shorter than this are rejected
	MaxDuration time.Duration // recording stops automatically at this length
}

// Validate checks the recorder configuration.
func (c RecorderConfig) Validate() error {
	src := audio.SourceConfig{SampleRate: c.SampleRate, Channels: c.Channels, FrameSize: c.FrameSize}
	if err := src.Validate(); err != nil {
		return err
	}
	if c.MinDuration <= 0 {
		return fmt.Errorf("min duration must be positive, got %v", c.MinDuration)
	}
	if c.MaxDuration <= c.MinDuration {
		return fmt.Errorf("max duration (%v) must be greater than min duration (%v)", c.MaxDuration, c.MinDuration)
	}
	return nil
}

func (c RecorderConfig) minBytes() int {
	return int(c.MinDuration.Seconds()*float64(c.SampleRate)) * c.Channels * 2
}

func (c RecorderConfig) maxBytes() int {
	return int(c.MaxDuration.Seconds()*float64(c.SampleRate)) * c.Channels * 2
}

// Recorder captures a single bounded voiceprint-enrollment recording. Unlike
// the continuous engine it keeps everything: no windowing, no VAD. Stop
// applies the minimum-duration policy to the residual audio.
type Recorder struct {
	config      RecorderConfig
	source      audio.SourceFactory
	logger      *slog.Logger
	permissions PermissionChecker

	mu      sync.Mutex
	session *recordSession
}

type recordSession struct {
	source audio.SampleSource

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu  sync.Mutex
	buf []byte
}

func (s *recordSession) signalStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *recordSession) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// NewRecorder creates an enrollment recorder.
func NewRecorder(config RecorderConfig, source audio.SourceFactory, logger *slog.Logger, permissions PermissionChecker) (*Recorder, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recorder config: %w", err)
	}
	if source == nil || logger == nil {
		return nil, fmt.Errorf("source and logger are required")
	}
	return &Recorder{
		config:      config,
		source:      source,
		logger:      logger,
		permissions: permissions,
	}, nil
}

// Start begins recording. Same precondition semantics as the engine:
// (false, nil) when already recording, ErrPermissionDenied or
// ErrSourceUnavailable on failed preconditions.
func (r *Recorder) Start() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return false, nil
	}

	if r.permissions != nil && !r.permissions.Granted() {
		return false, ErrPermissionDenied
	}

	cfg := audio.SourceConfig{SampleRate: r.config.SampleRate, Channels: r.config.Channels, FrameSize: r.config.FrameSize}
	source, err := r.source(cfg)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	s := &recordSession{
		source: source,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		buf:    make([]byte, 0, r.config.maxBytes()),
	}
	r.session = s

	go r.recordLoop(s)

	r.logger.Info("Enrollment recording started",
		slog.Duration("min_duration", r.config.MinDuration),
		slog.Duration("max_duration", r.config.MaxDuration),
	)

	return true, nil
}

// Stop ends the recording and returns the residual audio as a WAV container.
// Recordings shorter than the configured minimum are rejected with
// ErrRecordingTooShort; audio beyond the maximum was never captured because
// the loop stops itself at that bound.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()

	if s == nil {
		return nil, fmt.Errorf("no recording in progress")
	}

	s.signalStop()
	select {
	case <-s.done:
	case <-time.After(stopGrace):
		_ = s.source.Close()
		<-s.done
	}

	r.clear(s)

	s.mu.Lock()
	recorded := s.buf
	s.mu.Unlock()

	if len(recorded) < r.config.minBytes() {
		return nil, fmt.Errorf("%w: recorded %v, need at least %v",
			ErrRecordingTooShort, r.recordedDuration(len(recorded)), r.config.MinDuration)
	}

	wav, err := audio.EncodePCM(recorded, r.config.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode recording: %w", err)
	}

	r.logger.Info("Enrollment recording complete",
		slog.Duration("duration", r.recordedDuration(len(recorded))),
		slog.Int("wav_bytes", len(wav)),
	)

	return wav, nil
}

// Cancel aborts the recording and discards the captured audio.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()

	if s == nil {
		return
	}

	s.signalStop()
	_ = s.source.Close()
	<-s.done
	r.clear(s)

	r.logger.Info("Enrollment recording cancelled")
}

// IsActive reports whether a recording is in progress.
func (r *Recorder) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

func (r *Recorder) recordLoop(s *recordSession) {
	defer close(s.done)
	defer func() {
		if err := s.source.Close(); err != nil && !errors.Is(err, audio.ErrSourceClosed) {
			r.logger.Warn("Error closing sample source", slog.String("error", err.Error()))
		}
	}()

	maxBytes := r.config.maxBytes()
	frame := make([]byte, audio.SourceConfig{SampleRate: r.config.SampleRate, Channels: r.config.Channels, FrameSize: r.config.FrameSize}.FrameBytes())

	for {
		if s.stopping() {
			return
		}

		n, err := s.source.ReadFrame(frame)
		if err != nil {
			if !s.stopping() && !errors.Is(err, audio.ErrSourceClosed) {
				r.logger.Error("Sample source read failed during enrollment",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		s.mu.Lock()
		remaining := maxBytes - len(s.buf)
		if n > remaining {
			n = remaining
		}
		s.buf = append(s.buf, frame[:n]...)
		full := len(s.buf) >= maxBytes
		s.mu.Unlock()

		if full {
			// Maximum duration reached; the recording ends itself.
			return
		}
	}
}

func (r *Recorder) clear(s *recordSession) {
	r.mu.Lock()
	if r.session == s {
		r.session = nil
	}
	r.mu.Unlock()
}

func (r *Recorder) recordedDuration(numBytes int) time.Duration {
	samples := numBytes / (r.config.Channels * 2)
	return time.Duration(samples) * time.Second / time.Duration(r.config.SampleRate)
}
