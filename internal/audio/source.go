package audio

import (
	"errors"
	"fmt"
)

// Sentinel errors for sample source acquisition and teardown.
var (
	// ErrDeviceBusy indicates the capture device could not be opened because
	// another process holds it or the backend rejected the configuration.
	ErrDeviceBusy = errors.New("capture device busy or unavailable")

	// ErrSourceClosed is returned from ReadFrame after the source is closed.
	ErrSourceClosed = errors.New("sample source closed")
)

// SourceConfig describes the fixed capture format a SampleSource must honor.
type SourceConfig struct {
	SampleRate int // samples per second, e.g. 16000
	Channels   int // 1 for mono
	FrameSize  int // samples per ReadFrame call
}

// FrameBytes returns the size in bytes of one sample frame.
func (c SourceConfig) FrameBytes() int {
	return c.FrameSize * c.Channels * 2 // 16-bit samples
}

// Validate checks the source configuration.
func (c SourceConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", c.Channels)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameSize)
	}
	return nil
}

// SampleSource abstracts the raw microphone input as a blocking pull of
// fixed-size little-endian PCM-16 frames. Implementations own the underlying
// device handle; Close releases it and unblocks any pending ReadFrame.
type SampleSource interface {
	// ReadFrame fills buf with captured PCM bytes and returns the number of
	// bytes written. It blocks until a full frame is available, the source is
	// closed (ErrSourceClosed), or an unrecoverable device error occurs.
	ReadFrame(buf []byte) (int, error)

	Close() error
}

// SourceFactory opens a SampleSource for a capture session. The engine calls
// it on start and closes the returned source on stop, so a fresh device handle
// is acquired per session.
type SourceFactory func(cfg SourceConfig) (SampleSource, error)
