package audio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoSource is a SampleSource backed by a miniaudio capture device. The
// miniaudio backend delivers audio through a push callback; MalgoSource
// buffers those pushes and serves them to callers as a blocking pull.
type MalgoSource struct {
	cfg    SourceConfig
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

// NewMalgoSource opens the default capture device in the requested format and
// starts capturing. Failures to initialize or start the device are reported
// as ErrDeviceBusy so callers can map them to a session start failure.
func NewMalgoSource(cfg SourceConfig) (SampleSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid source config: %w", err)
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrDeviceBusy, err)
	}

	s := &MalgoSource{
		cfg: cfg,
		ctx: ctx,
		buf: make([]byte, 0, cfg.FrameBytes()*4),
	}
	s.cond = sync.NewCond(&s.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.FrameSize)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.push(input)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: init device: %v", ErrDeviceBusy, err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: start device: %v", ErrDeviceBusy, err)
	}

	return s, nil
}

// maxBufferedFrames bounds the backlog between the device callback and the
// pulling reader. A stalled reader loses the oldest audio, not memory.
const maxBufferedFrames = 64

// push appends callback data to the internal buffer and wakes readers.
func (s *MalgoSource) push(input []byte) {
	if len(input) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf = append(s.buf, input...)
	if maxBytes := maxBufferedFrames * s.cfg.FrameBytes(); len(s.buf) > maxBytes {
		excess := len(s.buf) - maxBytes
		copy(s.buf, s.buf[excess:])
		s.buf = s.buf[:maxBytes]
	}
	s.cond.Broadcast()
}

// ReadFrame blocks until len(buf) bytes of captured audio are available or
// the source is closed.
func (s *MalgoSource) ReadFrame(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) < len(buf) {
		if s.closed {
			return 0, ErrSourceClosed
		}
		s.cond.Wait()
	}

	n := copy(buf, s.buf[:len(buf)])
	s.buf = s.buf[n:]
	return n, nil
}

// Close stops the device, releases the backend context, and unblocks any
// pending ReadFrame with ErrSourceClosed. Close is idempotent.
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.device.Uninit()
	err := s.ctx.Uninit()
	s.ctx.Free()
	return err
}
