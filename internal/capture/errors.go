package capture

import "errors"

var (
	// ErrPermissionDenied indicates microphone access has not been granted.
	// Start fails synchronously with this; the session never activates.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrSourceUnavailable indicates the sample source could not be opened:
	// invalid capture configuration or the device is busy.
	ErrSourceUnavailable = errors.New("sample source unavailable")

	// ErrRecordingTooShort indicates an enrollment recording ended before
	// reaching the configured minimum duration and was discarded.
	ErrRecordingTooShort = errors.New("recording shorter than minimum duration")
)

// PermissionChecker is a pull-based capability check for microphone access.
// The host platform wires the real check; the pipeline only asks at Start.
type PermissionChecker interface {
	Granted() bool
}

// PermissionFunc adapts a plain function to a PermissionChecker.
type PermissionFunc func() bool

// Granted implements PermissionChecker.
func (f PermissionFunc) Granted() bool {
	return f()
}
