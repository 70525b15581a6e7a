package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRecording is returned when Start is called on an active
	// recorder.
	ErrAlreadyRecording = errors.New("capture: already recording")
)

// MicrophoneAccessError indicates the audio input device could not be
// opened. It is surfaced to the caller so a kiosk UI can tell the user
// to check the microphone rather than treating it as a generic failure.
type MicrophoneAccessError struct {
	Device string
	Cause  error
}

func (e *MicrophoneAccessError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("capture: microphone %q unavailable: %v", e.Device, e.Cause)
	}
	return fmt.Sprintf("capture: microphone unavailable: %v", e.Cause)
}

func (e *MicrophoneAccessError) Unwrap() error {
	return e.Cause
}

// IsMicrophoneAccess reports whether err is a microphone access
// failure.
func IsMicrophoneAccess(err error) bool {
	var micErr *MicrophoneAccessError
	return errors.As(err, &micErr)
}
