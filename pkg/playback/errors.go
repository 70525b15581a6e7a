package playback

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned when Play is called before Start.
	ErrNotStarted = errors.New("playback: not started")
)

// PlaybackError indicates a single chunk could not be played. The
// player logs it and keeps going; a dropped chunk must never stall the
// rest of the reply.
type PlaybackError struct {
	Cause error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback: chunk failed: %v", e.Cause)
}

func (e *PlaybackError) Unwrap() error {
	return e.Cause
}
