// Package protocol defines the wire messages exchanged with the
// realtime dialogue service over the duplex channel.
//
// Outbound control messages and inbound events are JSON objects with a
// "type" field. Outbound audio is sent as raw binary frames of PCM16
// little-endian samples with no framing header; inbound binary frames
// are dispatched under the synthetic TypeAudio.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Outbound message types.
const (
	TypeSessionUpdate          = "session.update"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
	TypeConversationItemCreate = "conversation.item.create"
)

// Inbound event types.
const (
	TypeInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeResponseAudioDelta          = "response.audio.delta"
	TypeResponseCreated             = "response.created"
	TypeResponseDone                = "response.done"
	TypeResponseCancelled           = "response.cancelled"
	TypeOutputTextDelta             = "conversation.item.output_text.delta"
	TypeOutputTextDone              = "conversation.item.output_text.done"
	TypeAudioTranscriptDelta        = "response.audio_transcript.delta"
	TypeAudioTranscriptDone         = "response.audio_transcript.done"
	TypeError                       = "error"
)

// Synthetic dispatch types used by the channel manager.
const (
	// TypeAudio is the handler key for inbound binary frames.
	TypeAudio = "audio"
	// TypeWildcard is the catch-all handler key.
	TypeWildcard = "*"
)

// Event is an inbound message from the dialogue service. Only the
// fields relevant to the event's type are populated.
type Event struct {
	Type       string        `json:"type"`
	Transcript string        `json:"transcript,omitempty"`
	Delta      string        `json:"delta,omitempty"`
	Text       string        `json:"text,omitempty"`
	ResponseID string        `json:"response_id,omitempty"`
	Response   *ResponseInfo `json:"response,omitempty"`
	Message    string        `json:"message,omitempty"`
	Error      *ErrorDetail  `json:"error,omitempty"`

	// Binary holds the payload of an inbound binary frame. It is set
	// only for synthetic TypeAudio events and never appears on the wire
	// as JSON.
	Binary []byte `json:"-"`
}

// ResponseInfo identifies an in-flight assistant response.
type ResponseInfo struct {
	ID string `json:"id"`
}

// ErrorDetail carries a structured error payload.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseEvent parses an inbound JSON event.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("protocol: parse event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("protocol: event missing type")
	}
	return &ev, nil
}

// ErrorMessage extracts a human-readable error message with best effort:
// the top-level message field, then the nested error payload.
func (e *Event) ErrorMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return "unknown error"
}

// AudioDelta decodes the event's base64 PCM16 payload.
func (e *Event) AudioDelta() ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(e.Delta)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode audio delta: %w", err)
	}
	return decoded, nil
}

// CancelledID returns the response id a cancellation acknowledgement
// refers to, checking the top-level field before the nested response.
func (e *Event) CancelledID() string {
	if e.ResponseID != "" {
		return e.ResponseID
	}
	if e.Response != nil {
		return e.Response.ID
	}
	return ""
}
