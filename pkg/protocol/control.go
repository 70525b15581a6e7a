package protocol

// TurnDetection configures voice activity detection on the service side.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// Transcription selects the input transcription model.
type Transcription struct {
	Model string `json:"model"`
}

// SessionConfig is the payload of a session.update message.
type SessionConfig struct {
	Modalities              []string       `json:"modalities"`
	Instructions            string         `json:"instructions,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
}

// DefaultSessionConfig returns the session configuration the kiosk
// requests: text+audio modalities, PCM16 both ways, whisper
// transcription, and server-side VAD.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Modalities:        []string{"text", "audio"},
		Voice:             "alloy",
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &Transcription{
			Model: "whisper-1",
		},
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 1000,
		},
	}
}

// SessionUpdate builds a session.update control message.
func SessionUpdate(cfg SessionConfig) map[string]any {
	return map[string]any{
		"type":    TypeSessionUpdate,
		"session": cfg,
	}
}

// ResponseCreate builds a response.create control message, asking the
// service to start generating a reply.
func ResponseCreate() map[string]any {
	return map[string]any{
		"type": TypeResponseCreate,
	}
}

// ResponseCancel builds a response.cancel control message for the given
// in-flight response.
func ResponseCancel(responseID string) map[string]any {
	msg := map[string]any{
		"type": TypeResponseCancel,
	}
	if responseID != "" {
		msg["response_id"] = responseID
	}
	return msg
}

// UserText builds a conversation.item.create message injecting a
// synthetic user text turn.
func UserText(text string) map[string]any {
	return map[string]any{
		"type": TypeConversationItemCreate,
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{
					"type": "input_text",
					"text": text,
				},
			},
		},
	}
}
