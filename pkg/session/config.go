package session

import (
	"errors"
	"time"
)

// Defaults for coordinator tunables.
const (
	// DefaultSilenceDuration is how long the user must stay silent
	// before a reply is requested.
	DefaultSilenceDuration = 1000 * time.Millisecond

	// DefaultHalfDuplexRelease is how long the microphone stays gated
	// after assistant audio stops.
	DefaultHalfDuplexRelease = 800 * time.Millisecond

	// DefaultPollInterval is how often assistant audio activity is
	// sampled for the half-duplex gate.
	DefaultPollInterval = 100 * time.Millisecond
)

// Config holds coordinator settings.
type Config struct {
	// Endpoint is the dialogue service WebSocket URL.
	Endpoint string

	// Voice is the synthesized voice requested from the service.
	Voice string

	// Instructions is the system prompt for the session.
	Instructions string

	// SilenceDuration is the quiet period that ends the user's turn.
	SilenceDuration time.Duration

	// HalfDuplexRelease keeps the microphone gated for this long after
	// assistant audio stops, so the tail of the reply is not captured
	// as user speech.
	HalfDuplexRelease time.Duration

	// PollInterval is the audio activity sampling period.
	PollInterval time.Duration
}

// Option configures a coordinator.
type Option func(*Config)

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Voice:             "alloy",
		SilenceDuration:   DefaultSilenceDuration,
		HalfDuplexRelease: DefaultHalfDuplexRelease,
		PollInterval:      DefaultPollInterval,
	}
}

// WithEndpoint sets the dialogue service endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// WithVoice sets the synthesized voice.
func WithVoice(voice string) Option {
	return func(c *Config) {
		c.Voice = voice
	}
}

// WithInstructions sets the session system prompt.
func WithInstructions(instructions string) Option {
	return func(c *Config) {
		c.Instructions = instructions
	}
}

// WithSilenceDuration sets the end-of-turn silence window.
func WithSilenceDuration(d time.Duration) Option {
	return func(c *Config) {
		c.SilenceDuration = d
	}
}

// WithHalfDuplexRelease sets the post-playback microphone gate window.
func WithHalfDuplexRelease(d time.Duration) Option {
	return func(c *Config) {
		c.HalfDuplexRelease = d
	}
}

// WithPollInterval sets the audio activity sampling period.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("session: endpoint is required")
	}
	if c.SilenceDuration <= 0 {
		return errors.New("session: silence duration must be positive")
	}
	if c.HalfDuplexRelease < 0 {
		return errors.New("session: half-duplex release must not be negative")
	}
	if c.PollInterval <= 0 {
		return errors.New("session: poll interval must be positive")
	}
	return nil
}
