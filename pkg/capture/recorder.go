// Package capture records microphone audio, frames it into fixed-size
// buffers, and classifies each frame as speech or silence by its mean
// absolute amplitude.
package capture

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/kioskworks/go-kiosk/internal/log"
	"github.com/kioskworks/go-kiosk/pkg/audioio"
)

const (
	// FrameSamples is the number of samples per emitted frame.
	FrameSamples = 4096

	// SpeakingThreshold is the normalized mean absolute amplitude above
	// which a frame counts as speech.
	SpeakingThreshold = 0.005
)

// ChunkFunc receives each captured frame as raw PCM16 bytes.
type ChunkFunc func(pcm []byte)

// SpeakingFunc is invoked on speech/silence transitions only.
type SpeakingFunc func(speaking bool)

// Recorder frames audio from a Source into FrameSamples-sized buffers
// and reports speaking transitions. One recorder drives one source.
type Recorder struct {
	source audioio.Source
	logger *slog.Logger

	mu        sync.RWMutex
	recording bool
	speaking  bool
	level     float64
	cancel    context.CancelFunc

	wg sync.WaitGroup
}

// NewRecorder creates a recorder over the given source.
func NewRecorder(source audioio.Source) *Recorder {
	return &Recorder{
		source: source,
		logger: log.With("component", "capture"),
	}
}

// Start opens the source and begins delivering frames. onChunk receives
// every frame; onSpeakingChange fires only when the speech/silence
// classification flips. Either callback may be nil.
func (r *Recorder) Start(ctx context.Context, onChunk ChunkFunc, onSpeakingChange SpeakingFunc) error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}

	if err := r.source.Start(ctx); err != nil {
		r.mu.Unlock()
		return &MicrophoneAccessError{
			Device: r.source.Config().Device,
			Cause:  err,
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.recording = true
	r.speaking = false
	r.level = 0
	r.mu.Unlock()

	r.wg.Add(1)
	go r.captureLoop(runCtx, onChunk, onSpeakingChange)

	r.logger.Info("recording started",
		"sample_rate", r.source.Config().SampleRate,
		"frame_samples", FrameSamples)
	return nil
}

// Stop halts capture. It is safe to call multiple times.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil
	}
	r.recording = false
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := r.source.Stop()
	r.wg.Wait()

	r.logger.Info("recording stopped")
	return err
}

// IsRecording reports whether the recorder is active.
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Level returns the normalized mean absolute amplitude of the most
// recent frame, in [0, 1].
func (r *Recorder) Level() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.level
}

// IsSpeaking reports the current speech classification.
func (r *Recorder) IsSpeaking() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.speaking
}

func (r *Recorder) captureLoop(ctx context.Context, onChunk ChunkFunc, onSpeakingChange SpeakingFunc) {
	defer r.wg.Done()

	// Source buffers rarely align with the frame size, so samples are
	// accumulated and re-framed here.
	pending := make([]int16, 0, FrameSamples*2)

	stream := r.source.Stream()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			pending = append(pending, chunk.Samples...)
			for len(pending) >= FrameSamples {
				frame := make([]int16, FrameSamples)
				copy(frame, pending[:FrameSamples])
				pending = pending[FrameSamples:]
				r.emitFrame(frame, onChunk, onSpeakingChange)
			}
		}
	}
}

func (r *Recorder) emitFrame(frame []int16, onChunk ChunkFunc, onSpeakingChange SpeakingFunc) {
	level := audioio.MeanAbsLevel(frame)
	speaking := level > SpeakingThreshold

	r.mu.Lock()
	r.level = level
	transition := speaking != r.speaking
	r.speaking = speaking
	r.mu.Unlock()

	if onChunk != nil {
		onChunk(audioio.SamplesToBytes(frame))
	}
	if transition && onSpeakingChange != nil {
		r.logger.Debug("speaking transition",
			"speaking", speaking,
			"level", math.Round(level*10000)/10000)
		onSpeakingChange(speaking)
	}
}
