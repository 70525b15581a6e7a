// Package playback schedules assistant audio chunks for gapless
// playback. Chunks queue back to back on a monotonic schedule, with
// short linear fades at each chunk boundary to mask discontinuities,
// and the whole pipeline can be cut instantly when the user barges in.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kioskworks/go-kiosk/internal/log"
	"github.com/kioskworks/go-kiosk/pkg/audioio"
)

const (
	// Prebuffer is the scheduling headroom applied when the queue has
	// drained, so the first chunk of a new burst is never late.
	Prebuffer = 80 * time.Millisecond

	// FadeDuration is the linear fade applied at both edges of every
	// chunk. It is capped at half the chunk's duration.
	FadeDuration = 5 * time.Millisecond
)

// ErrorFunc receives playback errors for chunks that were dropped.
type ErrorFunc func(error)

type scheduledChunk struct {
	timer *time.Timer
	end   time.Time
}

// Player schedules PCM16 chunks on one Sink. All methods are safe for
// concurrent use.
type Player struct {
	sink   audioio.Sink
	logger *slog.Logger

	mu         sync.Mutex
	started    bool
	ctx        context.Context
	generation uint64
	nextPlay   time.Time
	scheduled  map[uint64]*scheduledChunk
	nextID     uint64
	onError    ErrorFunc
}

// NewPlayer creates a player over the given sink.
func NewPlayer(sink audioio.Sink) *Player {
	return &Player{
		sink:      sink,
		logger:    log.With("component", "playback"),
		scheduled: make(map[uint64]*scheduledChunk),
	}
}

// OnError registers a callback for dropped chunks. May be nil.
func (p *Player) OnError(fn ErrorFunc) {
	p.mu.Lock()
	p.onError = fn
	p.mu.Unlock()
}

// Start opens the sink.
func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.sink.Start(ctx); err != nil {
		return err
	}
	p.ctx = ctx
	p.started = true
	return nil
}

// Stop cuts all audio and closes the sink. Safe to call repeatedly.
func (p *Player) Stop() error {
	p.StopAll()
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()
	return p.sink.Stop()
}

// Play enqueues one chunk of PCM16 samples. The chunk starts at the
// end of the previous chunk, or after a short prebuffer delay if the
// queue had drained. Empty chunks are ignored.
func (p *Player) Play(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}

	sampleRate := p.sink.Config().SampleRate
	duration := time.Duration(len(samples)) * time.Second / time.Duration(sampleRate)

	now := time.Now()
	if p.nextPlay.Before(now) {
		// The queue drained; resync with headroom instead of playing
		// the first chunk of the new burst immediately and late.
		p.nextPlay = now.Add(Prebuffer)
	}
	start := p.nextPlay
	p.nextPlay = start.Add(duration)

	faded := make([]int16, len(samples))
	copy(faded, samples)
	applyFades(faded, sampleRate)

	id := p.nextID
	p.nextID++
	gen := p.generation
	entry := &scheduledChunk{end: start.Add(duration)}
	entry.timer = time.AfterFunc(time.Until(start), func() {
		p.playChunk(id, gen, faded, duration, sampleRate)
	})
	p.scheduled[id] = entry
	p.mu.Unlock()

	return nil
}

func (p *Player) playChunk(id, gen uint64, samples []int16, duration time.Duration, sampleRate int) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	entry, ok := p.scheduled[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	ctx := p.ctx
	onError := p.onError
	p.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	chunk := audioio.AudioChunk{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   p.sink.Config().Channels,
	}
	if err := p.sink.Write(ctx, chunk); err != nil {
		// A failed chunk is dropped; the rest of the reply keeps its
		// schedule.
		perr := &PlaybackError{Cause: err}
		p.logger.Error("chunk dropped", "error", err)
		p.removeChunk(id, gen)
		if onError != nil {
			onError(perr)
		}
		return
	}

	// Hold the entry until the chunk has finished playing so activity
	// queries stay accurate.
	entry.timer = time.AfterFunc(duration, func() {
		p.removeChunk(id, gen)
	})
}

func (p *Player) removeChunk(id, gen uint64) {
	p.mu.Lock()
	if gen == p.generation {
		delete(p.scheduled, id)
	}
	p.mu.Unlock()
}

// StopAll cancels every queued and playing chunk immediately and
// resets the schedule. It may be called at any time, including while
// nothing is playing.
func (p *Player) StopAll() {
	p.mu.Lock()
	p.generation++
	for _, entry := range p.scheduled {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	p.scheduled = make(map[uint64]*scheduledChunk)
	p.nextPlay = time.Time{}
	started := p.started
	p.mu.Unlock()

	if started {
		if err := p.sink.Clear(); err != nil {
			p.logger.Warn("sink clear failed", "error", err)
		}
	}
	p.logger.Debug("playback cut")
}

// HasActiveAudio reports whether any chunk is queued or still playing.
func (p *Player) HasActiveAudio() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.scheduled) > 0
}

// QueuedChunks returns the number of chunks not yet finished.
func (p *Player) QueuedChunks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.scheduled)
}

// applyFades ramps the first and last few milliseconds of the chunk
// linearly to zero at the edges.
func applyFades(samples []int16, sampleRate int) {
	fade := int(FadeDuration.Seconds() * float64(sampleRate))
	if fade > len(samples)/2 {
		fade = len(samples) / 2
	}
	if fade == 0 {
		return
	}
	for i := 0; i < fade; i++ {
		gain := float64(i) / float64(fade)
		samples[i] = int16(float64(samples[i]) * gain)
		j := len(samples) - 1 - i
		samples[j] = int16(float64(samples[j]) * gain)
	}
}
