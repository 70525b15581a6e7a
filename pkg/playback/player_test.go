package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kioskworks/go-kiosk/pkg/audioio"
)

func testSink(t *testing.T) *audioio.MockSink {
	t.Helper()
	cfg := audioio.DefaultConfig()
	return audioio.NewMockSink(cfg, nil)
}

func startedPlayer(t *testing.T, sink audioio.Sink) *Player {
	t.Helper()
	p := NewPlayer(sink)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { p.Stop() })
	return p
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// tone returns a constant-amplitude chunk of the given duration.
func tone(d time.Duration) []int16 {
	n := int(d.Seconds() * 24000)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = 8000
	}
	return samples
}

func TestPlay(t *testing.T) {
	t.Run("chunks reach the sink in order", func(t *testing.T) {
		sink := testSink(t)
		p := startedPlayer(t, sink)

		for i := 0; i < 3; i++ {
			if err := p.Play(tone(20 * time.Millisecond)); err != nil {
				t.Fatalf("play failed: %v", err)
			}
		}
		if !p.HasActiveAudio() {
			t.Error("queued audio should count as active")
		}

		waitFor(t, func() bool {
			return len(sink.Written()) == 3
		}, "chunks did not reach sink")

		waitFor(t, func() bool {
			return !p.HasActiveAudio()
		}, "activity did not clear after playback")
	})

	t.Run("empty chunk is ignored", func(t *testing.T) {
		sink := testSink(t)
		p := startedPlayer(t, sink)

		if err := p.Play(nil); err != nil {
			t.Errorf("empty play should not error: %v", err)
		}
		if p.HasActiveAudio() {
			t.Error("empty chunk should not be scheduled")
		}
	})

	t.Run("play before start errors", func(t *testing.T) {
		p := NewPlayer(testSink(t))
		if err := p.Play(tone(10 * time.Millisecond)); err != ErrNotStarted {
			t.Errorf("expected ErrNotStarted, got %v", err)
		}
	})
}

func TestStopAll(t *testing.T) {
	t.Run("cancels queue immediately", func(t *testing.T) {
		sink := testSink(t)
		p := startedPlayer(t, sink)

		for i := 0; i < 5; i++ {
			if err := p.Play(tone(50 * time.Millisecond)); err != nil {
				t.Fatalf("play failed: %v", err)
			}
		}

		p.StopAll()

		if p.HasActiveAudio() {
			t.Error("no audio should remain active after StopAll")
		}
		if p.QueuedChunks() != 0 {
			t.Errorf("queue should be empty, has %d", p.QueuedChunks())
		}
	})

	t.Run("safe while idle", func(t *testing.T) {
		p := startedPlayer(t, testSink(t))
		p.StopAll()
		p.StopAll()
	})

	t.Run("playback resumes after cut", func(t *testing.T) {
		sink := testSink(t)
		p := startedPlayer(t, sink)

		p.Play(tone(50 * time.Millisecond))
		p.StopAll()
		sink.Clear()

		if err := p.Play(tone(10 * time.Millisecond)); err != nil {
			t.Fatalf("play after StopAll failed: %v", err)
		}
		waitFor(t, func() bool {
			return len(sink.Written()) == 1
		}, "chunk did not play after StopAll")
	})
}

func TestScheduling(t *testing.T) {
	t.Run("prebuffer delays first chunk of a burst", func(t *testing.T) {
		sink := testSink(t)
		p := startedPlayer(t, sink)

		begin := time.Now()
		p.Play(tone(10 * time.Millisecond))

		waitFor(t, func() bool {
			return len(sink.Written()) == 1
		}, "chunk did not play")

		if elapsed := time.Since(begin); elapsed < Prebuffer/2 {
			t.Errorf("first chunk played too early: %v", elapsed)
		}
	})

	t.Run("back to back chunks do not restack prebuffer", func(t *testing.T) {
		sink := testSink(t)
		p := startedPlayer(t, sink)

		begin := time.Now()
		for i := 0; i < 4; i++ {
			p.Play(tone(20 * time.Millisecond))
		}

		waitFor(t, func() bool {
			return len(sink.Written()) == 4
		}, "chunks did not all play")

		// One prebuffer plus four 20ms chunks, with generous slack.
		if elapsed := time.Since(begin); elapsed > Prebuffer+4*20*time.Millisecond+200*time.Millisecond {
			t.Errorf("burst took too long: %v", elapsed)
		}
	})
}

func TestFades(t *testing.T) {
	t.Run("edges ramp to zero", func(t *testing.T) {
		samples := tone(50 * time.Millisecond)
		applyFades(samples, 24000)

		if samples[0] != 0 {
			t.Errorf("first sample should be silent, got %d", samples[0])
		}
		mid := samples[len(samples)/2]
		if mid != 8000 {
			t.Errorf("middle should be untouched, got %d", mid)
		}
		last := samples[len(samples)-1]
		if last > 100 {
			t.Errorf("last sample should be near silent, got %d", last)
		}
	})

	t.Run("fade capped for tiny chunks", func(t *testing.T) {
		samples := []int16{8000, 8000, 8000, 8000}
		applyFades(samples, 24000)
		// Fade length is half the chunk, so the middle pair overlaps
		// the ramps but nothing panics and edges still attenuate.
		if samples[0] >= 8000 {
			t.Error("leading edge should attenuate")
		}
	})

	t.Run("single sample chunk is untouched", func(t *testing.T) {
		samples := []int16{8000}
		applyFades(samples, 24000)
		if samples[0] != 8000 {
			t.Error("single sample should not fade")
		}
	})
}

// failingSink errors on every write.
type failingSink struct {
	*audioio.MockSink
}

func (f *failingSink) Write(ctx context.Context, chunk audioio.AudioChunk) error {
	return errors.New("device gone")
}

func TestPlaybackErrors(t *testing.T) {
	t.Run("failed chunk is dropped and reported", func(t *testing.T) {
		sink := &failingSink{MockSink: testSink(t)}
		p := NewPlayer(sink)
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		defer p.Stop()

		var mu sync.Mutex
		var got error
		p.OnError(func(err error) {
			mu.Lock()
			got = err
			mu.Unlock()
		})

		if err := p.Play(tone(10 * time.Millisecond)); err != nil {
			t.Fatalf("play failed: %v", err)
		}

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return got != nil
		}, "error callback not invoked")

		mu.Lock()
		var perr *PlaybackError
		if !errors.As(got, &perr) {
			t.Errorf("expected PlaybackError, got %T", got)
		}
		mu.Unlock()

		waitFor(t, func() bool {
			return !p.HasActiveAudio()
		}, "failed chunk should not stay active")
	})
}
