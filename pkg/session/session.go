// Package session coordinates one voice conversation: it owns the
// duplex channel, the capture and playback pipelines, and the
// transcript, and enforces the turn-taking rules between them.
//
// The coordinator is half-duplex: microphone audio is dropped while
// assistant audio is playing and for a short release window after it
// stops. The one exception is barge-in, where the start of user speech
// over assistant audio cuts playback and cancels the in-flight
// response.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kioskworks/go-kiosk/internal/log"
	"github.com/kioskworks/go-kiosk/pkg/audioio"
	"github.com/kioskworks/go-kiosk/pkg/capture"
	"github.com/kioskworks/go-kiosk/pkg/channel"
	"github.com/kioskworks/go-kiosk/pkg/playback"
	"github.com/kioskworks/go-kiosk/pkg/protocol"
	"github.com/kioskworks/go-kiosk/pkg/store"
	"github.com/kioskworks/go-kiosk/pkg/transcript"
)

// Channel is the duplex connection the coordinator speaks through.
type Channel interface {
	Connect(ctx context.Context, endpoint string) error
	Send(msg any) error
	SendBinary(data []byte) error
	OnMessage(eventType string, handler channel.Handler)
	OnConnection(cb channel.ConnectionCallbacks)
	IsConnected() bool
	Close() error
}

// Recorder captures framed microphone audio.
type Recorder interface {
	Start(ctx context.Context, onChunk capture.ChunkFunc, onSpeakingChange capture.SpeakingFunc) error
	Stop() error
	IsRecording() bool
}

// Player plays assistant audio.
type Player interface {
	Start(ctx context.Context) error
	Stop() error
	Play(samples []int16) error
	StopAll()
	HasActiveAudio() bool
}

// Store persists session artifacts and exposes kiosk state.
type Store interface {
	Write(ctx context.Context, path string, value any) error
	Remove(ctx context.Context, path string) error
	Watch(path string, fn store.WatchFunc) func()
}

// Summarizer condenses a finished conversation.
type Summarizer interface {
	Summarize(ctx context.Context, messages []transcript.Message) (string, error)
}

var (
	_ Channel  = (*channel.Manager)(nil)
	_ Recorder = (*capture.Recorder)(nil)
	_ Player   = (*playback.Player)(nil)
	_ Store    = (*store.Client)(nil)
)

// Coordinator runs one conversation session.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger

	channel    Channel
	recorder   Recorder
	player     Player
	store      Store
	summarizer Summarizer
	history    *transcript.Reconciler

	mu              sync.Mutex
	status          ConnectionStatus
	turn            TurnState
	sessionID       string
	responseID      string
	responseActive  bool
	interrupted     bool
	lastAudioActive time.Time
	silenceTimer    *time.Timer
	errMsg          string
	userID          string
	running         bool
	cancel          context.CancelFunc
	unsubs          []func()

	wg sync.WaitGroup
}

// New creates a coordinator over the given collaborators. Store and
// summarizer may be nil, in which case session persistence is skipped.
func New(ch Channel, rec Recorder, pl Player, st Store, sum Summarizer, opts ...Option) (*Coordinator, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:        cfg,
		logger:     log.With("component", "session"),
		channel:    ch,
		recorder:   rec,
		player:     pl,
		store:      st,
		summarizer: sum,
		history:    transcript.NewReconciler(),
	}, nil
}

// Start connects the channel, configures the remote session, and
// begins capturing.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("session: already running")
	}
	c.running = true
	c.status = Connecting
	c.turn = Idle
	c.sessionID = uuid.NewString()
	c.errMsg = ""
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.history.Reset()
	c.registerHandlers()

	if err := c.channel.Connect(runCtx, c.cfg.Endpoint); err != nil {
		c.fail("connection failed")
		c.teardown(context.Background())
		return err
	}

	c.mu.Lock()
	c.status = Connected
	sessionID := c.sessionID
	c.mu.Unlock()
	c.logger.Info("session started", "session_id", sessionID)

	sessCfg := protocol.DefaultSessionConfig()
	if c.cfg.Voice != "" {
		sessCfg.Voice = c.cfg.Voice
	}
	sessCfg.Instructions = c.cfg.Instructions
	sessCfg.TurnDetection.SilenceDurationMs = int(c.cfg.SilenceDuration / time.Millisecond)
	if err := c.channel.Send(protocol.SessionUpdate(sessCfg)); err != nil {
		c.fail("session configuration failed")
		c.teardown(context.Background())
		return err
	}

	if err := c.player.Start(runCtx); err != nil {
		c.fail("audio output unavailable")
		c.teardown(context.Background())
		return err
	}

	if err := c.recorder.Start(runCtx, c.handleChunk, c.handleSpeaking); err != nil {
		if capture.IsMicrophoneAccess(err) {
			c.fail("microphone unavailable")
		} else {
			c.fail("audio capture failed")
		}
		c.teardown(context.Background())
		return err
	}

	c.watchStore()

	c.wg.Add(1)
	go c.activityLoop(runCtx)

	return nil
}

// Stop ends the session: capture and playback halt, any in-flight
// response is cancelled, the channel closes, and the transcript is
// summarized and persisted for the active user.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.cancel = nil
	responseID := c.responseID
	responseActive := c.responseActive
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.clearSilenceTimer()

	if responseActive {
		c.channel.Send(protocol.ResponseCancel(responseID))
	}

	c.teardown(ctx)
	c.wg.Wait()

	messages := c.history.Snapshot()
	c.persist(ctx, messages)
	c.history.Reset()

	c.logger.Info("session stopped", "messages", len(messages))
	return nil
}

func (c *Coordinator) teardown(ctx context.Context) {
	if c.recorder.IsRecording() {
		if err := c.recorder.Stop(); err != nil {
			c.logger.Warn("recorder stop failed", "error", err)
		}
	}
	c.player.StopAll()
	if err := c.player.Stop(); err != nil {
		c.logger.Warn("player stop failed", "error", err)
	}
	if err := c.channel.Close(); err != nil {
		c.logger.Warn("channel close failed", "error", err)
	}

	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.status = Disconnected
	c.turn = Idle
	c.responseActive = false
	c.responseID = ""
	c.interrupted = false
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// SendText injects a typed user message into the conversation and
// requests a reply if none is already in flight.
func (c *Coordinator) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	c.history.AddUserFinal(text)

	if err := c.channel.Send(protocol.UserText(text)); err != nil {
		return err
	}

	c.mu.Lock()
	active := c.responseActive
	c.mu.Unlock()
	if active {
		return nil
	}
	return c.channel.Send(protocol.ResponseCreate())
}

// Status returns the connection status.
func (c *Coordinator) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Turn returns the current turn state.
func (c *Coordinator) Turn() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn
}

// SessionID returns the id of the current session.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Messages returns a copy of the transcript so far.
func (c *Coordinator) Messages() []transcript.Message {
	return c.history.Snapshot()
}

// Err returns the current error message, or empty. Newer errors
// replace older ones.
func (c *Coordinator) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// ClearErr clears the current error message.
func (c *Coordinator) ClearErr() {
	c.mu.Lock()
	c.errMsg = ""
	c.mu.Unlock()
}

// fail aborts a session that could not start.
func (c *Coordinator) fail(msg string) {
	c.mu.Lock()
	c.errMsg = msg
	c.status = Disconnected
	c.running = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.logger.Error("session error", "error", msg)
}

func (c *Coordinator) setErr(msg string) {
	c.mu.Lock()
	c.errMsg = msg
	c.mu.Unlock()
	c.logger.Error("session error", "error", msg)
}

// --- event wiring ---

func (c *Coordinator) registerHandlers() {
	c.channel.OnConnection(channel.ConnectionCallbacks{
		OnClose: func() {
			c.mu.Lock()
			if c.running {
				c.status = Disconnected
			}
			c.mu.Unlock()
		},
		OnError: func(err error) {
			c.setErr(err.Error())
		},
	})

	c.channel.OnMessage(protocol.TypeResponseCreated, c.onResponseCreated)
	c.channel.OnMessage(protocol.TypeResponseDone, c.onResponseDone)
	c.channel.OnMessage(protocol.TypeResponseCancelled, c.onResponseCancelled)
	c.channel.OnMessage(protocol.TypeAudio, c.onAudioFrame)
	c.channel.OnMessage(protocol.TypeResponseAudioDelta, c.onAudioDelta)
	c.channel.OnMessage(protocol.TypeAudioTranscriptDelta, c.onTranscriptDelta)
	c.channel.OnMessage(protocol.TypeAudioTranscriptDone, c.onTranscriptDone)
	c.channel.OnMessage(protocol.TypeOutputTextDelta, c.onTextDelta)
	c.channel.OnMessage(protocol.TypeOutputTextDone, c.onTextDone)
	c.channel.OnMessage(protocol.TypeInputTranscriptionCompleted, c.onUserTranscript)
	c.channel.OnMessage(protocol.TypeError, c.onServiceError)
}

func (c *Coordinator) onResponseCreated(ev *protocol.Event) {
	c.mu.Lock()
	if ev.Response != nil {
		c.responseID = ev.Response.ID
	}
	c.responseActive = true
	c.interrupted = false
	c.turn = AssistantTurn
	id := c.responseID
	c.mu.Unlock()
	c.logger.Debug("response started", "response_id", id)
}

func (c *Coordinator) onResponseDone(ev *protocol.Event) {
	c.mu.Lock()
	c.responseActive = false
	c.responseID = ""
	if c.turn == AssistantTurn {
		c.turn = Idle
	}
	c.mu.Unlock()
	c.logger.Debug("response finished")
}

func (c *Coordinator) onResponseCancelled(ev *protocol.Event) {
	c.mu.Lock()
	// A cancellation for a response that is no longer current must not
	// disturb the one that replaced it.
	if id := ev.CancelledID(); id != "" && c.responseID != "" && id != c.responseID {
		c.mu.Unlock()
		c.logger.Debug("stale cancellation ignored", "response_id", id)
		return
	}
	c.responseActive = false
	c.responseID = ""
	c.interrupted = false
	c.turn = Idle
	c.mu.Unlock()

	c.player.StopAll()
	c.logger.Debug("response cancelled")
}

func (c *Coordinator) onAudioFrame(ev *protocol.Event) {
	c.playPCM(audioio.BytesToSamples(ev.Binary))
}

func (c *Coordinator) onAudioDelta(ev *protocol.Event) {
	pcm, err := ev.AudioDelta()
	if err != nil {
		c.logger.Warn("bad audio delta", "error", err)
		return
	}
	c.playPCM(audioio.BytesToSamples(pcm))
}

// playPCM forwards assistant audio to the player. Audio that arrives
// after a barge-in belongs to the cancelled response and is dropped
// until the interruption clears.
func (c *Coordinator) playPCM(samples []int16) {
	if len(samples) == 0 {
		return
	}
	c.mu.Lock()
	interrupted := c.interrupted
	c.mu.Unlock()
	if interrupted {
		return
	}
	if err := c.player.Play(samples); err != nil {
		c.logger.Warn("play failed", "error", err)
	}
}

func (c *Coordinator) onTranscriptDelta(ev *protocol.Event) {
	c.history.AppendAssistantDelta(ev.Delta)
}

func (c *Coordinator) onTranscriptDone(ev *protocol.Event) {
	c.history.FinishAssistant(ev.Transcript)
}

func (c *Coordinator) onTextDelta(ev *protocol.Event) {
	c.history.AppendAssistantDelta(ev.Delta)
}

func (c *Coordinator) onTextDone(ev *protocol.Event) {
	c.history.FinishAssistant(ev.Text)
}

func (c *Coordinator) onUserTranscript(ev *protocol.Event) {
	c.history.AddUserFinal(ev.Transcript)
}

func (c *Coordinator) onServiceError(ev *protocol.Event) {
	c.setErr(ev.ErrorMessage())
}

// --- microphone path ---

func (c *Coordinator) handleChunk(pcm []byte) {
	if c.micGated() {
		return
	}
	if err := c.channel.SendBinary(pcm); err != nil {
		c.logger.Warn("audio send failed", "error", err)
	}
}

// micGated reports whether microphone audio should be dropped: while
// assistant audio plays, and for the release window after it stops.
func (c *Coordinator) micGated() bool {
	if c.player.HasActiveAudio() {
		return true
	}
	c.mu.Lock()
	last := c.lastAudioActive
	c.mu.Unlock()
	return !last.IsZero() && time.Since(last) < c.cfg.HalfDuplexRelease
}

func (c *Coordinator) handleSpeaking(speaking bool) {
	if speaking {
		c.onSpeechStart()
		return
	}
	c.onSpeechEnd()
}

func (c *Coordinator) onSpeechStart() {
	c.clearSilenceTimer()

	if c.player.HasActiveAudio() {
		c.bargeIn()
		return
	}

	c.mu.Lock()
	c.turn = UserTurn
	c.mu.Unlock()
	c.logger.Debug("user speaking")
}

// bargeIn cuts assistant playback before the cancel goes out, so the
// kiosk falls silent the moment the user starts talking. The cancel is
// only sent while a response is still in flight; speech over the tail
// of a finished response just cuts the audio.
func (c *Coordinator) bargeIn() {
	c.player.StopAll()

	c.mu.Lock()
	active := c.responseActive
	responseID := c.responseID
	c.turn = Interrupted
	c.interrupted = true
	c.mu.Unlock()

	if !active {
		c.logger.Debug("barge-in over finished response, playback cut")
		return
	}

	if err := c.channel.Send(protocol.ResponseCancel(responseID)); err != nil {
		c.logger.Warn("cancel send failed", "error", err)
	}
	c.logger.Info("barge-in", "response_id", responseID)
}

func (c *Coordinator) onSpeechEnd() {
	c.logger.Debug("user silent")
	c.mu.Lock()
	c.interrupted = false
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
	}
	c.silenceTimer = time.AfterFunc(c.cfg.SilenceDuration, c.onSilenceElapsed)
	c.mu.Unlock()
}

func (c *Coordinator) onSilenceElapsed() {
	c.mu.Lock()
	c.silenceTimer = nil
	if !c.running || c.responseActive {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if !c.channel.IsConnected() {
		return
	}

	c.logger.Debug("silence elapsed, requesting reply")
	if err := c.channel.Send(protocol.ResponseCreate()); err != nil {
		c.logger.Warn("response request failed", "error", err)
	}
}

func (c *Coordinator) clearSilenceTimer() {
	c.mu.Lock()
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
		c.silenceTimer = nil
	}
	c.mu.Unlock()
}

// activityLoop samples playback activity so the half-duplex gate can
// hold the release window after audio stops.
func (c *Coordinator) activityLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.player.HasActiveAudio() {
				c.mu.Lock()
				c.lastAudioActive = time.Now()
				c.mu.Unlock()
			}
		}
	}
}

// --- kiosk state and persistence ---

func (c *Coordinator) watchStore() {
	if c.store == nil {
		return
	}

	unsubUser := c.store.Watch("currentUser", func(value any) {
		id, _ := value.(string)
		c.mu.Lock()
		c.userID = id
		c.mu.Unlock()
		c.logger.Debug("current user changed", "user_id", id)
	})
	unsubAction := c.store.Watch("robot_action", func(value any) {
		c.logger.Debug("robot action changed", "action", value)
	})

	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsubUser, unsubAction)
	c.mu.Unlock()
}

// persist writes the session record for the active user: a summary of
// the transcript under the user's transcriptions, then clears the
// per-session kiosk state.
func (c *Coordinator) persist(ctx context.Context, messages []transcript.Message) {
	if c.store == nil || len(messages) == 0 {
		return
	}

	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()
	if userID == "" {
		c.logger.Debug("no active user, skipping persistence")
		return
	}

	text := ""
	if c.summarizer != nil {
		summarized, err := c.summarizer.Summarize(ctx, messages)
		if err != nil {
			c.logger.Warn("summarization failed, using fallback", "error", err)
		} else {
			text = summarized
		}
	}
	if text == "" {
		text = transcript.FallbackSummary(messages)
	}

	if text != "" {
		path := fmt.Sprintf("users/%s/transcriptions/%d", userID, time.Now().Unix())
		if err := c.store.Write(ctx, path, text); err != nil {
			c.logger.Error("transcription write failed", "error", err)
		}
	}

	if err := c.store.Remove(ctx, fmt.Sprintf("users/%s/photo", userID)); err != nil {
		c.logger.Warn("photo cleanup failed", "error", err)
	}
	if err := c.store.Remove(ctx, "currentUser"); err != nil {
		c.logger.Warn("current user cleanup failed", "error", err)
	}
	if err := c.store.Remove(ctx, "robot_action"); err != nil {
		c.logger.Warn("robot action cleanup failed", "error", err)
	}
}
