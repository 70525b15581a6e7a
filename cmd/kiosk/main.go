// Voice kiosk client: captures microphone audio, streams it to the
// realtime dialogue service, and plays the assistant's replies with
// barge-in interruption.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kioskworks/go-kiosk/internal/config"
	"github.com/kioskworks/go-kiosk/internal/log"
	"github.com/kioskworks/go-kiosk/pkg/audioio"
	"github.com/kioskworks/go-kiosk/pkg/capture"
	"github.com/kioskworks/go-kiosk/pkg/channel"
	"github.com/kioskworks/go-kiosk/pkg/playback"
	"github.com/kioskworks/go-kiosk/pkg/session"
	"github.com/kioskworks/go-kiosk/pkg/store"
	"github.com/kioskworks/go-kiosk/pkg/summary"
)

const stopTimeout = 10 * time.Second

func main() {
	endpoint := flag.String("endpoint", "", "dialogue service WebSocket URL (overrides KIOSK_CHANNEL_URL)")
	debug := flag.Bool("debug", false, "enable verbose debug logging")
	flag.Parse()

	cfg := config.Load()
	if *endpoint != "" {
		cfg.ChannelURL = *endpoint
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	log.Init(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Error("kiosk failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Kiosk) error {
	audioCfg := audioio.DefaultConfig()
	source, err := audioio.NewSource(audioCfg, log.With("component", "audio"))
	if err != nil {
		return err
	}
	defer source.Close()

	sink, err := audioio.NewSink(audioCfg, log.With("component", "audio"))
	if err != nil {
		return err
	}
	defer sink.Close()

	coord, err := session.New(
		channel.NewManager(),
		capture.NewRecorder(source),
		playback.NewPlayer(sink),
		store.NewClient(cfg.StoreURL),
		summary.NewClient(cfg.APIBaseURL),
		session.WithEndpoint(cfg.ChannelURL),
		session.WithVoice(cfg.Voice),
		session.WithInstructions(cfg.Instructions),
		session.WithSilenceDuration(cfg.SilenceDuration),
		session.WithHalfDuplexRelease(cfg.HalfDuplexRelease),
	)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := coord.Start(ctx); err != nil {
		return err
	}
	log.Info("kiosk running", "endpoint", cfg.ChannelURL, "session_id", coord.SessionID())

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	return coord.Stop(stopCtx)
}
