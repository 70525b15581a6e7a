// Local development backend for the voice kiosk: a scripted dialogue
// service, a summarization endpoint, and an in-memory key-value store
// on one port.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/kioskworks/go-kiosk/internal/devserver"
	"github.com/kioskworks/go-kiosk/internal/log"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	debug := flag.Bool("debug", false, "enable verbose debug logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	srv := devserver.New()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		log.Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	if err := srv.Listen(*addr); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}
