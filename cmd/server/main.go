package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	router "github.com/broadcomms/meeting-ledger/internal/adapters/http"
	wssignal "github.com/broadcomms/meeting-ledger/internal/adapters/signal"
	"github.com/broadcomms/meeting-ledger/internal/adapters/stt"
	"github.com/broadcomms/meeting-ledger/internal/app"
	"github.com/broadcomms/meeting-ledger/internal/config"
	"github.com/broadcomms/meeting-ledger/internal/storage"
	"github.com/broadcomms/meeting-ledger/internal/transcribe"
)

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if cfg.Log.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}
	}
	log.Logger = log.Output(out)

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	conns := app.NewRegistry()
	events := app.NewBroadcaster(conns)
	sessions := transcribe.NewRegistry()
	recognizer := stt.NewClient(stt.Config{
		URL:         cfg.STT.URL,
		APIKey:      cfg.STT.APIKey,
		Model:       cfg.STT.Model,
		ContentType: cfg.STT.ContentType,
	})
	store := storage.NewMemory()

	ctl := wssignal.NewController(conns, events, sessions, recognizer, store)
	ctl.ReadLimit = cfg.ReadLimit
	ctl.SendBuffer = cfg.SendBuffer
	ctl.PingPeriod = cfg.PingPeriod
	ctl.PullTimeout = cfg.STT.PullTimeout

	r := router.SetupRouter(ctx, cfg, ctl, conns)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("module", "main").Str("addr", addr).Msg("meeting-ledger server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop sessions first so every in-flight transcript is persisted before
	// the listener goes away. Shutdown leaves hijacked websockets alone, so
	// the controller closes them itself.
	sessions.StopAll(shutdownCtx)
	ctl.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}
