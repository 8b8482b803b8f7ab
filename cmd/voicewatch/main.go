package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/voicewatch/internal/app"
	"github.com/petems/voicewatch/internal/audio"
	"github.com/petems/voicewatch/internal/config"
	"github.com/petems/voicewatch/internal/engine"
	"github.com/petems/voicewatch/internal/logging"
	"github.com/petems/voicewatch/internal/metrics"
	"github.com/petems/voicewatch/internal/permissions"
	"github.com/petems/voicewatch/internal/recognize"
	"github.com/petems/voicewatch/internal/segment"
	"github.com/petems/voicewatch/internal/tray"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	configFile := flag.String("config", "", "path to a JSON or YAML config file (default: platform config dir)")
	flag.Parse()

	// Load config from XDG/Library/AppData unless a file is given
	cfg, err := loadConfig(*configFile)
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	// macOS requires explicit microphone approval before capture works
	if err := permissions.EnsurePermissions(log); err != nil {
		log.Fatal().Err(err).Msg("Required permissions not granted")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize audio driver
	driver, err := audio.NewPortAudioDriver(cfg.Audio.FramesPerBuffer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer driver.Close()

	// Initialize recognition backend
	recognizer, err := recognize.NewHTTPRecognizer(cfg.HTTPRecognizer(log))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize recognizer")
	}

	m := metrics.New()

	// The engine delivers transcripts to the app, which is created below
	var application *app.App
	segCfg := cfg.Segment()
	eng, err := engine.New(engine.Config{
		Driver:       driver,
		Recognizer:   recognizer,
		NewSegmenter: func() engine.Segmenter { return segment.New(segCfg) },
		OnTranscription: func(text string) {
			application.OnTranscription(text)
		},
		Device:        cfg.Audio.DeviceIndex,
		Capture:       cfg.Capture(),
		Recovery:      cfg.RecoveryPolicy(),
		Meter:         cfg.MeterSettings(),
		Gain:          cfg.Gain,
		ShutdownGrace: cfg.ShutdownGrace(),
		Logger:        log,
		Metrics:       m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize engine")
	}

	application = app.New(app.Config{
		Pipeline: eng,
		Config:   cfg,
		Logger:   log,
	})
	trayUI := tray.New(application, log, Version, Commit)
	application.SetStatusUpdater(trayUI)

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, m, log)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info().Str("version", Version).Str("config", cfg.Path()).Msg("voicewatch starting...")
	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start listening")
	}

	// Start tray UI - MUST run on main thread. Returns on Quit or signal.
	if err := trayUI.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Tray error")
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.ShutdownGrace()+time.Second)
	defer done()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

func serveMetrics(addr string, m *metrics.Metrics, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}
