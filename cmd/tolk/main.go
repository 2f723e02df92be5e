package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tolkapp/tolk/internal/capture"
	"github.com/tolkapp/tolk/internal/config"
	"github.com/tolkapp/tolk/internal/httpapi"
	"github.com/tolkapp/tolk/internal/ledger"
	"github.com/tolkapp/tolk/internal/observability"
	"github.com/tolkapp/tolk/internal/playback"
	"github.com/tolkapp/tolk/internal/realtime"
	"github.com/tolkapp/tolk/internal/reconnect"
	"github.com/tolkapp/tolk/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	usage, err := ledger.NewClient(ctx, cfg.LedgerURL, cfg.LedgerAPIKey, cfg.DatabaseURL, cfg.FreeCredits)
	if err != nil {
		log.Fatalf("ledger init failed: %v", err)
	}
	defer usage.Close()

	switch {
	case cfg.LedgerURL != "":
		log.Printf("usage ledger: hosted (%s)", cfg.LedgerURL)
	case cfg.DatabaseURL != "":
		log.Printf("usage ledger: postgres")
	default:
		log.Printf("usage ledger: in-memory (%.0f free credits)", cfg.FreeCredits)
	}

	dialer := realtime.NewDialer(
		realtime.Config{URL: cfg.EndpointURL, Model: cfg.Model},
		realtime.StaticToken(cfg.APIKey),
	)

	factory := func(engCfg session.EngineConfig) (*session.Engine, error) {
		var dev capture.Device
		if cfg.InputWAVPath != "" {
			dev = &capture.WAVFileDevice{Path: cfg.InputWAVPath}
		} else {
			return nil, errors.New("no capture device configured: set TOLK_INPUT_WAV")
		}

		var sink playback.Sink
		if cfg.OutputWAVPath != "" {
			sink = &playback.WAVFileSink{Path: cfg.OutputWAVPath}
		} else {
			sink = &playback.BufferSink{}
		}

		engCfg.AckTimeout = cfg.AckTimeout
		engCfg.HeartbeatInterval = cfg.HeartbeatInterval
		return session.NewEngine(engCfg, session.EngineDeps{
			Transport:  session.DialerTransport{Dialer: dialer},
			Capture:    capture.NewPipeline(dev, capture.Config{FrameDuration: cfg.FrameDuration}),
			Playback:   playback.NewPipeline(sink),
			Permission: session.DevicePermission{Dev: dev},
			Ledger:     usage,
			Reconnect: reconnect.NewController(reconnect.Policy{
				BaseDelay:   cfg.ReconnectBaseDelay,
				MaxDelay:    cfg.ReconnectMaxDelay,
				MaxAttempts: cfg.ReconnectMaxAttempts,
			}, nil),
			Metrics: metrics,
			OnTransition: func(from, to session.State, reason session.Code) {
				if reason != "" {
					log.Printf("session %s -> %s (%s)", from, to, reason)
					return
				}
				log.Printf("session %s -> %s", from, to)
			},
			OnTransient: func(err error) {
				log.Printf("session degraded: %v", err)
			},
		})
	}

	sessions := session.NewManager(factory)

	api := httpapi.New(sessions, httpapi.SessionDefaults{
		UserID:     cfg.UserID,
		SourceLang: cfg.SourceLang,
		TargetLang: cfg.TargetLang,
	})
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := sessions.Stop(stopCtx); err != nil && !errors.Is(err, session.ErrNotFound) {
		log.Printf("session shutdown failed: %v", err)
	}
	stopCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
