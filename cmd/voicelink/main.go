package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/chidolingo/voicelink/internal/dotenv"
	"github.com/chidolingo/voicelink/internal/metrics"
	"github.com/chidolingo/voicelink/pkg/core/practice"
	"github.com/chidolingo/voicelink/pkg/core/quota"
	"github.com/chidolingo/voicelink/pkg/core/realtime"
	"github.com/chidolingo/voicelink/pkg/gateway/config"
	gatewayserver "github.com/chidolingo/voicelink/pkg/gateway/server"
)

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := quota.OpenStore(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	defer store.Close()

	greeting := cfg.Greeting
	if greeting == "" {
		greeting = realtime.DefaultGreeting
	}

	factory := func() *practice.Session {
		transport := realtime.NewTransport(realtime.TransportConfig{
			BaseURL:    cfg.AgentBaseURL,
			Model:      cfg.AgentModel,
			ICEServers: cfg.ICEServers,
			Capture:    newCapture(cfg, logger),
			Sink:       newSink(cfg, logger),
			Logger:     logger,
		})
		transport.OnMessage(func(ev realtime.ServerEvent) {
			metrics.AgentEvents.WithLabelValues(ev.EventType()).Inc()
		})
		return practice.NewSession(practice.Config{
			Transport: transport,
			Store:     store,
			Quota: quota.TrackerConfig{
				Budget:       cfg.Budget,
				TickInterval: cfg.TickInterval,
				PersistEvery: cfg.PersistEvery,
				Logger:       logger,
			},
			Conversation: realtime.ConversationConfig{
				LingerDelay: cfg.LingerDuration,
				FadeDelay:   cfg.FadeDuration,
				Logger:      logger,
			},
			Instructions: cfg.Instructions,
			Greeting:     greeting,
			Logger:       logger,
		})
	}

	gw := gatewayserver.New(cfg, store, factory, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting gateway", "addr", cfg.Addr, "model", cfg.AgentModel, "budget", cfg.Budget)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

// newCapture opens the configured audio source for one session. A missing
// source means the session only receives.
func newCapture(cfg config.Config, logger *slog.Logger) realtime.Capture {
	if cfg.AudioSource == "" {
		return nil
	}
	src, err := os.Open(cfg.AudioSource)
	if err != nil {
		logger.Warn("audio source unavailable, receiving only", "path", cfg.AudioSource, "error", err)
		return nil
	}
	return realtime.NewOggCapture(src, logger)
}

// newSink opens a per-session recording file when a record dir is set.
func newSink(cfg config.Config, logger *slog.Logger) realtime.PlaybackSink {
	if cfg.RecordDir == "" {
		return nil
	}
	path := filepath.Join(cfg.RecordDir, fmt.Sprintf("session-%s.ogg", uuid.NewString()))
	sink, err := realtime.NewOggFileSink(path, logger)
	if err != nil {
		logger.Warn("recording disabled", "path", path, "error", err)
		return nil
	}
	return sink
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
		os.Exit(1)
	}
}
