package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ent0n29/voicerelay/internal/app"
	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.L().Error("config error", "error", err)
		os.Exit(1)
	}
	log := logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	built, err := app.Build(ctx, cfg, nil, log)
	if err != nil {
		log.Error("build failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Warn("cleanup failed", "error", err)
		}
	}()
	log.Info("voice provider", "provider", built.Voice.Provider, "detail", built.Voice.Detail)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutdown signal received")
	case err := <-serveErr:
		log.Error("listen error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	// Hijacked websocket connections are not tracked by http.Server.
	if n := built.Sessions.CancelAll(); n > 0 {
		log.Info("closing live sessions", "count", n)
	}
	if !built.Sessions.Wait(shutdownCtx) {
		log.Warn("live sessions did not drain before timeout", "active", built.Sessions.ActiveCount())
	}

	log.Info("shutdown complete")
}
