package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go-foodie/internal/config"
	"go-foodie/internal/logger"
	"go-foodie/internal/server"

	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", "", "http service address (overrides HTTP_ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.New(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize server", zap.Error(err))
	}
	defer app.Close()

	if err := app.Start(ctx); err != nil {
		zlog.Fatal("failed to start hub", zap.Error(err))
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: app.Router}
	go func() {
		zlog.Info("server starting", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("graceful shutdown failed", zap.Error(err))
	}
}
