package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tabminal/tabminal/internal/config"
	"github.com/tabminal/tabminal/internal/prober"
	"github.com/tabminal/tabminal/internal/pty"
	"github.com/tabminal/tabminal/internal/registry"
	"github.com/tabminal/tabminal/internal/transport"
)

// version and build are injected at link time:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.build=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	build   = "unknown"
)

func main() {
	cfg := config.LoadOrDefault()

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting tabminal", zap.String("version", version), zap.String("build", build))

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	cwd, err := os.Getwd()
	if err != nil {
		logger.Fatal("failed to resolve working directory", zap.Error(err))
	}

	reg := registry.New(registry.Defaults{
		Shell:          shell,
		Cwd:            cwd,
		Env:            os.Environ(),
		Cols:           cfg.Session.DefaultCols,
		Rows:           cfg.Session.DefaultRows,
		HistoryLimit:   cfg.Session.HistoryLimit,
		MaxExecutions:  cfg.Session.MaxExecutions,
		ProberInterval: cfg.Prober.Interval,
	}, pty.NewRealAdapter(), prober.New(), logger)

	if _, err := reg.Create(); err != nil {
		logger.Fatal("failed to create initial session", zap.Error(err))
	}

	engine := transport.New(transport.Options{
		Registry:        reg,
		Logger:          logger,
		ClientQueueSize: cfg.Session.ClientQueueSize,
		PingInterval:    cfg.Session.PingInterval,
	})

	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: engine,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}

	reg.Dispose()
	logger.Info("stopped")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err == nil {
		zcfg.Level = level
	}

	return zcfg.Build()
}
