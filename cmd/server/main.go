package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nulzo/ollama-relay/internal/config"
	"github.com/nulzo/ollama-relay/internal/gateway"
	"github.com/nulzo/ollama-relay/internal/httpclient"
	"github.com/nulzo/ollama-relay/internal/platform/logger"
	"github.com/nulzo/ollama-relay/internal/platform/otel"
	"github.com/nulzo/ollama-relay/internal/registry"
	"github.com/nulzo/ollama-relay/internal/server"
	"github.com/nulzo/ollama-relay/internal/server/ollama"
	"github.com/nulzo/ollama-relay/internal/version"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// the configured logger depends on the config, so report with defaults
		log, logErr := logger.New(logger.DefaultConfig())
		if logErr != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		EnableColor: logger.ShouldEnableColor(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	if err := run(cfg, log); err != nil {
		log.Fatal("Relay stopped with error", zap.Error(err))
	}
	log.Info("Relay exited cleanly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdownTracer, err := otel.InitTracer(otel.Options{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version.Version(),
			Pretty:         cfg.Log.Format == "console",
		}, log, os.Stdout)
		if err != nil {
			return fmt.Errorf("initialize tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownTracer(shutdownCtx); err != nil {
				log.Error("Failed to shut down tracer", zap.Error(err))
			}
		}()
	}

	reg := registry.Build(cfg.Services, log)

	client := httpclient.NewClient(httpclient.TransportConfig{
		ConnectTimeout:        cfg.Proxy.ConnectTimeout,
		ResponseHeaderTimeout: cfg.Proxy.ResponseHeaderTimeout,
	})

	handler := ollama.NewHandler(
		reg,
		gateway.NewLister(reg, client, cfg.Listing.Timeout, log),
		gateway.NewProxy(client, log),
		log,
	)
	srv := server.New(cfg, log, handler)

	if cfg.Debug.Addr != "" {
		go serveDebug(cfg.Debug.Addr, log)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// no write timeout: generations stream for as long as the model runs
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting Ollama relay",
			zap.String("addr", httpServer.Addr),
			zap.String("env", cfg.Server.Env),
			zap.String("version", version.Version()),
			zap.Int("backends", reg.Len()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// serveDebug exposes pprof and expvar on their default mux paths.
func serveDebug(addr string, log *zap.Logger) {
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	log.Info("Starting debug listener", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, http.DefaultServeMux); err != nil {
		log.Error("Debug listener stopped", zap.Error(err))
	}
}
