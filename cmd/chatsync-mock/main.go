package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chatsync/pkg/config"
	"chatsync/pkg/config/banner"
	"chatsync/pkg/logger"
	"chatsync/pkg/mockserver"
	"chatsync/pkg/mockserver/storage"
)

// set build metadata
var (
	version = "dev"
	commit  = "none"
)

func abort(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	logger.Error(msg, "error", err)
	logger.Sync()
	os.Exit(1)
}

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	cfgPath := flag.String("config", "chatsync.yaml", "config file path (env CHATSYNC_CONFIG)")
	addr := flag.String("addr", "", "listen address, overrides mock.address and mock.port")
	seed := flag.Bool("seed", false, "seed fixture users and chats into an empty database")
	flag.Parse()
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	cfg, source, err := config.Load(*cfgPath, explicit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// initialize logger after config is fully loaded
	logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Sink)
	defer logger.Sync()
	logger.LogConfigSummary("effective_config", cfg.Summary(source))

	listen := cfg.Addr()
	if *addr != "" {
		listen = *addr
	}

	db, err := storage.Open(cfg.Mock.DBPath)
	if err != nil {
		abort("store_open_failed", err)
	}
	defer db.Close()
	if *seed {
		cfg.Mock.Seed = true
	}
	if cfg.Mock.Seed {
		if err := mockserver.Seed(db, time.Now()); err != nil {
			abort("seed_failed", err)
		}
	}

	srv := mockserver.New(db, mockserver.Options{
		RateRPS:      cfg.Mock.RateLimit.RPS,
		RateBurst:    cfg.Mock.RateLimit.Burst,
		StatusDelay:  cfg.Mock.StatusDelay.Duration(),
		SimulateCron: cfg.Mock.SimulateCron,
	})

	verStr := version
	if commit != "none" {
		verStr += " (" + commit + ")"
	}
	banner.Print(os.Stdout, cfg, source, verStr)

	// set up context and signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("mock_listening", "addr", listen)
		errCh <- httpSrv.ListenAndServe()
	}()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = srv.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
			<-runDone
			srv.Close()
			abort("http_server_failed", err)
		}
	}

	// bounded shutdown so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	cancel()
	// websocket connections are hijacked, so the hub is closed explicitly
	srv.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	}
	<-runDone
	logger.Info("shutdown_complete")
}
