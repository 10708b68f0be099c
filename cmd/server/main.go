package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/dagrun/internal/config"
	"github.com/me/dagrun/internal/engine"
	"github.com/me/dagrun/internal/executor"
	"github.com/me/dagrun/internal/logging"
	"github.com/me/dagrun/internal/server"
	"github.com/me/dagrun/internal/store"
)

func main() {
	cfg := config.DefaultServerConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Run ledger path (default ~/.dagrun/dagrun.db)")
	flag.StringVar(&cfg.WorkDir, "workdir", cfg.WorkDir, "Root directory for task working directories")
	flag.IntVar(&cfg.MaxParallel, "max-parallel", cfg.MaxParallel, "Max concurrently running steps per run (0 = unlimited)")
	flag.IntVar(&cfg.MaxProcs, "max-procs", cfg.MaxProcs, "Max concurrent local processes (0 = unlimited)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", filepath.Dir(cfg.DBPath), err)
		os.Exit(1)
	}

	st, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", cfg.DBPath)

	reg := executor.NewRegistry(logger)
	reg.Register(executor.NewLocalExecutor(cfg.WorkDir, cfg.MaxProcs, logger))

	eng := engine.New(reg, st, engine.Config{MaxParallel: cfg.MaxParallel}, logger)
	srv := server.New(cfg, eng, st, logger)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
