package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	upcall "github.com/behrlich/go-upcall"
	"github.com/behrlich/go-upcall/internal/logging"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a TOML config file (optional; defaults apply when absent)")
		bindAddr   = flag.String("bind", "", "override bind address, e.g. :9999")
		model      = flag.String("model", "", "override concurrency model: pcpu, pcache, single")
		verbose    = flag.Bool("v", false, "verbose (debug-level) logging")
	)
	flag.Parse()

	cfg := upcall.DefaultConfig()
	if *configPath != "" {
		loaded, err := upcall.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("loading config %q: %v", *configPath, err)
		}
		cfg = loaded
	}
	if *bindAddr != "" {
		cfg.BindAddr = *bindAddr
	}
	if *model != "" {
		cfg.Model = *model
	}

	logLevel := logging.LevelInfo
	if *verbose || cfg.LogLevel == "debug" {
		logLevel = logging.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{Level: logLevel, Output: os.Stderr})
	logging.SetDefault(logger)

	opts := upcall.Options{
		BindAddr:        cfg.BindAddr,
		MsgSize:         cfg.MsgSize,
		Model:           modelFromString(cfg.Model),
		ThreadsPerQueue: cfg.ThreadsPerQueue,
		Donate:          cfg.Donate,
		BufCount:        cfg.BufCount,
		InboundCap:      cfg.InboundCap,
		Logger:          logger,
	}

	logger.Info("starting echo server",
		"bind_addr", opts.BindAddr,
		"msg_size", opts.MsgSize,
		"model", cfg.Model,
		"donate", opts.Donate)

	srv, err := upcall.New(opts)
	if err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	logger.Info("worker fabric up", "workers", srv.WorkerCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
		cancel()
	case err := <-serveErr:
		if err != nil {
			logger.Error("server exited with error", "error", err)
			os.Exit(1)
		}
		return
	}

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("error during shutdown", "error", err)
			os.Exit(1)
		}
	case <-time.After(5 * time.Second):
		logger.Warn("shutdown timed out, forcing exit")
	}

	snap := srv.Metrics().Snapshot()
	fmt.Printf("total accepts: %d, total connections closed: %d\n", snap.TotalAccept, snap.TotalConn)
}

func modelFromString(s string) upcall.Model {
	switch s {
	case "pcache":
		return upcall.PCACHE
	case "single":
		return upcall.SINGLE
	default:
		return upcall.PCPU
	}
}
