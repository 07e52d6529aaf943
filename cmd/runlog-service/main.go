// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// The runlog service owns one log path and exposes the record
// protocol over a Unix socket and/or TCP: streaming queries for
// consumers, batched durable writes for producers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/config"
	"github.com/bureau-foundation/runlog/lib/process"
	"github.com/bureau-foundation/runlog/lib/service"
	"github.com/bureau-foundation/runlog/lib/version"
	"github.com/bureau-foundation/runlog/store"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var showVersion bool
	flag.StringVar(&configPath, "config", "", "path to the service config file")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("runlog-service")
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logStore, catalog, err := store.Open(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("opening log %s: %w", cfg.LogPath, err)
	}
	defer logStore.Close()

	clk := clock.Real()
	recordService := NewRecordService(logStore, catalog, clk, logger)

	server := service.NewSocketServer(cfg.SocketPath, cfg.ListenAddr, logger)
	recordService.registerActions(server)

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	logger.Info("runlog service running",
		"log_path", cfg.LogPath,
		"last_issued_id", logStore.LastIssuedID(),
		"version", version.Short(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	// Bound the connection drain: streaming queries can hold their
	// connection for a while.
	select {
	case err := <-serveDone:
		return err
	case <-clk.After(cfg.ShutdownGrace):
		return fmt.Errorf("active connections did not drain within %v", cfg.ShutdownGrace)
	}
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
