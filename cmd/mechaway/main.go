// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/insanalamin/mechaway/internal/config"
	"github.com/insanalamin/mechaway/internal/server"
)

var configPath = flag.String("config", "", "path to optional YAML config file")

func main() {
	flag.Parse()

	slogHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	baseLogger := slog.New(slogHandler)
	slog.SetDefault(baseLogger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		baseLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	srv, err := server.New(ctx, cfg, baseLogger)
	if err != nil {
		baseLogger.Error("Failed to initialize server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		baseLogger.Error("Server error", slog.Any("error", err))
		os.Exit(1)
	}
}
