// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

// Command redharness-server is the operator-facing evaluation service.
// It accepts run submissions over HTTP, drives each evaluation in a
// sandboxed container environment, and streams telemetry to polling
// and websocket clients.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/agentsphere/redharness/containers"
	"github.com/agentsphere/redharness/lib/config"
	"github.com/agentsphere/redharness/lib/process"
	"github.com/agentsphere/redharness/lib/version"
	"github.com/agentsphere/redharness/server"
	"github.com/agentsphere/redharness/telemetry"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		listen      string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "redharness.yaml", "path to the configuration file")
	flag.StringVar(&listen, "listen", "", "listen address override")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("redharness-server")
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := containers.NewDockerRuntime(logger)
	if err != nil {
		return err
	}
	defer runtime.Close()

	tag, err := server.ParseCompressionTag(cfg.Server.ArchiveCompression)
	if err != nil {
		return err
	}
	archive, err := server.NewArchive(filepath.Join(cfg.Paths.Data, "results"), tag)
	if err != nil {
		return err
	}
	uploads, err := server.NewUploadStore(filepath.Join(cfg.Paths.Data, "uploads"))
	if err != nil {
		return err
	}

	hub := telemetry.NewHub(logger)

	jobs := newJobFactory(ctx, cfg, runtime, logger)
	defer jobs.Close()

	api := server.NewAPI(hub, archive, uploads, jobs.New, cfg.Server.AllowedOrigins, logger)
	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Address: cfg.Server.Listen,
		Handler: api.Handler(),
		Logger:  logger,
	})

	logger.Info("redharness server starting",
		"version", version.Short(),
		"listen", cfg.Server.Listen,
		"mode", cfg.Environment.Mode)
	return httpServer.Serve(ctx)
}
