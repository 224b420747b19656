// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command docsyncd starts the CoRATES collaborative document engine.
//
// It reads configuration from flags and environment variables and serves
// the realtime document WebSocket plus the engine's operational routes.
//
// # Environment Variables
//
//   - DOCSYNC_PORT: HTTP server port (default: 12340)
//   - DOCSYNC_STORE: snapshot store backend - badger, redis, memory (default: badger)
//   - DOCSYNC_BADGER_PATH: badger data directory (default: ./data/docsync)
//   - DOCSYNC_REDIS_URL: Redis URL for the redis store and membership sets
//   - DOCSYNC_FLUSH_DEBOUNCE: snapshot flush debounce, e.g. "2s"
//   - DOCSYNC_DRAIN_GRACE: post-disconnect actor grace, e.g. "30s"
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//   - GIN_MODE: gin framework mode (debug, release, test)
//
// # Usage
//
//	# Build
//	go build -o docsyncd ./cmd/docsyncd
//
//	# Run
//	./docsyncd serve
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corates/docsync/services/docsync"
)

var rootCmd = &cobra.Command{
	Use:   "docsyncd",
	Short: "CoRATES collaborative document engine",
	Long: "docsyncd hosts one live document per project: clients sync over " +
		"WebSocket, the CRUD layer pushes authoritative changes in-process, " +
		"and snapshots land in the configured store.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the document engine HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", getEnvInt("DOCSYNC_PORT", 12340), "HTTP server port")
	serveCmd.Flags().String("store", getEnvString("DOCSYNC_STORE", "badger"),
		"snapshot store backend: badger, redis, memory")
	serveCmd.Flags().String("badger-path", getEnvString("DOCSYNC_BADGER_PATH", "./data/docsync"),
		"badger data directory")
	serveCmd.Flags().String("redis-url", os.Getenv("DOCSYNC_REDIS_URL"),
		"Redis URL for the redis store backend and membership sets")
	serveCmd.Flags().Duration("flush-debounce", getEnvDuration("DOCSYNC_FLUSH_DEBOUNCE", 0),
		"snapshot flush debounce (0 uses the built-in default)")
	serveCmd.Flags().Duration("drain-grace", getEnvDuration("DOCSYNC_DRAIN_GRACE", 0),
		"post-disconnect actor grace (0 uses the built-in default)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	port, _ := cmd.Flags().GetInt("port")
	store, _ := cmd.Flags().GetString("store")
	badgerPath, _ := cmd.Flags().GetString("badger-path")
	redisURL, _ := cmd.Flags().GetString("redis-url")
	flushDebounce, _ := cmd.Flags().GetDuration("flush-debounce")
	drainGrace, _ := cmd.Flags().GetDuration("drain-grace")

	cfg := docsync.Config{
		Port:          port,
		StoreBackend:  store,
		BadgerPath:    badgerPath,
		RedisURL:      redisURL,
		OTelEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		FlushDebounce: flushDebounce,
		DrainGrace:    drainGrace,
	}

	svc, err := docsync.New(cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return svc.Shutdown(ctx)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
