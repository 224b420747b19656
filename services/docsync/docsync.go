// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package docsync assembles the collaborative document engine: snapshot
// store, membership resolver, actor manager, and the HTTP/WebSocket
// surface, wired together behind a single Service.
//
// # Usage
//
//	cfg := docsync.Config{Port: 12340, StoreBackend: "badger"}
//	svc, err := docsync.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package docsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/corates/docsync/services/docsync/actor"
	"github.com/corates/docsync/services/docsync/auth"
	"github.com/corates/docsync/services/docsync/routes"
	"github.com/corates/docsync/services/docsync/storage"
	"github.com/corates/docsync/services/docsync/storage/badgerstore"
	"github.com/corates/docsync/services/docsync/storage/redisstore"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the engine's lifecycle contract.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until Shutdown is called or
	// the listener fails.
	Run() error

	// Shutdown stops accepting connections, drains every live actor
	// (final snapshot flush included), and releases the store.
	Shutdown(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds engine configuration. Zero values use defaults.
type Config struct {
	// Port is the HTTP server port. Default: 12340.
	Port int

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: uses GIN_MODE env var or "debug".
	GinMode string

	// StoreBackend selects the snapshot store: "badger", "redis", or
	// "memory". Default: "badger".
	StoreBackend string

	// BadgerPath is the on-disk location for the badger backend.
	// Default: "./data/docsync".
	BadgerPath string

	// RedisURL configures the Redis connection, used by the "redis"
	// store backend and by the membership resolver. When empty the
	// resolver allows every membership check (development only).
	// Example: "redis://localhost:6379/0".
	RedisURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint. When empty,
	// tracing stays on the global no-op provider.
	OTelEndpoint string

	// FlushDebounce and DrainGrace tune actor persistence and eviction;
	// zero values take the actor package defaults.
	FlushDebounce time.Duration
	DrainGrace    time.Duration

	// Provider validates session credentials. Default: auth.LocalProvider.
	Provider auth.Provider

	// Resolver answers membership checks. Default: Redis-backed when
	// RedisURL is set, otherwise allow-all.
	Resolver auth.MembershipResolver

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12340
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "badger"
	}
	if cfg.BadgerPath == "" {
		cfg.BadgerPath = "./data/docsync"
	}
	if cfg.Provider == nil {
		cfg.Provider = auth.LocalProvider{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config         Config
	router         *gin.Engine
	server         *http.Server
	store          storage.Store
	redisClient    *redis.Client
	storeOwnsRedis bool
	manager        *actor.Manager
	tracerCleanup  func(context.Context)
}

// New builds a ready-to-run Service: tracer, snapshot store, membership
// resolver, actor manager, and router, in that order. A partially
// constructed service is torn down before the error returns.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	if s.config.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize snapshot store: %w", err)
	}

	resolver := s.config.Resolver
	if resolver == nil {
		if s.redisClient != nil {
			resolver = auth.NewRedisResolver(s.redisClient)
		} else if s.config.RedisURL != "" {
			client, err := newRedisClient(s.config.RedisURL)
			if err != nil {
				s.cleanup()
				return nil, fmt.Errorf("failed to connect membership backend: %w", err)
			}
			s.redisClient = client
			resolver = auth.NewRedisResolver(client)
		} else {
			slog.Warn("No membership backend configured, allowing all membership checks")
			resolver = auth.AllowAllResolver{}
		}
	}

	actorCfg := actor.DefaultConfig()
	actorCfg.Logger = s.config.Logger
	if s.config.FlushDebounce > 0 {
		actorCfg.FlushDebounce = s.config.FlushDebounce
	}
	if s.config.DrainGrace > 0 {
		actorCfg.DrainGrace = s.config.DrainGrace
	}
	s.manager = actor.NewManager(s.store, resolver, actorCfg)

	s.initRouter(resolver)

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Run() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	slog.Info("Starting docsync server",
		"port", s.config.Port,
		"store", s.config.StoreBackend)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.cleanup()
		return err
	}
	return nil
}

func (s *service) Shutdown(ctx context.Context) error {
	defer s.cleanup()

	var first error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			first = fmt.Errorf("http shutdown: %w", err)
		}
	}
	// Actors flush their final snapshots here; the store must still be
	// open, so cleanup runs after.
	if err := s.manager.Shutdown(ctx); err != nil && first == nil {
		first = fmt.Errorf("actor shutdown: %w", err)
	}
	return first
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func newRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (s *service) initStore() error {
	switch s.config.StoreBackend {
	case "badger":
		store, err := badgerstore.Open(badgerstore.DefaultConfig(s.config.BadgerPath))
		if err != nil {
			return err
		}
		s.store = store
	case "redis":
		if s.config.RedisURL == "" {
			return errors.New("redis store backend requires RedisURL")
		}
		client, err := newRedisClient(s.config.RedisURL)
		if err != nil {
			return err
		}
		s.redisClient = client
		s.storeOwnsRedis = true
		s.store = redisstore.NewWithClient(client)
	case "memory":
		slog.Warn("Using in-memory snapshot store, documents will not survive restarts")
		s.store = storage.NewMemoryStore()
	default:
		return fmt.Errorf("unknown store backend %q", s.config.StoreBackend)
	}
	slog.Info("Snapshot store initialized", "backend", s.config.StoreBackend)
	return nil
}

func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("docsync-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

func (s *service) initRouter(resolver auth.MembershipResolver) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("docsync-service"))

	routes.SetupRoutes(s.router, s.manager, s.config.Provider, resolver)
}

// cleanup releases the store, Redis client, and tracer. Safe to call on a
// partially constructed service.
func (s *service) cleanup() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("snapshot store close error", "error", err)
		}
		s.store = nil
	}
	if s.redisClient != nil && !s.storeOwnsRedis {
		if err := s.redisClient.Close(); err != nil {
			slog.Warn("redis client close error", "error", err)
		}
		s.redisClient = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
