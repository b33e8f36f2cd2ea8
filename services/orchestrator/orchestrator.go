// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator provides the core streaming chat service for ChatRelay.
//
// This package contains the main Service type that wires together all
// components of the pipeline: HTTP routing, the chat history store, the
// retrieval augmenter, the model gateway, and observability infrastructure.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 8080, DataDir: "./data"}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chatrelay/chatrelay/pkg/extensions"
	"github.com/chatrelay/chatrelay/services/llm"
	"github.com/chatrelay/chatrelay/services/orchestrator/handlers"
	"github.com/chatrelay/chatrelay/services/orchestrator/history"
	"github.com/chatrelay/chatrelay/services/orchestrator/observability"
	"github.com/chatrelay/chatrelay/services/orchestrator/retrieval"
	"github.com/chatrelay/chatrelay/services/orchestrator/routes"
	"github.com/chatrelay/chatrelay/services/orchestrator/services"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the chat orchestrator service.
//
// # Description
//
// Service abstracts the orchestrator lifecycle, enabling testing and
// alternative implementations. Run() blocks and should only be called
// once per instance.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use after construction.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	// Cleanup of the store, tracer, and locked memory is automatic on
	// return.
	Run() error

	// Router returns the underlying Gin engine for integration testing.
	// Callers must not modify the registered routes.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the orchestrator service.
// Values can be populated from environment variables, config files, or
// programmatically for testing. All fields are optional; zero values
// use the defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 8080
	Port int

	// DataDir is the directory holding the BadgerDB chat history.
	// If empty, an in-memory store is used and history does not
	// survive a restart.
	DataDir string

	// WeaviateURL is the Weaviate vector database URL.
	// If empty, knowledge_base requests demote to general mode.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// CorpusClass is the Weaviate class holding knowledge chunks.
	// Default: retrieval.DefaultClassName
	CorpusClass string

	// AuthMode selects the authentication provider.
	// Valid values: "bearer" (default), "none" (local development).
	AuthMode string

	// ModelTablePath points at a YAML model table replacing the
	// built-in model key set. If empty, the built-in table is used.
	ModelTablePath string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "chatrelay-otel-collector:4317"
	OTelEndpoint string

	// DisableMetrics skips Prometheus metric registration. The
	// /metrics endpoint stays registered but reports nothing.
	DisableMetrics bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// All fields are read-only after New() returns.
type service struct {
	config        Config
	logger        *slog.Logger
	router        *gin.Engine
	store         *history.BadgerStore
	gateway       *llm.ModelGateway
	authProvider  extensions.AuthProvider
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Opens the BadgerDB chat history store
//  5. Creates the Weaviate retriever if a URL is provided
//  6. Builds the model gateway from the configured API credentials
//  7. Sets up HTTP routes
//
// A missing Weaviate URL is not fatal: the service runs in lightweight
// mode and knowledge_base requests demote to general. A missing model
// backend credential disables that family only; New fails when no
// backend at all can be reached.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - logger: Structured logger. Nil selects slog.Default().
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if initialization fails
func New(cfg Config, logger *slog.Logger) (Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &service{
		config: applyConfigDefaults(cfg),
		logger: logger,
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	var metrics *observability.StreamingMetrics
	if !s.config.DisableMetrics {
		metrics = observability.InitMetrics()
		s.logger.Info("Initialized Prometheus metrics for streaming")
	}

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open chat history store: %w", err)
	}

	retriever := s.initRetriever()

	if err := s.initGateway(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize model gateway: %w", err)
	}

	s.initAuthProvider()
	s.initRouter(retriever, metrics)

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("Starting chat orchestrator server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.CorpusClass == "" {
		cfg.CorpusClass = retrieval.DefaultClassName
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = "bearer"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "chatrelay-otel-collector:4317"
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
// The returned cleanup function must be called on shutdown.
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
		resource.WithAttributes(semconv.ServiceNameKey.String("chatrelay-orchestrator")))
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
			s.logger.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initStore opens the BadgerDB chat history store.
func (s *service) initStore() error {
	storeCfg := history.InMemoryConfig()
	if s.config.DataDir != "" {
		storeCfg = history.DefaultConfig(s.config.DataDir)
	} else {
		s.logger.Warn("No data directory configured, chat history is in-memory only")
	}
	storeCfg.Logger = s.logger

	store, err := history.OpenBadgerStore(storeCfg)
	if err != nil {
		return err
	}
	s.store = store
	return nil
}

// initRetriever creates the knowledge retriever.
//
// Returns an UnavailableRetriever when the Weaviate URL is absent or
// malformed, so misconfiguration degrades retrieval instead of taking
// the whole service down.
func (s *service) initRetriever() retrieval.Retriever {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		s.logger.Info("Weaviate URL not configured, running in lightweight mode")
		return retrieval.UnavailableRetriever{}
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		s.logger.Warn("Invalid Weaviate URL, running in lightweight mode",
			"url", weaviateURL)
		return retrieval.UnavailableRetriever{}
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		s.logger.Warn("Failed to create Weaviate client, running in lightweight mode",
			"error", err)
		return retrieval.UnavailableRetriever{}
	}

	retriever, err := retrieval.NewWeaviateRetriever(client, s.config.CorpusClass)
	if err != nil {
		s.logger.Warn("Failed to create retriever, running in lightweight mode",
			"error", err)
		return retrieval.UnavailableRetriever{}
	}

	s.logger.Info("Weaviate retriever initialized",
		"url", weaviateURL, "class", s.config.CorpusClass)
	return retriever
}

// initGateway builds the model gateway from the configured backends.
//
// A family whose client cannot be constructed (usually a missing API
// key) is left out of the gateway; requests resolving to it fail at
// generation time with a streamed error frame. Only a gateway with no
// backends at all is a construction failure.
func (s *service) initGateway() error {
	table := llm.DefaultModelTable()
	if s.config.ModelTablePath != "" {
		loaded, err := llm.LoadModelTable(s.config.ModelTablePath)
		if err != nil {
			return err
		}
		table = loaded
		s.logger.Info("Loaded model table",
			"path", s.config.ModelTablePath, "keys", len(table))
	}

	clients := make(map[string]llm.LLMClient)

	if anthropic, err := llm.NewAnthropicClient(); err != nil {
		s.logger.Warn("Anthropic backend unavailable", "error", err)
	} else {
		clients[llm.FamilyAnthropic] = anthropic
	}

	if openaiClient, err := llm.NewOpenAIClient(); err != nil {
		s.logger.Warn("OpenAI-compatible backend unavailable", "error", err)
	} else {
		clients[llm.FamilyOpenAI] = openaiClient
	}

	if len(clients) == 0 {
		return fmt.Errorf("no model backend configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}

	s.gateway = llm.NewModelGateway(table, clients)
	s.logger.Info("Model gateway initialized", "backends", len(clients))
	return nil
}

// initAuthProvider selects the authentication provider.
func (s *service) initAuthProvider() {
	switch s.config.AuthMode {
	case "none":
		s.logger.Warn("Authentication disabled, all requests run as local-user")
		s.authProvider = &extensions.NopAuthProvider{}
	default:
		s.authProvider = extensions.NewBearerClaimsProvider()
	}
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter(retriever retrieval.Retriever,
	metrics *observability.StreamingMetrics) {

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Logger(), gin.Recovery())
	s.router.Use(otelgin.Middleware("chatrelay-orchestrator"))

	chatStream := handlers.NewChatStreamHandler(
		history.NewAssembler(s.store, s.logger),
		services.NewAugmenter(retriever, s.logger),
		s.gateway,
		services.NewChatPersistence(s.store, s.logger),
		metrics,
		s.logger,
	)

	routes.SetupRoutes(s.router, s.authProvider, s.store, chatStream)
}

// cleanup releases all resources held by the service.
//
// Called when Run() exits or on initialization failure. Order matters:
// locked answer buffers are purged before the store closes so a crash
// mid-shutdown never leaves plaintext in reusable pages.
func (s *service) cleanup() {
	handlers.PurgeAllSecureMemory()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("Chat history store close error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
