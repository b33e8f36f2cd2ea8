// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command chatrelay starts the ChatRelay streaming chat HTTP server.
//
// This is the main entry point for the containerized orchestrator service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - CHATRELAY_PORT: HTTP server port (default: 8080)
//   - CHATRELAY_DATA_DIR: BadgerDB chat history directory (default: in-memory)
//   - CHATRELAY_AUTH_MODE: "bearer" or "none" (default: bearer)
//   - CHATRELAY_CORPUS_CLASS: Weaviate class for knowledge chunks
//   - CHATRELAY_MODEL_TABLE: YAML model table replacing the built-in set
//   - CHATRELAY_LOG_LEVEL: debug, info, warn, error (default: info)
//   - CHATRELAY_LOG_DIR: directory for JSON log files (optional)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: chatrelay-otel-collector:4317)
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: model backend credentials
//
// # Usage
//
//	# Build
//	go build -o chatrelay ./cmd/chatrelay
//
//	# Run
//	./chatrelay
//
//	# Or via container
//	podman-compose up chatrelay
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/chatrelay/chatrelay/pkg/logging"
	"github.com/chatrelay/chatrelay/services/orchestrator"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(getEnvString("CHATRELAY_LOG_LEVEL", "info")),
		LogDir:  os.Getenv("CHATRELAY_LOG_DIR"),
		Service: "chatrelay-orchestrator",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// Build configuration from environment variables
	cfg := orchestrator.Config{
		Port:           getEnvInt("CHATRELAY_PORT", 8080),
		DataDir:        os.Getenv("CHATRELAY_DATA_DIR"),
		WeaviateURL:    os.Getenv("WEAVIATE_SERVICE_URL"),
		CorpusClass:    os.Getenv("CHATRELAY_CORPUS_CLASS"),
		AuthMode:       getEnvString("CHATRELAY_AUTH_MODE", "bearer"),
		ModelTablePath: os.Getenv("CHATRELAY_MODEL_TABLE"),
		OTelEndpoint:   getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "chatrelay-otel-collector:4317"),
	}

	slog.Info("Starting chatrelay orchestrator",
		"port", cfg.Port,
		"auth_mode", cfg.AuthMode,
		"data_dir", cfg.DataDir,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := orchestrator.New(cfg, logger.Slog())
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
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
