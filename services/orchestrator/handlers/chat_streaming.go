// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatrelay/chatrelay/services/llm"
	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
	"github.com/chatrelay/chatrelay/services/orchestrator/history"
	"github.com/chatrelay/chatrelay/services/orchestrator/middleware"
	"github.com/chatrelay/chatrelay/services/orchestrator/observability"
	"github.com/chatrelay/chatrelay/services/orchestrator/services"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ChatStreamHandler defines the contract for the streaming chat endpoint.
//
// # Description
//
// Handles POST /v1/chat/stream: one conversation turn per request, pushed
// back as an SSE frame stream. Auth and validation failures are rejected
// with HTTP status codes before any frame; once streaming begins, every
// outcome is expressed in frames and the stream always closes with an
// `end` frame.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; Gin invokes handlers
// from many goroutines.
type ChatStreamHandler interface {
	// HandleChatStream processes one streaming chat turn.
	HandleChatStream(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// chatStreamHandler wires the pipeline stages together. All dependencies
// are process-wide and injected at construction.
type chatStreamHandler struct {
	assembler   *history.Assembler
	augmenter   *services.Augmenter
	gateway     *llm.ModelGateway
	persistence *services.ChatPersistence
	metrics     *observability.StreamingMetrics
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewChatStreamHandler creates the streaming chat handler.
//
// All stage dependencies must be non-nil; panics otherwise, since a
// missing stage is a wiring bug, not a runtime condition. metrics and
// logger may be nil.
func NewChatStreamHandler(
	assembler *history.Assembler,
	augmenter *services.Augmenter,
	gateway *llm.ModelGateway,
	persistence *services.ChatPersistence,
	metrics *observability.StreamingMetrics,
	logger *slog.Logger,
) ChatStreamHandler {
	if assembler == nil || augmenter == nil || gateway == nil || persistence == nil {
		panic("NewChatStreamHandler: all pipeline stages must be non-nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &chatStreamHandler{
		assembler:   assembler,
		augmenter:   augmenter,
		gateway:     gateway,
		persistence: persistence,
		metrics:     metrics,
		logger:      logger,
		tracer:      otel.Tracer("chatrelay.orchestrator.handlers.chat_streaming"),
	}
}

// =============================================================================
// Handler
// =============================================================================

// HandleChatStream processes POST /v1/chat/stream.
//
// # Description
//
// The flow is strictly sequential:
//  1. Resolve the authenticated subject (middleware already enforced 401)
//  2. Parse and validate the request body, apply defaults, resolve the
//     model key (400 before streaming on any failure)
//  3. Assemble the history window (store failures degrade to empty)
//  4. Build the new turn, retrieving context in knowledge_base mode
//  5. Open the SSE stream
//  6. Relay model deltas one frame each, in arrival order, while
//     accumulating the full answer
//  7. On backend failure: `error` frame, `end` frame, no persistence
//  8. On success: persist the turn pair; `newChat` on thread creation,
//     `warning` when the write failed
//  9. `end` frame, always last
//
// Client disconnect does not cancel in-flight backend work; writes to the
// dead connection fail and the stream winds down on its own.
func (h *chatStreamHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	if h.metrics != nil {
		h.metrics.StreamStarted()
		defer h.metrics.StreamEnded()
	}

	success := false
	defer func() {
		if h.metrics != nil {
			h.metrics.RecordRequest(success)
			h.metrics.RecordStreamDuration(time.Since(startTime).Seconds(), success)
		}
	}()

	// Step 0: Get the authenticated subject from context.
	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	subjectID := authInfo.SubjectID
	span.SetAttributes(attribute.String("subject.id", subjectID))

	// Step 1: Parse request body.
	var req datatypes.StreamChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if h.metrics != nil {
			h.metrics.RecordError(observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// Step 2: Validate, apply defaults, resolve the model key. All
	// failures here are 400s: no frame has been written yet.
	if err := req.Validate(); err != nil {
		if h.metrics != nil {
			h.metrics.RecordError(observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.EnsureDefaults(llm.DefaultModelKey)
	if _, err := h.gateway.Resolve(req.ModelKey); err != nil {
		if h.metrics != nil {
			h.metrics.RecordError(observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown model key"})
		return
	}
	span.SetAttributes(
		attribute.String("chat.id", req.ChatID),
		attribute.String("chat.model_key", req.ModelKey),
		attribute.String("chat.mode", req.Mode),
	)

	// Client disconnect must not cancel backend work mid-turn.
	ctx = context.WithoutCancel(ctx)

	// Step 3: Assemble the history window. Store failures already
	// degraded to an empty window inside the assembler.
	window := h.assembler.Assemble(ctx, subjectID, req.ChatID)

	// Step 4: Build the new turn.
	augmented := h.augmenter.BuildTurn(ctx, &req)
	if augmented.Degraded {
		if h.metrics != nil {
			h.metrics.RecordError(observability.ErrorCodeRetrievalDegraded)
		}
		span.SetAttributes(attribute.Bool("chat.degraded", true))
	}

	// Step 5: Open the SSE stream.
	SetSSEHeaders(c.Writer)
	writer, err := NewFrameWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	// From here on the stream always ends with an `end` frame.
	if augmented.Degraded {
		h.writeFrame(datatypes.FrameInfo, func() error { return writer.WriteInfo(augmented.Notice) })
	}

	// Step 6: Create the answer accumulator.
	accumulator, accErr := NewDeltaAccumulator()
	if accErr != nil {
		h.logger.Error("Failed to create delta accumulator", "error", accErr)
		span.RecordError(accErr)
		h.writeFrame(datatypes.FrameError, func() error { return writer.WriteError("generation unavailable") })
		h.writeFrame(datatypes.FrameEnd, writer.WriteEnd)
		return
	}
	defer accumulator.Destroy()

	// Step 7: Stream deltas. One delta, one frame, arrival order.
	messages := append(window, augmented.Turn)
	var deltaCount int
	streamErr := h.gateway.Invoke(ctx, req.ModelKey, messages, llm.GenerationParams{}, func(event llm.StreamEvent) error {
		if event.Type != llm.StreamEventToken || event.Content == "" {
			return nil
		}
		if err := accumulator.Append(event.Content); err != nil {
			return err
		}
		if err := writer.WriteMessage(event.Content); err != nil {
			return err
		}
		deltaCount++
		if h.metrics != nil {
			h.metrics.RecordFrame(datatypes.FrameMessage)
			h.metrics.RecordDelta(req.ModelKey)
		}
		return nil
	})
	span.SetAttributes(attribute.Int("stream.delta_count", deltaCount))

	// Step 8: Backend failure ends the stream without persistence.
	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "generation failed")
		h.logger.Error("Generation failed",
			"subject_id", subjectID,
			"chat_id", req.ChatID,
			"model_key", req.ModelKey,
			"delta_count", deltaCount,
			"error", streamErr,
		)
		if h.metrics != nil {
			h.metrics.RecordError(observability.ErrorCodeGeneration)
		}
		h.writeFrame(datatypes.FrameError, func() error { return writer.WriteError("generation failed") })
		h.writeFrame(datatypes.FrameEnd, writer.WriteEnd)
		return
	}

	// Step 9: Persist the completed turn. Failures downgrade to a warning
	// frame; the turn was already delivered.
	answer, answerHash, finErr := accumulator.Finalize()
	if finErr != nil {
		h.logger.Error("Failed to finalize answer", "error", finErr)
		answer = ""
	}
	result, persistErr := h.persistence.SaveTurn(ctx, subjectID, &req, answer, augmented.Mode)
	if persistErr != nil || finErr != nil {
		err := persistErr
		if err == nil {
			err = finErr
		}
		h.logger.Warn("Turn persistence failed",
			"subject_id", subjectID,
			"chat_id", req.ChatID,
			"error", err,
		)
		span.RecordError(err)
		if h.metrics != nil {
			h.metrics.RecordError(observability.ErrorCodePersistence)
		}
		h.writeFrame(datatypes.FrameWarning, func() error {
			return writer.WriteWarning("conversation could not be saved")
		})
	} else if result.NewChat {
		h.writeFrame(datatypes.FrameNewChat, func() error {
			return writer.WriteNewChat(result.ChatID, result.Title)
		})
	}

	// Step 10: Closing marker.
	h.writeFrame(datatypes.FrameEnd, writer.WriteEnd)

	h.logger.Info("Stream completed",
		"subject_id", subjectID,
		"chat_id", req.ChatID,
		"model_key", req.ModelKey,
		"mode", augmented.Mode,
		"delta_count", deltaCount,
		"answer_hash", truncateHash(answerHash),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	success = true
	span.SetStatus(codes.Ok, "stream completed")
}

// writeFrame writes one frame, logging failures instead of surfacing
// them: a dead client connection is not an error the pipeline acts on.
func (h *chatStreamHandler) writeFrame(kind string, write func() error) {
	if err := write(); err != nil {
		if !errors.Is(err, context.Canceled) {
			h.logger.Debug("Failed to write frame", "kind", kind, "error", err)
		}
		return
	}
	if h.metrics != nil {
		h.metrics.RecordFrame(kind)
	}
}

func truncateHash(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}
