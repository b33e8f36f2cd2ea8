// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval provides ranked snippet retrieval from the knowledge
// corpus backing knowledge_base mode.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("chatrelay.retrieval")

// TopK is the fixed result count requested from the corpus. The augmenter
// numbers snippets 1..TopK in the grounded prompt.
const TopK = 10

// DefaultClassName is the Weaviate class holding knowledge chunks.
const DefaultClassName = "KnowledgeChunk"

// Snippet is one ranked retrieval result.
type Snippet struct {
	// Content is the chunk text.
	Content string

	// Source names where the chunk came from, when the corpus records it.
	Source string
}

// Retriever returns ranked snippets for a query.
//
// Implementations must be safe for concurrent use; one retriever instance
// is shared across all requests. A failed call is reported as a
// *RetrievalError so callers can distinguish degradation from other
// failures.
type Retriever interface {
	// Search returns up to TopK snippets ranked by hybrid relevance.
	// An empty result is not an error.
	Search(ctx context.Context, query string) ([]Snippet, error)
}

// RetrievalError marks a transport or service failure of the retrieval
// call. The orchestrator recovers from it by demoting the request to
// general mode; it never surfaces as a request failure.
type RetrievalError struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval error: %s", e.Message)
}

// Unwrap exposes the underlying cause.
func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// IsRetrievalError checks if an error is a *RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// WeaviateRetriever queries the knowledge corpus with hybrid search,
// blending BM25 keyword matching with vector similarity.
type WeaviateRetriever struct {
	client    *weaviate.Client
	className string
	topK      int
}

// NewWeaviateRetriever creates a retriever over the given client.
//
// # Inputs
//
//   - client: Weaviate client. Must not be nil.
//   - className: Corpus class name. Empty selects DefaultClassName.
//
// Thread Safety: Search is safe for concurrent use.
func NewWeaviateRetriever(client *weaviate.Client, className string) (*WeaviateRetriever, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if className == "" {
		className = DefaultClassName
	}
	return &WeaviateRetriever{
		client:    client,
		className: className,
		topK:      TopK,
	}, nil
}

// Search implements Retriever via a hybrid GraphQL query.
func (r *WeaviateRetriever) Search(ctx context.Context, query string) ([]Snippet, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRetriever.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.class", r.className),
		attribute.Int("retrieval.top_k", r.topK),
	)

	hybrid := r.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional { score }"},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(r.className).
		WithFields(fields...).
		WithHybrid(hybrid).
		WithLimit(r.topK).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &RetrievalError{Message: "hybrid search failed", Err: err}
	}
	if len(result.Errors) > 0 {
		err := fmt.Errorf("graphql: %s", result.Errors[0].Message)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &RetrievalError{Message: "hybrid search rejected", Err: err}
	}

	snippets := parseSnippets(result, r.className)
	span.SetAttributes(attribute.Int("retrieval.result_count", len(snippets)))
	slog.Debug("Retrieved knowledge snippets", "query_len", len(query), "count", len(snippets))
	return snippets, nil
}

// parseSnippets walks the loosely-typed GraphQL response. Malformed
// objects are skipped rather than failing the whole result set.
func parseSnippets(result *models.GraphQLResponse, className string) []Snippet {
	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[className].([]interface{})
	if !ok {
		return nil
	}

	snippets := make([]Snippet, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		content := getString(m, "content")
		if content == "" {
			continue
		}
		snippets = append(snippets, Snippet{
			Content: content,
			Source:  getString(m, "source"),
		})
	}
	return snippets
}

func getString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

var _ Retriever = (*WeaviateRetriever)(nil)

// UnavailableRetriever stands in when no vector store is configured.
// Every Search fails with a *RetrievalError, so knowledge_base requests
// demote to general mode instead of erroring out.
type UnavailableRetriever struct{}

// Search implements Retriever. It always fails.
func (UnavailableRetriever) Search(context.Context, string) ([]Snippet, error) {
	return nil, &RetrievalError{Message: "vector store not configured"}
}

var _ Retriever = UnavailableRetriever{}
