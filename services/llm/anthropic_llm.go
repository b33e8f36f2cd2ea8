package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
)

const (
	anthropicAPIVersion = "2023-06-01"
	defaultAnthropicURL = "https://api.anthropic.com/v1/messages"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"` // Must be "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// anthropicStreamEvent is the data payload of one SSE event. Only the
// fields at the delta and error paths matter; everything else is ignored
// so new metadata event types never break the stream.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client Implementation ---

type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

func NewAnthropicClient() (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")

	// 1. Robust Secret Loading
	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Anthropic API Key from container secrets")
		}
	}

	// 2. Graceful Failure
	if apiKey == "" {
		slog.Warn("Anthropic API Key is missing.")
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is missing")
	}

	baseURL := os.Getenv("ANTHROPIC_BASE_URL")
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}

	return &AnthropicClient{
		// No overall timeout: the stream is bounded by ctx, and a long
		// generation legitimately exceeds any fixed request deadline.
		httpClient: &http.Client{},
		apiKey:     apiKey,
		baseURL:    baseURL,
	}, nil
}

// ChatStream implements the LLMClient interface via the Messages API SSE
// stream. A text delta exists only on content_block_delta events at
// delta.text; every other event type is a no-op.
func (a *AnthropicClient) ChatStream(ctx context.Context, model string,
	messages []datatypes.ModelMessage, params GenerationParams, callback StreamCallback) error {

	apiMessages := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		apiMessages = append(apiMessages, anthropicMessage{
			Role:    msg.Role,
			Content: toAnthropicBlocks(msg.Blocks),
		})
	}

	reqPayload := anthropicRequest{
		Model:       model,
		Messages:    apiMessages,
		MaxTokens:   4096,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		StopSeqs:    params.Stop,
		Stream:      true,
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "text/event-stream")

	slog.Debug("Opening Anthropic stream", "model", model)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return a.consumeStream(ctx, resp.Body, callback)
}

// consumeStream reads the SSE body line by line and forwards translated
// events to the callback in arrival order.
func (a *AnthropicClient) consumeStream(ctx context.Context, body io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			// event: lines are redundant with the type field in the
			// data payload; comments and blank separators are skipped.
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		event, done, err := translateAnthropicEvent([]byte(data))
		if err != nil {
			if cbErr := callback(StreamEvent{Type: StreamEventError, Error: err.Error()}); cbErr != nil {
				slog.Warn("Stream callback failed on error event", "error", cbErr)
			}
			return err
		}
		if event != nil {
			if err := callback(*event); err != nil {
				return fmt.Errorf("stream callback failed: %w", err)
			}
		}
		if done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("reading anthropic stream: %w", err)
	}

	return callback(StreamEvent{Type: StreamEventDone})
}

// translateAnthropicEvent maps one raw data payload to a normalized event.
//
// Returns a nil event for no-ops. Any payload that does not decode, or
// whose shape does not match the delta path, is a no-op, never an error;
// only an explicit error event fails the stream.
func translateAnthropicEvent(data []byte) (*StreamEvent, bool, error) {
	var event anthropicStreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Debug("Skipping undecodable stream payload", "error", err)
		return nil, false, nil
	}

	switch event.Type {
	case "content_block_delta":
		if event.Delta.Text == "" {
			// input_json_delta and friends share the event type but
			// carry no text.
			return nil, false, nil
		}
		return &StreamEvent{Type: StreamEventToken, Content: event.Delta.Text}, false, nil
	case "message_stop":
		return nil, true, nil
	case "error":
		return nil, true, fmt.Errorf("anthropic stream error: %s - %s", event.Error.Type, event.Error.Message)
	default:
		// message_start, content_block_start, ping, message_delta, and
		// whatever the API grows next.
		return nil, false, nil
	}
}

// toAnthropicBlocks maps neutral content blocks to the Messages API
// content schema.
func toAnthropicBlocks(blocks []datatypes.ContentBlock) []anthropicBlock {
	out := make([]anthropicBlock, 0, len(blocks))
	for _, block := range blocks {
		switch block.Type {
		case datatypes.BlockText:
			out = append(out, anthropicBlock{Type: "text", Text: block.Text})
		case datatypes.BlockImage, datatypes.BlockDocument:
			out = append(out, anthropicBlock{
				Type: block.Type,
				Source: &anthropicSource{
					Type:      "base64",
					MediaType: block.MediaType,
					Data:      base64.StdEncoding.EncodeToString(block.Data),
				},
			})
		}
	}
	return out
}

var _ LLMClient = (*AnthropicClient)(nil)
