package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
)

type OpenAIClient struct {
	client *openai.Client
}

func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	config := openai.DefaultConfig(apiKey)
	// OPENAI_BASE_URL points the client at any OpenAI-compatible gateway,
	// which is how the nova backends are reached.
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	slog.Info("Initializing OpenAI-compatible client", "base_url", config.BaseURL)
	return &OpenAIClient{client: openai.NewClientWithConfig(config)}, nil
}

// newTestOpenAIClient builds a client against a test server URL.
func newTestOpenAIClient(baseURL string) *OpenAIClient {
	config := openai.DefaultConfig("test-key")
	config.BaseURL = baseURL + "/v1"
	return &OpenAIClient{client: openai.NewClientWithConfig(config)}
}

// ChatStream implements the LLMClient interface. A text delta exists only
// at choices[0].delta.content; chunks without choices or with an empty
// delta (role announcements, usage frames) are no-ops.
func (o *OpenAIClient) ChatStream(ctx context.Context, model string,
	messages []datatypes.ModelMessage, params GenerationParams, callback StreamCallback) error {

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	slog.Debug("Opening OpenAI-compatible stream", "model", model)

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("OpenAI stream creation failed: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if cbErr := callback(StreamEvent{Type: StreamEventError, Error: err.Error()}); cbErr != nil {
				slog.Warn("Stream callback failed on error event", "error", cbErr)
			}
			return fmt.Errorf("OpenAI stream failed: %w", err)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := callback(StreamEvent{Type: StreamEventToken, Content: delta}); err != nil {
			return fmt.Errorf("stream callback failed: %w", err)
		}
	}

	return callback(StreamEvent{Type: StreamEventDone})
}

// toOpenAIMessages maps neutral content blocks to the chat completion
// schema. Text-only turns use the plain string content field; turns with
// attachments use multi-part content. Document blocks have no part type in
// this schema, so they degrade to an inline text note naming the file
// content type.
func toOpenAIMessages(messages []datatypes.ModelMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		textOnly := true
		for _, block := range msg.Blocks {
			if block.Type != datatypes.BlockText {
				textOnly = false
				break
			}
		}

		if textOnly {
			out = append(out, openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Text(),
			})
			continue
		}

		var parts []openai.ChatMessagePart
		for _, block := range msg.Blocks {
			switch block.Type {
			case datatypes.BlockText:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: block.Text,
				})
			case datatypes.BlockImage:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", block.MediaType,
							base64.StdEncoding.EncodeToString(block.Data)),
					},
				})
			case datatypes.BlockDocument:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: fmt.Sprintf("[attached document of type %s]", block.MediaType),
				})
			}
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:         msg.Role,
			MultiContent: parts,
		})
	}
	return out
}

var _ LLMClient = (*OpenAIClient)(nil)
