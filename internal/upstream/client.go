package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"keygate/internal/chat"
	"keygate/internal/config"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrCredentialMissing is returned before any network call is attempted
	// when no upstream API key is configured.
	ErrCredentialMissing = errors.New("upstream api key not configured")
	// ErrUnavailable wraps transport-level failures reaching the upstream.
	ErrUnavailable = errors.New("upstream unavailable")
)

// NoReply is substituted when a structurally successful upstream response
// carries no completion text. Missing content is never a hard error.
const NoReply = "No reply."

// Error carries an upstream failure for operator diagnostics. The credential
// never appears in it.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}

// Client is a thin non-streaming wrapper over the completion API. One attempt
// per request; callers re-submit if they want a retry.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

// NewClient builds a Client from the upstream configuration. A missing API
// key still yields a usable Client whose calls fail fast with
// ErrCredentialMissing.
func NewClient(cfg config.UpstreamConfig, logger *slog.Logger) *Client {
	c := &Client{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger.With("component", "upstream"),
	}
	if cfg.APIKey == "" {
		return c
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	c.api = openai.NewClientWithConfig(oc)
	return c
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Complete sends the message sequence as a single non-streaming completion
// call and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, messages []chat.Message) (string, error) {
	if c.api == nil {
		return "", ErrCredentialMissing
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toUpstream(messages),
		Temperature: c.temperature,
	})
	if err != nil {
		return "", c.mapError(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		c.logger.Warn("Upstream returned no completion content", "model", c.model)
		return NoReply, nil
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteJSON asks the model for a JSON object and decodes the reply. Used
// by the structured study-tool endpoints.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (map[string]interface{}, error) {
	if c.api == nil {
		return nil, ErrCredentialMissing
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.6,
	})
	if err != nil {
		return nil, c.mapError(err)
	}

	text := "{}"
	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
		text = resp.Choices[0].Message.Content
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, &Error{Message: "model returned invalid JSON"}
	}
	return out, nil
}

// mapError translates client failures into the local error taxonomy.
func (c *Client) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		c.logger.Warn("Upstream API error", "status", apiErr.HTTPStatusCode, "message", apiErr.Message)
		return &Error{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		c.logger.Warn("Upstream request error", "status", reqErr.HTTPStatusCode)
		return &Error{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	c.logger.Error("Upstream unreachable", "error", err)
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func toUpstream(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
