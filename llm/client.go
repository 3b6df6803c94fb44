// Package llm is a thin client for an OpenAI-compatible chat-completions
// gateway. Every request forces a named function call so that responses are
// machine-parseable JSON arguments instead of free text.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultBaseURL points at the hosted gateway used in production.
	DefaultBaseURL = "https://ai.gateway.lovable.dev/v1"

	// DefaultModel is the completion model requested by default.
	DefaultModel = "google/gemini-2.5-flash-lite"
)

// Caller-actionable upstream failures. Rate limiting is transient; quota
// exhaustion is terminal until the account is topped up.
var (
	ErrRateLimited    = errors.New("llm: rate limited")
	ErrQuotaExhausted = errors.New("llm: quota exhausted")
	ErrUpstream       = errors.New("llm: upstream error")
	ErrNotConfigured  = errors.New("llm: no API key configured")
)

// Config contains gateway client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client talks to the chat-completions gateway.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a gateway client. An empty API key yields a client whose
// Configured method reports false; callers decide whether that is fatal.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.config.APIKey != ""
}

// Message is one role-tagged turn of a chat request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool declares a callable function with a JSON-schema parameter description.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type chatRequest struct {
	Model      string          `json:"model"`
	Messages   []Message       `json:"messages"`
	Tools      []wireTool      `json:"tools,omitempty"`
	ToolChoice *wireToolChoice `json:"tool_choice,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireToolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

type gatewayError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CallTool issues one completion request that mandates an invocation of the
// named tool and returns the invocation's raw JSON arguments. A successful
// response without a tool call returns (nil, nil): the model declined, which
// callers treat as "nothing found" rather than a failure.
func (c *Client) CallTool(ctx context.Context, messages []Message, tool Tool) (json.RawMessage, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	req := chatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Tools: []wireTool{{
			Type: "function",
			Function: wireFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}},
	}
	choice := &wireToolChoice{Type: "function"}
	choice.Function.Name = tool.Name
	req.ToolChoice = choice

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.config.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUpstream, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case http.StatusPaymentRequired:
		return nil, ErrQuotaExhausted
	default:
		var gwErr gatewayError
		if json.Unmarshal(respBody, &gwErr) == nil && gwErr.Error.Message != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, gwErr.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUpstream, err)
	}
	if len(parsed.Choices) == 0 || len(parsed.Choices[0].Message.ToolCalls) == 0 {
		return nil, nil
	}

	args := parsed.Choices[0].Message.ToolCalls[0].Function.Arguments
	if args == "" {
		return nil, nil
	}
	if !json.Valid([]byte(args)) {
		// The contract promises JSON arguments; a syntactically broken payload
		// is an upstream contract violation, not a crash.
		return nil, fmt.Errorf("%w: tool arguments are not valid JSON", ErrUpstream)
	}
	return json.RawMessage(args), nil
}
