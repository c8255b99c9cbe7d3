// Package llm implements the language model client used to generate
// reply drafts. It speaks the Claude Messages API directly over HTTP;
// the pipeline worker treats it as an opaque generation capability.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nhle/mailbot/internal/model"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024
	apiURL           = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
)

// Role identifies the sender of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PromptMessage is a single turn of conversational context passed to the
// model.
type PromptMessage struct {
	Role    Role
	Content string
}

// Prompt is the full input for one generation call.
type Prompt struct {
	// System is the system instruction describing the service persona.
	System string

	// Messages is the conversation so far, oldest first, ending with
	// the message being answered.
	Messages []PromptMessage
}

// Params are the per-call generation parameters. The pipeline adjusts
// these between attempts when a draft scores below the retry threshold.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// Completion is the result of a single generation call.
type Completion struct {
	Content    string
	TokensUsed int
	ModelID    string
	Timestamp  time.Time
}

// Generator is the capability consumed by the pipeline worker.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt, params Params) (*Completion, error)
	ConnectivityCheck(ctx context.Context) error
}

// Client calls the Claude Messages API.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

var _ Generator = (*Client)(nil)

// NewClient creates a language model client from the LLM configuration
// and an API key.
func NewClient(cfg model.LLMConfig, apiKey string) *Client {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	return &Client{
		apiKey:  apiKey,
		model:   modelName,
		baseURL: apiURL,
		client:  &http.Client{},
	}
}

// Generate performs one generation call and returns the model's text
// output with token usage metadata.
func (c *Client) Generate(
	ctx context.Context, prompt Prompt, params Params,
) (*Completion, error) {
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages := make([]apiMessage, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		messages = append(messages, apiMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	reqBody := apiRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: params.Temperature,
		System:      prompt.System,
		Messages:    messages,
	}

	resp, err := c.callAPI(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &Completion{
		Content:    content,
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
		ModelID:    resp.Model,
		Timestamp:  time.Now(),
	}, nil
}

// ConnectivityCheck issues a minimal one-token request to verify the
// API is reachable and the key is valid.
func (c *Client) ConnectivityCheck(ctx context.Context) error {
	_, err := c.callAPI(ctx, apiRequest{
		Model:     c.model,
		MaxTokens: 1,
		Messages: []apiMessage{
			{Role: string(RoleUser), Content: "ping"},
		},
	})
	return err
}

// callAPI makes a single request to the Claude Messages API.
func (c *Client) callAPI(
	ctx context.Context, reqBody apiRequest,
) (*apiResponse, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling model API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &result, nil
}
