// Package openai provides a thin wrapper around the official OpenAI Go SDK for chat completions.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

var (
	// ErrEmptyPrompt is returned when Complete is called with an empty prompt.
	ErrEmptyPrompt = errors.New("openai: prompt is empty")
	// ErrNoChoiceInResponse is returned when the API response contains no choices.
	ErrNoChoiceInResponse = errors.New("openai: no choice in response")
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// ProviderName identifies this provider in analysis records.
const ProviderName = "openai"

// Client calls the OpenAI chat completions API via the official SDK.
type Client struct {
	sdk   openaisdk.Client
	model string
}

// ClientOption configures the Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	model    string
	baseURL  string
	retryMax int
	timeout  time.Duration
}

// WithModel sets the chat model. Empty uses DefaultModel.
func WithModel(model string) ClientOption {
	return func(c *clientConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at another API host.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *clientConfig) {
		c.baseURL = baseURL
	}
}

// WithRetryMax sets how many times a failed HTTP call is retried.
func WithRetryMax(n int) ClientOption {
	return func(c *clientConfig) {
		c.retryMax = n
	}
}

// NewClient creates an OpenAI chat client. HTTP retries are handled by go-retryablehttp;
// the SDK's own retry loop is disabled.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	cfg := clientConfig{model: DefaultModel, retryMax: 3, timeout: 60 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.retryMax
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.HTTPClient.Timeout = cfg.timeout
	retryClient.Logger = nil

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(retryClient.StandardClient()),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Client{
		sdk:   openaisdk.NewClient(sdkOpts...),
		model: cfg.model,
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return ProviderName }

// Model returns the configured chat model.
func (c *Client) Model() string { return c.model }

// Complete sends prompt as a single user message and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, prompt string, temperature *float64, maxTokens *int) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	params := openaisdk.ChatCompletionNewParams{
		Messages: []openaisdk.ChatCompletionMessageParamUnion{openaisdk.UserMessage(prompt)},
		Model:    openaisdk.ChatModel(c.model),
	}

	if temperature != nil {
		params.Temperature = param.NewOpt(*temperature)
	}

	if maxTokens != nil {
		params.MaxCompletionTokens = param.NewOpt(int64(*maxTokens))
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrNoChoiceInResponse
	}

	return resp.Choices[0].Message.Content, nil
}
