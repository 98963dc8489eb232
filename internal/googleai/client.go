// Package googleai provides a thin wrapper around the Google Gen AI SDK for text generation (Gemini API).
package googleai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"google.golang.org/genai"
)

var (
	// ErrEmptyPrompt is returned when Complete is called with an empty prompt.
	ErrEmptyPrompt = errors.New("googleai: prompt is empty")
	// ErrEmptyResponse is returned when the API response contains no text.
	ErrEmptyResponse = errors.New("googleai: no text in response")
	// ErrInvalidMaxTokens is returned when max tokens does not fit the API's int32 field.
	ErrInvalidMaxTokens = errors.New("googleai: max tokens out of range")
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// ProviderName identifies this provider in analysis records.
const ProviderName = "gemini"

// Client calls the Gemini generate-content API via the Google Gen AI SDK.
type Client struct {
	client *genai.Client
	model  string
}

// ClientOption configures the Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	model   string
	baseURL string
}

// WithModel sets the model name (e.g. gemini-2.0-flash). Empty uses default.
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

// NewClient creates a Gemini client whose HTTP calls are retried by go-retryablehttp.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{model: DefaultModel}
	for _, opt := range opts {
		opt(&cfg)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.HTTPClient.Timeout = 60 * time.Second
	retryClient.Logger = nil

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  retryClient.StandardClient(),
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("googleai client: %w", err)
	}

	return &Client{client: genaiClient, model: cfg.model}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return ProviderName }

// Model returns the configured model.
func (c *Client) Model() string { return c.model }

// Complete generates a response to prompt with the configured model.
func (c *Client) Complete(ctx context.Context, prompt string, temperature *float64, maxTokens *int) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	config := &genai.GenerateContentConfig{}

	if temperature != nil {
		t := float32(*temperature)
		config.Temperature = &t
	}

	if maxTokens != nil {
		if *maxTokens <= 0 || *maxTokens > math.MaxInt32 {
			return "", ErrInvalidMaxTokens
		}

		//nolint:gosec // G115: bounded above by math.MaxInt32
		config.MaxOutputTokens = int32(*maxTokens)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}

	return text, nil
}
