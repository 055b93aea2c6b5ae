package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OpenAIConfig configures an OpenAI-compatible chat completion client.
// Most hosted providers expose this wire format, so one client covers the
// primary model, the sub-query model, and the critics.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:      apiKey,
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o",
		Temperature: 0.7,
		MaxTokens:   4096,
		Timeout:     2 * time.Minute,
	}
}

// OpenAIClient implements Client against the OpenAI chat completions API.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	log         *zap.Logger
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client from config.
func NewOpenAIClient(config OpenAIConfig, log *zap.Logger) *OpenAIClient {
	if log == nil {
		log = zap.NewNop()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	return &OpenAIClient{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		httpClient:  &http.Client{Timeout: config.Timeout},
		log:         log,
	}
}

func (c *OpenAIClient) ModelID() string      { return c.model }
func (c *OpenAIClient) Temperature() float64 { return c.temperature }

// Complete sends a prompt and returns the completion.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CompleteWithSystem sends a prompt with a system message. Transient
// failures and rate limits retry with exponential backoff; every terminal
// failure comes back as a ProviderError naming the model.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	if c.apiKey == "" {
		return "", &ProviderError{ModelID: c.model, Err: fmt.Errorf("API key not configured")}
	}

	start := time.Now()
	c.log.Debug("Completion requested",
		zap.String("model", c.model),
		zap.Int("system_len", len(systemPrompt)),
		zap.Int("user_len", len(userPrompt)))

	var messages []chatMessage
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &ProviderError{ModelID: c.model, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	const maxRetries = 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", &ProviderError{ModelID: c.model, Err: ctx.Err()}
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return "", &ProviderError{ModelID: c.model, Err: fmt.Errorf("failed to create request: %w", err)}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("API returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", &ProviderError{ModelID: c.model, Err: fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))}
		}

		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", &ProviderError{ModelID: c.model, Err: fmt.Errorf("failed to parse response: %w", err)}
		}
		if parsed.Error != nil {
			return "", &ProviderError{ModelID: c.model, Err: fmt.Errorf("API error: %s", parsed.Error.Message)}
		}
		if len(parsed.Choices) == 0 {
			return "", &ProviderError{ModelID: c.model, Err: fmt.Errorf("no completion returned")}
		}

		response := strings.TrimSpace(parsed.Choices[0].Message.Content)
		c.log.Debug("Completion finished",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("response_len", len(response)))
		return response, nil
	}

	return "", &ProviderError{ModelID: c.model, Err: fmt.Errorf("max retries exceeded: %w", lastErr)}
}
