package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"newsradar/internal/config"
	"newsradar/internal/logger"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to any /chat/completions endpoint. Transient
// failures (connect errors, timeouts, 429, 5xx) are retried with a
// fixed backoff; a stream is only retried before the first delta has
// been delivered.
type OpenAIClient struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float32
	maxRetries  int
	retryDelay  time.Duration
}

func NewOpenAIClient(cfg config.LLM) *OpenAIClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := 60 * time.Second
	if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
		timeout = d
	}
	retryDelay := 2 * time.Second
	if d, err := time.ParseDuration(cfg.RetryDelay); err == nil && d > 0 {
		retryDelay = d
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &OpenAIClient{
		client:      &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	var content string
	err := c.withRetries(ctx, func() error {
		resp, err := c.post(ctx, messages, false)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		var payload chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return fmt.Errorf("failed to decode completion response: %w", err)
		}
		if payload.Error != nil {
			return fmt.Errorf("completion error (%s): %s", payload.Error.Type, payload.Error.Message)
		}
		if len(payload.Choices) == 0 {
			return errors.New("completion response has no choices")
		}
		content = payload.Choices[0].Message.Content
		return nil
	})
	return content, err
}

func (c *OpenAIClient) CompleteStream(ctx context.Context, messages []Message, onChunk func(delta string) error) (string, error) {
	var full strings.Builder
	emit := func(delta string) error {
		full.WriteString(delta)
		if onChunk != nil {
			return onChunk(delta)
		}
		return nil
	}

	for attempt := 1; ; attempt++ {
		err := func() error {
			resp, err := c.post(ctx, messages, true)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			return readStream(resp.Body, emit)
		}()
		if err == nil {
			return full.String(), nil
		}

		// Once deltas reached the caller a restart would duplicate
		// them, so mid-stream failures are terminal.
		var transient *transientError
		if full.Len() > 0 || !errors.As(err, &transient) || attempt >= c.maxRetries {
			return full.String(), err
		}
		logger.Warn("llm stream failed, retrying", "attempt", attempt, "error", err.Error())
		select {
		case <-ctx.Done():
			return full.String(), ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *OpenAIClient) post(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &transientError{err: fmt.Errorf("%w: %v", ErrBackendUnavailable, err)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		err := fmt.Errorf("completion request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &transientError{err: err}
		}
		return nil, err
	}
	return resp, nil
}

// readStream consumes SSE data lines until [DONE] or EOF.
func readStream(body io.Reader, emit func(delta string) error) error {
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if data, ok := strings.CutPrefix(trimmed, "data:"); ok {
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return nil
			}
			if data != "" {
				var chunk chatStreamChunk
				if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr != nil {
					return fmt.Errorf("failed to decode stream chunk: %w", jsonErr)
				}
				if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
					if emitErr := emit(chunk.Choices[0].Delta.Content); emitErr != nil {
						return emitErr
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &transientError{err: fmt.Errorf("%w: %v", ErrBackendUnavailable, err)}
		}
	}
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// withRetries runs fn up to maxRetries times, backing off between
// attempts. Only transient errors are retried.
func (c *OpenAIClient) withRetries(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var transient *transientError
		if !errors.As(err, &transient) {
			return err
		}
		if attempt == c.maxRetries {
			break
		}
		logger.Warn("llm request failed, retrying", "attempt", attempt, "error", err.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return lastErr
}
