// Package gateway provides an HTTP client for an OpenAI-compatible LLM gateway.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/campuskit/tutorcore/internal/resilience"
)

// ChatMessage is one message in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body for /v1/chat/completions.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// ChatResponse is a completed chat completion.
type ChatResponse struct {
	Content   string
	Model     string
	TokensIn  int
	TokensOut int
}

// completionBody mirrors the OpenAI-compatible response wire format.
type completionBody struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Client talks to the gateway's OpenAI-compatible completion API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a gateway client. timeout bounds each HTTP call.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// ChatCompletion performs a one-shot completion.
func (c *Client) ChatCompletion(ctx context.Context, messages []ChatMessage) (*ChatResponse, error) {
	body, err := json.Marshal(ChatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	var out *ChatResponse
	call := func() error {
		resp, err := c.post(ctx, "/v1/chat/completions", body)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("gateway error %d: %s", resp.StatusCode, string(data))
		}

		var parsed completionBody
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("unmarshal completion: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("gateway returned no choices")
		}
		out = &ChatResponse{
			Content:   parsed.Choices[0].Message.Content,
			Model:     parsed.Model,
			TokensIn:  parsed.Usage.PromptTokens,
			TokensOut: parsed.Usage.CompletionTokens,
		}
		return nil
	}

	if err := c.execute(call); err != nil {
		return nil, err
	}
	return out, nil
}

// ChatCompletionStream performs a streaming completion, invoking onDelta for
// every content delta as it arrives. Returns the full accumulated text.
// onDelta runs on the caller's goroutine; a cancelled ctx stops the stream.
func (c *Client) ChatCompletionStream(ctx context.Context, messages []ChatMessage, onDelta func(string)) (string, error) {
	body, err := json.Marshal(ChatRequest{Model: c.model, Messages: messages, Stream: true})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var full string
	call := func() error {
		resp, err := c.post(ctx, "/v1/chat/completions", body)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("gateway error %d: %s", resp.StatusCode, string(data))
		}

		full, err = readStream(resp.Body, onDelta)
		return err
	}

	if err := c.execute(call); err != nil {
		return full, err
	}
	return full, nil
}

// Health checks gateway liveness.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	return resp, nil
}

func (c *Client) execute(call func() error) error {
	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}

// readStream consumes server-sent "data:" lines until the [DONE] sentinel or
// a terminal finish_reason, accumulating content deltas.
func readStream(body io.Reader, onDelta func(string)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var full strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "[DONE]" {
			break
		}

		var chunk completionBody
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Skip malformed keep-alive lines.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			full.WriteString(delta)
			if onDelta != nil {
				onDelta(delta)
			}
		}
		if chunk.Choices[0].FinishReason != "" {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("read stream: %w", err)
	}
	return full.String(), nil
}
