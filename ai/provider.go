package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request is one logical completion call. ImageURL is set only for vision
// requests; providers without vision support ignore it.
type Request struct {
	Prompt      string
	ImageURL    string
	MaxTokens   int
	Temperature float64
}

// Provider is a single AI backend able to serve the completion operation.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// OpenAIProvider talks to an OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIProvider creates a provider for the given endpoint, key and model.
func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai/" + p.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *imageURLValue `json:"image_url,omitempty"`
}

type imageURLValue struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
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

// Complete sends one chat completion request. Vision requests carry the
// image as an image_url content part alongside the prompt text.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	var content any = req.Prompt
	if req.ImageURL != "" {
		content = []contentPart{
			{Type: "text", Text: req.Prompt},
			{Type: "image_url", ImageURL: &imageURLValue{URL: req.ImageURL}},
		}
	}

	payload := chatRequest{
		Model:       p.model,
		Messages:    []chatMessage{{Role: "user", Content: content}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("openai: status %d: decode: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		if parsed.Error != nil {
			msg = parsed.Error.Type + ": " + parsed.Error.Message
		}
		return "", fmt.Errorf("openai: status %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai: response carries no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// LlamaProvider talks to a llama.cpp completion server.
type LlamaProvider struct {
	endpointURL string
	apiKey      string
	client      *http.Client
}

// NewLlamaProvider creates a provider for a llama.cpp /completion endpoint.
func NewLlamaProvider(endpointURL, apiKey string) *LlamaProvider {
	return &LlamaProvider{
		endpointURL: endpointURL,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *LlamaProvider) Name() string {
	return "llamacpp"
}

type llamaRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type llamaResponse struct {
	Content string `json:"content"`
}

// Complete posts one completion request. A 503 means the model is cold:
// the call is re-issued once with the wait-for-model header and a longer
// timeout before any error is surfaced.
func (p *LlamaProvider) Complete(ctx context.Context, req Request) (string, error) {
	payload := llamaRequest{
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        0.95,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("llamacpp: marshal request: %w", err)
	}

	resp, err := p.post(ctx, body, false)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		resp.Body.Close()
		resp, err = p.post(ctx, body, true)
		if err != nil {
			return "", err
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("llamacpp: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llamacpp: status %d: %s", resp.StatusCode, raw)
	}

	var parsed llamaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llamacpp: decode: %w", err)
	}
	return parsed.Content, nil
}

func (p *LlamaProvider) post(ctx context.Context, body []byte, waitForModel bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpointURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llamacpp: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if waitForModel {
		httpReq.Header.Set("x-wait-for-model", "true")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llamacpp: request: %w", err)
	}
	return resp, nil
}
