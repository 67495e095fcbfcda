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
	// DefaultEndpoint is the public Generative Language API base URL
	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel is used when Config.Model is empty
	DefaultModel = "gemini-2.0-flash"

	defaultHTTPTimeout = 60 * time.Second
	maxResponseBytes   = 4 << 20
)

// Config captures the runtime settings required to talk to the model.
type Config struct {
	APIKey         string
	Endpoint       string
	Model          string
	TimeoutSeconds int
}

// Client wraps the generateContent API. It issues exactly one request per call.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			Endpoint:       strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.Endpoint == "" {
		client.cfg.Endpoint = DefaultEndpoint
	}
	if client.cfg.Model == "" {
		client.cfg.Model = DefaultModel
	}
	return client
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// StatusError is returned when the model endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model request: http %d: %s", e.StatusCode, summarizePayloadSnippet(e.Body))
}

// GenerateRequest describes a single generation call.
type GenerateRequest struct {
	Prompt          string
	Temperature     float64
	TopK            int
	TopP            float64
	MaxOutputTokens int
	// WebSearch enables the model's own search grounding tool.
	WebSearch bool
	// JSON asks the model for a JSON response body. Ignored when WebSearch is set.
	JSON bool
}

type generateContentRequest struct {
	Contents         []requestContent `json:"contents"`
	Tools            []requestTool    `json:"tools,omitempty"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type requestContent struct {
	Role  string        `json:"role,omitempty"`
	Parts []contentPart `json:"parts"`
}

type contentPart struct {
	Text string `json:"text"`
}

type requestTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopK             int     `json:"topK,omitempty"`
	TopP             float64 `json:"topP,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []contentPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate issues one generateContent request and returns the text of the first candidate.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("model generate: prompt required")
	}
	if c.cfg.APIKey == "" {
		return "", errors.New("model generate: api key required")
	}

	payload := generateContentRequest{
		Contents: []requestContent{{Role: "user", Parts: []contentPart{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			TopK:            req.TopK,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxOutputTokens,
		},
	}
	if req.WebSearch {
		payload.Tools = []requestTool{{GoogleSearch: &struct{}{}}}
	} else if req.JSON {
		payload.GenerationConfig.ResponseMIMEType = "application/json"
	}

	resp, err := c.send(ctx, payload)
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("model generate: prompt blocked (%s)", resp.PromptFeedback.BlockReason)
		}
		return "", errors.New("model generate: empty candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", fmt.Errorf("model generate: empty content (finish_reason=%q)", resp.Candidates[0].FinishReason)
	}
	return text.String(), nil
}

func (c *Client) send(ctx context.Context, payload generateContentRequest) (*generateContentResponse, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("model request: encode body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.Endpoint, c.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("model request: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model request: http error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("model request: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("model request: decode response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("model request: api error %d: %s", decoded.Error.Code, strings.TrimSpace(decoded.Error.Message))
	}
	return &decoded, nil
}
