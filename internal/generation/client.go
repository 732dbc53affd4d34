package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/metadata"
)

// ClientConfig configures the HTTP collaborator.
type ClientConfig struct {
	Provider    string
	Model       string
	APIURL      string
	APIKey      string
	Language    candidate.Language
	MaxTokens   int
	Temperature float64
	HTTPTimeout time.Duration
}

type chatter interface {
	chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Client implements Service over an OpenAI- or Anthropic-style chat API.
//
// A Client makes one HTTP request per call; retries belong to Call.
type Client struct {
	backend  chatter
	language candidate.Language
	logger   *slog.Logger
}

// NewClient builds a Client for cfg.Provider. An empty provider is inferred
// from the model name.
func NewClient(cfg ClientConfig) (*Client, error) {
	provider := cfg.Provider
	if provider == "" {
		if strings.HasPrefix(cfg.Model, "claude-") {
			provider = "anthropic"
		} else {
			provider = "openai"
		}
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 2 * time.Minute
	}
	httpc := &http.Client{Timeout: cfg.HTTPTimeout}

	var backend chatter
	switch provider {
	case "anthropic":
		base := cfg.APIURL
		if base == "" {
			base = "https://api.anthropic.com"
		}
		backend = &anthropicClient{cfg: cfg, baseURL: strings.TrimRight(base, "/"), http: httpc}
	case "openai":
		base := cfg.APIURL
		if base == "" {
			base = "https://api.openai.com"
		}
		backend = &openaiClient{cfg: cfg, baseURL: strings.TrimRight(base, "/"), http: httpc}
	default:
		return nil, fmt.Errorf("unknown generation provider: %v", provider)
	}
	return &Client{backend: backend, language: cfg.Language, logger: slog.Default()}, nil
}

// Synthesize asks the model for a new harness.
func (c *Client) Synthesize(ctx context.Context, md *metadata.Metadata, s Strategy) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	reply, err := c.backend.chat(ctx, SynthesisSystemPrompt, RenderSynthesisPrompt(md, s))
	if err != nil {
		return "", err
	}
	code := ExtractCode(reply)
	c.logger.Debug("synthesis reply", "strategy", s.Kind, "functions", s.Functions, "bytes", len(code))
	return code, nil
}

// Repair asks the model to patch source given its diagnostic.
func (c *Client) Repair(ctx context.Context, source, diagnostic string) (string, error) {
	reply, err := c.backend.chat(ctx, RepairSystemPrompt, RenderRepairPrompt(c.language, source, diagnostic))
	if err != nil {
		return "", err
	}
	code := ExtractCode(reply)
	c.logger.Debug("repair reply", "bytes", len(code))
	return code, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicClient struct {
	cfg     ClientConfig
	baseURL string
	http    *http.Client
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system"`
	Messages    []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *anthropicClient) chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		System:      systemPrompt,
		Messages:    []chatMessage{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	err = doRequest(ctx, c.http, c.baseURL+"/v1/messages", body, map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": "2023-06-01",
		"content-type":      "application/json",
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("anthropic API error: %v", resp.Error.Message)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("anthropic returned empty content")
	}
	return resp.Content[0].Text, nil
}

type openaiClient struct {
	cfg     ClientConfig
	baseURL string
	http    *http.Client
}

type openaiRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openaiClient) chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body, err := json.Marshal(openaiRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", err
	}

	var resp openaiResponse
	err = doRequest(ctx, c.http, c.baseURL+"/v1/chat/completions", body, map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
		"Content-Type":  "application/json",
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("openai API error: %v", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func doRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
