// =============================================================================
// crewplanner OpenAI-Compatible Provider
// =============================================================================
// openai / siliconflow / ollama / huggingface 共用的 /v1/chat/completions 实现。
// =============================================================================

package openaicompat

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

	"github.com/BaSui01/crewplanner/internal/tlsutil"
	"github.com/BaSui01/crewplanner/llm"
	"go.uber.org/zap"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	// ProviderName is the unique identifier for this provider (e.g., "siliconflow").
	ProviderName string
	APIKey       string
	BaseURL      string
	// DefaultModel is used when the request leaves Model empty.
	DefaultModel string
	// Timeout is the HTTP client timeout. Defaults to 60s if zero.
	Timeout time.Duration
	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string
}

// Provider implements llm.Provider over the OpenAI chat completions API.
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New creates a new OpenAI-compatible provider with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:    cfg,
		Client: tlsutil.HTTPClient(timeout),
		Logger: logger.With(zap.String("provider", cfg.ProviderName)),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.Cfg.ProviderName }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type wireRequest struct {
	Model            string        `json:"model"`
	Messages         []wireMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	Temperature      float64       `json:"temperature,omitempty"`
	TopP             float64       `json:"top_p,omitempty"`
	FrequencyPenalty float64       `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64       `json:"presence_penalty,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
	Stream           bool          `json:"stream,omitempty"`
}

type wireChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      *wireMessage `json:"message,omitempty"`
	Delta        *wireMessage `json:"delta,omitempty"`
}

type wireResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Created int64          `json:"created"`
	Choices []wireChoice   `json:"choices"`
	Usage   *llm.ChatUsage `json:"usage,omitempty"`
}

func (p *Provider) buildBody(req *llm.ChatRequest, stream bool) wireRequest {
	model := req.Model
	if model == "" {
		model = p.Cfg.DefaultModel
	}
	msgs := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := string(m.Role)
		name := m.Name
		// 工具观察结果以 user 消息发送，没有 tool_call_id 可关联
		if role == "tool" {
			role = "user"
			name = ""
		}
		msgs = append(msgs, wireMessage{Role: role, Content: m.Content, Name: name})
	}
	return wireRequest{
		Model:            model,
		Messages:         msgs,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stop:             req.Stop,
		Stream:           stream,
	}
}

func (p *Provider) post(ctx context.Context, body wireRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := strings.TrimRight(p.Cfg.BaseURL, "/") + p.Cfg.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.Cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.Cfg.APIKey)
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, llm.NetworkError(err, p.Name())
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := llm.ReadErrorMessage(resp.Body)
		p.Logger.Warn("upstream error", zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return nil, llm.MapHTTPError(resp.StatusCode, msg, p.Name())
	}
	return resp, nil
}

// Completion performs a non-streaming chat completion.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.post(ctx, p.buildBody(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var oa wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&oa); err != nil {
		return nil, llm.NetworkError(err, p.Name())
	}

	out := &llm.ChatResponse{ID: oa.ID, Provider: p.Name(), Model: oa.Model}
	if len(oa.Choices) > 0 {
		c := oa.Choices[0]
		out.FinishReason = c.FinishReason
		if c.Message != nil {
			out.Content = c.Message.Content
		}
	}
	if oa.Usage != nil {
		out.Usage = *oa.Usage
	}
	if oa.Created != 0 {
		out.CreatedAt = time.Unix(oa.Created, 0)
	}
	return out, nil
}

// Stream performs a streaming chat completion via SSE.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.post(ctx, p.buildBody(req, true))
	if err != nil {
		return nil, err
	}
	return StreamSSE(ctx, resp.Body, p.Name()), nil
}

// StreamSSE parses an OpenAI-style SSE body into chunks. The channel closes
// on [DONE], EOF or the first error.
func StreamSSE(ctx context.Context, body io.ReadCloser, providerName string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)

		send := func(c llm.StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- c:
				return true
			}
		}

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					send(llm.StreamChunk{Err: llm.NetworkError(err, providerName)})
				}
				return
			}
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var oa wireResponse
			if err := json.Unmarshal([]byte(data), &oa); err != nil {
				send(llm.StreamChunk{Err: llm.NetworkError(err, providerName)})
				return
			}
			for _, choice := range oa.Choices {
				chunk := llm.StreamChunk{FinishReason: choice.FinishReason, Usage: oa.Usage}
				if choice.Delta != nil {
					chunk.Delta = choice.Delta.Content
				}
				if !send(chunk) {
					return
				}
			}
		}
	}()
	return ch
}
