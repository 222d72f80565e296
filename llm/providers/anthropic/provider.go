package anthropic

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

const apiVersion = "2023-06-01"

// Config Anthropic provider 配置
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// Provider 通过 Messages API 实现 llm.Provider
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New 创建 Anthropic provider
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = llm.DefaultBaseURL(llm.ProviderAnthropic)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.HTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("provider", llm.ProviderAnthropic)),
	}
}

func (p *Provider) Name() string { return llm.ProviderAnthropic }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model         string    `json:"model"`
	System        string    `json:"system,omitempty"`
	Messages      []message `json:"messages"`
	MaxTokens     int       `json:"max_tokens"`
	Temperature   float64   `json:"temperature,omitempty"`
	TopP          float64   `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

type response struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// toRequest 把 system 消息合并进 system 字段，其余角色只保留 user / assistant。
// 相邻的同角色消息会被合并，Messages API 要求交替出现。
func (p *Provider) toRequest(req *llm.ChatRequest, stream bool) request {
	out := request{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        stream,
	}
	if out.Model == "" {
		out.Model = p.cfg.DefaultModel
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}

	var system []string
	for _, m := range req.Messages {
		role := "user"
		switch m.Role {
		case "system":
			system = append(system, m.Content)
			continue
		case "assistant":
			role = "assistant"
		}
		if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == role {
			out.Messages[n-1].Content += "\n\n" + m.Content
			continue
		}
		out.Messages = append(out.Messages, message{Role: role, Content: m.Content})
	}
	out.System = strings.Join(system, "\n\n")
	return out
}

func (p *Provider) post(ctx context.Context, body request) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, llm.NetworkError(err, p.Name())
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := llm.ReadErrorMessage(resp.Body)
		p.logger.Warn("upstream error", zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return nil, llm.MapHTTPError(resp.StatusCode, msg, p.Name())
	}
	return resp, nil
}

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.post(ctx, p.toRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ar response
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, llm.NetworkError(err, p.Name())
	}

	var sb strings.Builder
	for _, c := range ar.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return &llm.ChatResponse{
		ID:           ar.ID,
		Provider:     p.Name(),
		Model:        ar.Model,
		Content:      sb.String(),
		FinishReason: ar.StopReason,
		Usage: llm.ChatUsage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
			TotalTokens:      ar.Usage.InputTokens + ar.Usage.OutputTokens,
		},
		CreatedAt: time.Now(),
	}, nil
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.post(ctx, p.toRequest(req, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		send := func(c llm.StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- c:
				return true
			}
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					send(llm.StreamChunk{Err: llm.NetworkError(err, p.Name())})
				}
				return
			}
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var ev streamEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
				send(llm.StreamChunk{Err: llm.NetworkError(err, p.Name())})
				return
			}
			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Type == "text_delta" && !send(llm.StreamChunk{Delta: ev.Delta.Text}) {
					return
				}
			case "message_delta":
				chunk := llm.StreamChunk{FinishReason: ev.Delta.StopReason}
				if ev.Usage != nil {
					chunk.Usage = &llm.ChatUsage{CompletionTokens: ev.Usage.OutputTokens}
				}
				if !send(chunk) {
					return
				}
			case "message_stop":
				return
			}
		}
	}()
	return ch, nil
}
