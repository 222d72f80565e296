package llm

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/crewplanner/types"
)

// 统一的 LLM 错误码，用于对齐 HTTP 状态与可重试性。
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "LLM_INVALID_REQUEST"  // 参数/格式错误
	ErrUnauthorized    ErrorCode = "LLM_UNAUTHORIZED"     // 未授权或密钥失效
	ErrForbidden       ErrorCode = "LLM_FORBIDDEN"        // 权限或内容策略拒绝
	ErrRateLimited     ErrorCode = "LLM_RATE_LIMITED"     // 上游限流
	ErrQuotaExceeded   ErrorCode = "LLM_QUOTA_EXCEEDED"   // 额度用尽
	ErrModelOverloaded ErrorCode = "LLM_MODEL_OVERLOADED" // 模型过载
	ErrUpstreamTimeout ErrorCode = "LLM_UPSTREAM_TIMEOUT" // 上游超时
	ErrUpstreamError   ErrorCode = "LLM_UPSTREAM_ERROR"   // 上游 5xx/网络错误
)

type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// IsRetryable 判断错误链中是否存在可重试的 *Error
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

type ChatRequest struct {
	Model            string          `json:"model"`
	Messages         []types.Message `json:"messages"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	Temperature      float64         `json:"temperature,omitempty"`
	TopP             float64         `json:"top_p,omitempty"`
	FrequencyPenalty float64         `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64         `json:"presence_penalty,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type ChatResponse struct {
	ID           string    `json:"id,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model"`
	Content      string    `json:"content"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        ChatUsage `json:"usage,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// AssistantMessage 把响应转换为带 model / token / 延迟元数据的 assistant 消息
func (r *ChatResponse) AssistantMessage(latency time.Duration) types.Message {
	msg := types.NewAssistantMessage(r.Content).
		WithMetadata(types.MetaModel, r.Model).
		WithMetadata(types.MetaLatencyMs, latency.Milliseconds())
	if r.Usage.PromptTokens > 0 || r.Usage.CompletionTokens > 0 {
		msg = msg.WithMetadata(types.MetaPromptTokens, r.Usage.PromptTokens).
			WithMetadata(types.MetaCompletionTokens, r.Usage.CompletionTokens)
	}
	return msg
}

type StreamChunk struct {
	Delta        string     `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *ChatUsage `json:"usage,omitempty"` // 最终 chunk 可带 usage
	Err          *Error     `json:"error,omitempty"`
}

// Provider 统一的 LLM 适配接口
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream 发起流式聊天请求，返回增量响应通道
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}

// Collect 读取整个流并拼接内容
func Collect(ctx context.Context, ch <-chan StreamChunk) (string, error) {
	var out []byte
	for {
		select {
		case <-ctx.Done():
			return string(out), ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return string(out), nil
			}
			if chunk.Err != nil {
				return string(out), chunk.Err
			}
			out = append(out, chunk.Delta...)
		}
	}
}
