// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持按顺序回放脚本响应、按请求计算响应、流式输出与错误注入。
package mocks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/crewplanner/llm"
	"github.com/BaSui01/crewplanner/types"
)

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	// 响应配置
	script       []string
	response     string
	streamChunks []string
	err          error

	promptTokens     int
	completionTokens int

	calls          []MockProviderCall
	completionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	delay     time.Duration
	failAfter int
	callCount int
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithResponse 脚本耗尽后返回的固定响应
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithScript 依次返回的响应
func (m *MockProvider) WithScript(responses ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
	return m
}

// WithError 设置返回错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithStreamChunks 设置流式响应块
func (m *MockProvider) WithStreamChunks(chunks []string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamChunks = chunks
	return m
}

// WithTokenUsage 设置 Token 使用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithDelay 设置响应延迟，延迟期间响应 ctx 取消
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 设置在第 N 次调用后失败
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithCompletionFunc 设置自定义 Completion 函数
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// Name 返回 Provider 名称
func (m *MockProvider) Name() string { return "mock" }

// Completion 生成响应
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			m.record(req, nil, ctx.Err())
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	m.callCount++
	if m.failAfter > 0 && m.callCount > m.failAfter {
		m.mu.Unlock()
		err := errors.New("mock provider: configured to fail after N calls")
		m.record(req, nil, err)
		return nil, err
	}
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		m.record(req, nil, err)
		return nil, err
	}
	if fn := m.completionFunc; fn != nil {
		m.mu.Unlock()
		resp, err := fn(ctx, req)
		m.record(req, resp, err)
		return resp, err
	}

	content := m.response
	if len(m.script) > 0 {
		content, m.script = m.script[0], m.script[1:]
	}
	resp := &llm.ChatResponse{
		ID:           "mock-response-id",
		Provider:     "mock",
		Model:        modelOf(req),
		Content:      content,
		FinishReason: "stop",
		Usage: llm.ChatUsage{
			PromptTokens:     m.promptTokens,
			CompletionTokens: m.completionTokens,
			TotalTokens:      m.promptTokens + m.completionTokens,
		},
		CreatedAt: time.Now(),
	}
	m.mu.Unlock()

	m.record(req, resp, nil)
	return resp, nil
}

// Stream 流式生成响应；未设置流式块时把完整响应作为一个块发送
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}
	chunks := append([]string(nil), m.streamChunks...)
	m.mu.Unlock()

	if len(chunks) == 0 {
		resp, err := m.Completion(ctx, req)
		if err != nil {
			return nil, err
		}
		chunks = []string{resp.Content}
	} else {
		m.record(req, nil, nil)
	}

	ch := make(chan llm.StreamChunk, len(chunks))
	go func() {
		defer close(ch)
		for i, c := range chunks {
			chunk := llm.StreamChunk{Delta: c}
			if i == len(chunks)-1 {
				chunk.FinishReason = "stop"
			}
			select {
			case <-ctx.Done():
				return
			case ch <- chunk:
			}
		}
	}()
	return ch, nil
}

func (m *MockProvider) record(req *llm.ChatRequest, resp *llm.ChatResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
}

func modelOf(req *llm.ChatRequest) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	return "mock-model"
}

// GetCalls 返回调用记录副本
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall(nil), m.calls...)
}

// GetCallCount 返回调用次数
func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// GetLastCall 返回最后一次调用
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}

// LastPrompt 最后一次请求中所有消息内容的拼接
func (m *MockProvider) LastPrompt() string {
	call := m.GetLastCall()
	if call == nil || call.Request == nil {
		return ""
	}
	return JoinMessages(call.Request.Messages)
}

// JoinMessages 拼接消息内容，便于断言提示词片段
func JoinMessages(msgs []types.Message) string {
	parts := make([]string, len(msgs))
	for i, msg := range msgs {
		parts[i] = msg.Content
	}
	return strings.Join(parts, "\n")
}

// Reset 清空调用记录与脚本
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.script = nil
	m.callCount = 0
}

// NewSuccessProvider 总是返回 response
func NewSuccessProvider(response string) *MockProvider {
	return NewMockProvider().WithResponse(response)
}

// NewErrorProvider 总是返回 err
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewScriptedProvider 依次返回 responses，之后返回最后一条
func NewScriptedProvider(responses ...string) *MockProvider {
	p := NewMockProvider().WithScript(responses...)
	if len(responses) > 0 {
		p.response = responses[len(responses)-1]
	}
	return p
}

// NewFlakeyProvider 前 failAfter 次成功，之后失败
func NewFlakeyProvider(failAfter int, response string) *MockProvider {
	return NewMockProvider().WithResponse(response).WithFailAfter(failAfter)
}
