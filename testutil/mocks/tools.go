// MockTool 工具调用的测试模拟实现。
//
// 支持固定结果、失败注入、延迟与调用记录。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/crewplanner/tools"
)

// ToolFunc 工具执行函数类型
type ToolFunc func(ctx context.Context, args map[string]any) tools.Result

// ToolCall 记录单次工具调用
type ToolCall struct {
	Args   map[string]any
	Result tools.Result
	At     time.Time
}

// MockTool 实现 tools.Tool 与 tools.ParamDescriber
type MockTool struct {
	mu sync.Mutex

	name        string
	description string
	params      tools.Params
	fn          ToolFunc
	delay       time.Duration

	calls []ToolCall
}

// NewMockTool 创建返回空对象的 MockTool
func NewMockTool(name string) *MockTool {
	return &MockTool{
		name:        name,
		description: "mock tool " + name,
		fn: func(context.Context, map[string]any) tools.Result {
			return tools.Success(map[string]any{})
		},
	}
}

// WithDescription 设置描述
func (m *MockTool) WithDescription(d string) *MockTool {
	m.description = d
	return m
}

// WithParams 设置参数 schema
func (m *MockTool) WithParams(p tools.Params) *MockTool {
	m.params = p
	return m
}

// WithResult 每次调用返回 data
func (m *MockTool) WithResult(data any) *MockTool {
	m.fn = func(context.Context, map[string]any) tools.Result { return tools.Success(data) }
	return m
}

// WithFailure 每次调用返回失败结果
func (m *MockTool) WithFailure(errType, message string) *MockTool {
	m.fn = func(context.Context, map[string]any) tools.Result {
		return tools.Failure(errType, "%s", message)
	}
	return m
}

// WithFunc 自定义执行逻辑
func (m *MockTool) WithFunc(fn ToolFunc) *MockTool {
	m.fn = fn
	return m
}

// WithDelay 每次调用前等待 d，ctx 结束时返回 cancelled 失败
func (m *MockTool) WithDelay(d time.Duration) *MockTool {
	m.delay = d
	return m
}

func (m *MockTool) Name() string         { return m.name }
func (m *MockTool) Description() string  { return m.description }
func (m *MockTool) Params() tools.Params { return m.params }

// Run 执行并记录调用
func (m *MockTool) Run(ctx context.Context, args map[string]any) tools.Result {
	var res tools.Result
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
			res = m.fn(ctx, args)
		case <-ctx.Done():
			res = tools.Failure(tools.ErrTypeCancelled, "%v", ctx.Err())
		}
	} else {
		res = m.fn(ctx, args)
	}

	m.mu.Lock()
	m.calls = append(m.calls, ToolCall{Args: args, Result: res, At: time.Now()})
	m.mu.Unlock()
	return res
}

// RunAsync 在 goroutine 中执行 Run
func (m *MockTool) RunAsync(ctx context.Context, args map[string]any) <-chan tools.Result {
	ch := make(chan tools.Result, 1)
	go func() {
		ch <- m.Run(ctx, args)
	}()
	return ch
}

// GetCalls 返回所有调用记录
func (m *MockTool) GetCalls() []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ToolCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// GetCallCount 返回调用次数
func (m *MockTool) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// GetLastCall 返回最后一次调用，没有调用时为 nil
func (m *MockTool) GetLastCall() *ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}
