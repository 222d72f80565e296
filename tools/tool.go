package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Tool 是所有工具实例的能力契约。
// Run 从不返回 error：调用失败以 IsError() 为真的 Result 表达，交给 LLM 观察后自行恢复。
type Tool interface {
	Name() string
	Description() string
	Run(ctx context.Context, args map[string]any) Result
	RunAsync(ctx context.Context, args map[string]any) <-chan Result
}

// ParamDescriber 由声明了参数 schema 的工具实现
type ParamDescriber interface {
	Params() Params
}

// 结构化错误类型
const (
	ErrTypeValidation  = "validation_error"
	ErrTypeNetwork     = "network_error"
	ErrTypeHTTP        = "http_error"
	ErrTypeDecode      = "decode_error"
	ErrTypeTimeout     = "timeout"
	ErrTypeRPC         = "rpc_error"
	ErrTypeToolError   = "tool_error"
	ErrTypeRateLimited = "rate_limited"
	ErrTypeCancelled   = "cancelled"
	ErrTypeInternal    = "internal_error"
)

// Result 工具调用结果：成功时为任意 JSON 可序列化数据，失败时为 {error, message, type}
type Result struct {
	Data any
	Err  *ErrorInfo
}

// ErrorInfo 失败详情
type ErrorInfo struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Success 成功结果
func Success(data any) Result { return Result{Data: data} }

// Failure 失败结果
func Failure(errType, format string, args ...any) Result {
	return Result{Err: &ErrorInfo{Type: errType, Message: fmt.Sprintf(format, args...)}}
}

// IsError 是否为失败结果
func (r Result) IsError() bool { return r.Err != nil }

// MarshalJSON 失败结果编码为 {"error":true,"message":...,"type":...}
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(map[string]any{
			"error":   true,
			"message": r.Err.Message,
			"type":    r.Err.Type,
		})
	}
	return json.Marshal(r.Data)
}

// String 作为 Observation 写入 scratchpad 的文本
func (r Result) String() string {
	if s, ok := r.Data.(string); ok && r.Err == nil {
		return s
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("%v", r.Data)
	}
	return string(data)
}

// RunAsync 在独立 goroutine 中执行 run，结果通道容量为 1，调用方可以放弃读取
func RunAsync(ctx context.Context, run func(context.Context, map[string]any) Result, args map[string]any) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- Failure(ErrTypeInternal, "tool panicked: %v", p)
			}
			close(ch)
		}()
		ch <- run(ctx, args)
	}()
	return ch
}

// Await 等待异步结果；ctx 先结束时返回 cancelled 结果
func Await(ctx context.Context, ch <-chan Result) Result {
	select {
	case r, ok := <-ch:
		if !ok {
			return Failure(ErrTypeInternal, "tool returned no result")
		}
		return r
	case <-ctx.Done():
		return Failure(ErrTypeCancelled, "%v", ctx.Err())
	}
}

// PrimaryParam 返回单个位置参数应映射到的参数名：
// 唯一参数；否则唯一必填参数；否则按名称排序的第一个必填参数；都没有时为 "input"
func PrimaryParam(params Params) string {
	if len(params) == 1 {
		for name := range params {
			return name
		}
	}
	var required []string
	for name, p := range params {
		if p.Required {
			required = append(required, name)
		}
	}
	if len(required) > 0 {
		sort.Strings(required)
		return required[0]
	}
	return "input"
}

// FuncTool 把一个函数包装成 Tool，供内置工具和测试使用
type FuncTool struct {
	ToolName        string
	ToolDescription string
	ToolParams      Params
	Fn              func(ctx context.Context, args map[string]any) Result
}

func (t *FuncTool) Name() string        { return t.ToolName }
func (t *FuncTool) Description() string { return t.ToolDescription }
func (t *FuncTool) Params() Params      { return t.ToolParams }

func (t *FuncTool) Run(ctx context.Context, args map[string]any) Result {
	args, res := t.ToolParams.Apply(args)
	if res != nil {
		return *res
	}
	return t.Fn(ctx, args)
}

func (t *FuncTool) RunAsync(ctx context.Context, args map[string]any) <-chan Result {
	return RunAsync(ctx, t.Run, args)
}
