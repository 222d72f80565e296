package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MCP (Model Context Protocol) 工具服务器的 JSON-RPC 2.0 消息

const JSONRPCVersion = "2.0"

// 支持的方法
const (
	MethodToolsList = "tools/list"
	MethodToolsGet  = "tools/get"
	MethodToolsCall = "tools/call"
)

// 标准错误码
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
)

// Request JSON-RPC 请求
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// NewRequest 创建请求
func NewRequest(id int64, method string, params map[string]any) *Request {
	return &Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}
}

// Response JSON-RPC 响应。ID 保留原始字节，服务端可能回传数字或字符串。
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Matches 判断响应是否属于给定请求 id
func (r *Response) Matches(id int64) bool {
	raw := strings.Trim(strings.TrimSpace(string(r.ID)), `"`)
	return raw == fmt.Sprint(id)
}

// RPCError JSON-RPC 错误
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ToolDefinition 工具定义（tools/list、tools/get 的返回项）
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ContentBlock tools/call 结果中的内容块
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult tools/call 的结果
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text 拼接所有 text 类型内容块
func (r *CallResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// listResult tools/list 的结果
type listResult struct {
	Tools []ToolDefinition `json:"tools"`
}
