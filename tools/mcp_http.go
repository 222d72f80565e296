package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MCPHTTPTool 通过 HTTP 调用远程工具服务器：
// POST {server_url}/mcp/{server_name}/tools/{tool_name}，请求体 {"parameters": args}
type MCPHTTPTool struct {
	name        string
	description string
	cfg         MCPHTTPConfig
	endpoint    string
	timeout     time.Duration
	client      *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewMCPHTTPTool 由已校验的配置创建工具
func NewMCPHTTPTool(tc ToolConfig, client *http.Client, logger *zap.Logger) *MCPHTTPTool {
	cfg := *tc.MCPHTTP
	endpoint := fmt.Sprintf("%s/mcp/%s/tools/%s",
		strings.TrimRight(cfg.ServerURL, "/"),
		url.PathEscape(cfg.ServerName),
		url.PathEscape(cfg.ToolName),
	)
	return &MCPHTTPTool{
		name:        tc.Name,
		description: tc.Description,
		cfg:         cfg,
		endpoint:    endpoint,
		timeout:     seconds(cfg.Timeout, 30*time.Second),
		client:      client,
		limiter:     newLimiter(cfg.RateLimit),
		logger:      logger.With(zap.String("tool", tc.Name), zap.String("type", string(TypeMCPHTTP))),
	}
}

func (t *MCPHTTPTool) Name() string        { return t.name }
func (t *MCPHTTPTool) Description() string { return t.description }
func (t *MCPHTTPTool) Params() Params      { return t.cfg.Params }

func (t *MCPHTTPTool) Run(ctx context.Context, args map[string]any) Result {
	args, invalid := t.cfg.Params.Apply(args)
	if invalid != nil {
		return *invalid
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return Failure(ErrTypeRateLimited, "rate limit wait aborted: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	data, err := json.Marshal(map[string]any{"parameters": args})
	if err != nil {
		return Failure(ErrTypeValidation, "encode parameters: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(data))
	if err != nil {
		return Failure(ErrTypeInternal, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	applyAuth(req, t.cfg.Auth)

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("mcp_http call failed", zap.Error(err))
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyError(&httpStatusError{Status: resp.StatusCode, Body: errorBody(resp.Body)})
	}
	raw, decoded, err := readBody(resp)
	if err != nil {
		return classifyError(&decodeError{err: err})
	}

	// 服务端可能返回 {"result": ...} 或直接返回负载
	if obj, ok := decoded.(map[string]any); ok {
		if inner, ok := obj["result"]; ok {
			decoded = inner
			raw, _ = json.Marshal(inner)
		}
	}
	return Success(applyMapping(raw, decoded, t.cfg.ResponseMapping))
}

func (t *MCPHTTPTool) RunAsync(ctx context.Context, args map[string]any) <-chan Result {
	return RunAsync(ctx, t.Run, args)
}
