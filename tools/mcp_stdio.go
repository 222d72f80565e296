package tools

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/crewplanner/agent/protocol/mcp"
	"go.uber.org/zap"
)

// MCPStdioTool 独占一个子进程工具服务器。子进程在首次调用时启动；
// 超时会终止子进程，下一次调用重新拉起。
type MCPStdioTool struct {
	name        string
	description string
	remoteName  string
	params      Params
	timeout     time.Duration
	client      *mcp.StdioClient
	logger      *zap.Logger
}

// NewMCPStdioTool 由已校验的配置创建工具，不启动子进程
func NewMCPStdioTool(tc ToolConfig, logger *zap.Logger) *MCPStdioTool {
	cfg := tc.MCPStdio
	remote := cfg.ToolName
	if remote == "" {
		remote = tc.Name
	}
	log := logger.With(zap.String("tool", tc.Name), zap.String("type", string(TypeMCPStdio)))
	return &MCPStdioTool{
		name:        tc.Name,
		description: tc.Description,
		remoteName:  remote,
		params:      cfg.Params,
		timeout:     seconds(cfg.Timeout, 60*time.Second),
		client: mcp.NewStdioClient(mcp.StdioConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
			Dir:     cfg.Dir,
		}, log),
		logger: log,
	}
}

func (t *MCPStdioTool) Name() string        { return t.name }
func (t *MCPStdioTool) Description() string { return t.description }
func (t *MCPStdioTool) Params() Params      { return t.params }

// Client 底层 stdio 客户端
func (t *MCPStdioTool) Client() *mcp.StdioClient { return t.client }

func (t *MCPStdioTool) Run(ctx context.Context, args map[string]any) Result {
	args, invalid := t.params.Apply(args)
	if invalid != nil {
		return *invalid
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	res, err := t.client.CallTool(ctx, t.remoteName, args)
	if err != nil {
		var rpcErr *mcp.RPCError
		switch {
		case errors.As(err, &rpcErr):
			return Failure(ErrTypeRPC, "%s", rpcErr.Message)
		case errors.Is(err, context.DeadlineExceeded):
			return Failure(ErrTypeTimeout, "tool server did not answer within %s", t.timeout)
		case errors.Is(err, context.Canceled):
			return Failure(ErrTypeCancelled, "call cancelled")
		default:
			return Failure(ErrTypeNetwork, "%v", err)
		}
	}
	if res.IsError {
		return Failure(ErrTypeToolError, "%s", res.Text())
	}
	return Success(map[string]any{
		"text":    res.Text(),
		"content": res.Content,
	})
}

func (t *MCPStdioTool) RunAsync(ctx context.Context, args map[string]any) <-chan Result {
	return RunAsync(ctx, t.Run, args)
}

// ListTools 通过 tools/list 发现子进程提供的工具
func (t *MCPStdioTool) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.client.ListTools(ctx)
}

// GetTool 通过 tools/get 读取单个工具的 schema
func (t *MCPStdioTool) GetTool(ctx context.Context, name string) (*mcp.ToolDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.client.GetTool(ctx, name)
}

// Close 终止子进程
func (t *MCPStdioTool) Close() error {
	return t.client.Close()
}
