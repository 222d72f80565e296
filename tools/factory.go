package tools

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/BaSui01/crewplanner/internal/tlsutil"
	"go.uber.org/zap"
)

// BuiltinConstructor 内置工具构造器，params 为配置中的自由参数
type BuiltinConstructor func(params map[string]any) (Tool, error)

// Factory 按 ToolConfig.Type 分派构造具体工具
type Factory struct {
	builtins map[string]BuiltinConstructor
	client   *http.Client
	logger   *zap.Logger
}

// NewFactory 创建工厂。builtins 为封闭的 class → 构造器映射；client 为 nil 时使用默认出站客户端
func NewFactory(builtins map[string]BuiltinConstructor, client *http.Client, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = tlsutil.HTTPClient(0)
	}
	copied := make(map[string]BuiltinConstructor, len(builtins))
	for k, v := range builtins {
		copied[k] = v
	}
	return &Factory{
		builtins: copied,
		client:   client,
		logger:   logger.With(zap.String("component", "tool_factory")),
	}
}

// HasBuiltin class 是否已注册
func (f *Factory) HasBuiltin(class string) bool {
	_, ok := f.builtins[class]
	return ok
}

// BuiltinClasses 已注册的内置 class（排序）
func (f *Factory) BuiltinClasses() []string {
	out := make([]string, 0, len(f.builtins))
	for k := range f.builtins {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Create 实例化工具。配置应已通过 Document.Validate
func (f *Factory) Create(cfg ToolConfig) (Tool, error) {
	switch cfg.Type {
	case TypeBuiltin:
		ctor, ok := f.builtins[cfg.Builtin.Class]
		if !ok {
			return nil, fmt.Errorf("unknown builtin class %q", cfg.Builtin.Class)
		}
		tool, err := ctor(cfg.Builtin.Params)
		if err != nil {
			return nil, fmt.Errorf("construct builtin %q: %w", cfg.Builtin.Class, err)
		}
		if cfg.Name != tool.Name() || cfg.Description != "" {
			tool = &renamed{Tool: tool, name: cfg.Name, description: cfg.Description}
		}
		return tool, nil
	case TypeAPI:
		return NewAPITool(cfg, f.client, f.logger), nil
	case TypeMCPHTTP:
		return NewMCPHTTPTool(cfg, f.client, f.logger), nil
	case TypeMCPStdio:
		return NewMCPStdioTool(cfg, f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported tool type %q", cfg.Type)
	}
}

// renamed 让内置工具以配置中的 name / description 对外暴露
type renamed struct {
	Tool
	name        string
	description string
}

func (r *renamed) Name() string { return r.name }

func (r *renamed) Description() string {
	if r.description != "" {
		return r.description
	}
	return r.Tool.Description()
}

func (r *renamed) Params() Params {
	if pd, ok := r.Tool.(ParamDescriber); ok {
		return pd.Params()
	}
	return nil
}

func (r *renamed) Close() error {
	if c, ok := r.Tool.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
