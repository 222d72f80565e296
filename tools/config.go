package tools

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/crewplanner/types"
)

// ToolType 工具类型（ToolConfig 的判别字段）
type ToolType string

const (
	TypeBuiltin  ToolType = "builtin"
	TypeAPI      ToolType = "api"
	TypeMCPHTTP  ToolType = "mcp_http"
	TypeMCPStdio ToolType = "mcp_stdio"
)

// Document 工具定义文档
type Document struct {
	Version          string              `json:"version"`
	Description      string              `json:"description,omitempty"`
	Tools            []ToolConfig        `json:"tools"`
	ToolGroups       map[string][]string `json:"tool_groups,omitempty"`
	AgentToolMapping map[string][]string `json:"agent_tool_mapping,omitempty"`
	Loading          LoadingConfig       `json:"loading,omitempty"`
}

// LoadingConfig 加载策略
type LoadingConfig struct {
	// Lazy 为 nil 时视为 true：首次查找时才实例化
	Lazy *bool `json:"lazy,omitempty"`
	// FailFast 实例化失败时直接返回 ToolLoaderError
	FailFast bool `json:"fail_fast,omitempty"`
	// Preload 无论 Lazy 如何都立即实例化
	Preload []string `json:"preload,omitempty"`
}

// IsLazy 默认懒加载
func (l LoadingConfig) IsLazy() bool { return l.Lazy == nil || *l.Lazy }

// ToolConfig 带判别字段的工具配置，Type 决定哪个变体非空
type ToolConfig struct {
	Name        string   `json:"name"`
	Type        ToolType `json:"type"`
	Enabled     *bool    `json:"enabled,omitempty"`
	Description string   `json:"description,omitempty"`

	Builtin  *BuiltinConfig  `json:"-"`
	API      *APIConfig      `json:"-"`
	MCPHTTP  *MCPHTTPConfig  `json:"-"`
	MCPStdio *MCPStdioConfig `json:"-"`
}

// IsEnabled 未声明 enabled 时视为启用
func (c ToolConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// BuiltinConfig 进程内工具：Class 在内置构造器表中查找，Params 原样传给构造器
type BuiltinConfig struct {
	Class  string         `json:"class"`
	Params map[string]any `json:"params,omitempty"`
}

// APIConfig HTTP API 工具
type APIConfig struct {
	Endpoint        string            `json:"endpoint"`
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Params          Params            `json:"params,omitempty"`
	ResponseMapping map[string]string `json:"response_mapping,omitempty"`
	// Timeout / RetryDelay 单位为秒
	Timeout    float64          `json:"timeout,omitempty"`
	RetryCount int              `json:"retry_count,omitempty"`
	RetryDelay float64          `json:"retry_delay,omitempty"`
	Auth       *AuthConfig      `json:"auth,omitempty"`
	RateLimit  *RateLimitConfig `json:"rate_limit,omitempty"`
}

// MCPHTTPConfig 远程工具服务器（HTTP）
type MCPHTTPConfig struct {
	ServerURL       string            `json:"server_url"`
	ServerName      string            `json:"server_name"`
	ToolName        string            `json:"tool_name"`
	Timeout         float64           `json:"timeout,omitempty"`
	Auth            *AuthConfig       `json:"auth,omitempty"`
	ResponseMapping map[string]string `json:"response_mapping,omitempty"`
	Params          Params            `json:"params,omitempty"`
	RateLimit       *RateLimitConfig  `json:"rate_limit,omitempty"`
}

// MCPStdioConfig 子进程工具服务器
type MCPStdioConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Timeout float64           `json:"timeout,omitempty"`
	// ToolName 为空时使用配置中的 name
	ToolName string `json:"tool_name,omitempty"`
	Params   Params `json:"params,omitempty"`
}

// RateLimitConfig 令牌桶限流
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst,omitempty"`
}

// AuthType 认证方式
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "api_key"
)

// AuthConfig 认证配置（按 Type 判别）
type AuthConfig struct {
	Type     AuthType `json:"type"`
	Token    string   `json:"token,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	Key      string   `json:"key,omitempty"`
	// Header api_key 所用的请求头，默认 X-API-Key
	Header string `json:"header,omitempty"`
}

func seconds(v float64, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v * float64(time.Second))
}

// =============================================================================
// 错误
// =============================================================================

// ToolLoaderError 工具文档的结构错误，Path 指向出错位置（如 tools[2].config.endpoint）
type ToolLoaderError struct {
	// Source 文档文件路径（从内存解析时为空）
	Source string
	Path   string
	Reason string
	Err    error
}

func (e *ToolLoaderError) Error() string {
	msg := "tool loader"
	if e.Source != "" {
		msg += ": " + e.Source
	}
	if e.Path != "" {
		msg += ": " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 暴露为 TOOL_LOADER 配置错误，便于 types.IsErrorCode 判断
func (e *ToolLoaderError) Unwrap() error {
	return types.NewError(types.ErrToolLoader, e.Reason).WithPath(e.Path).WithCause(e.Err)
}

func loaderErr(path, format string, args ...any) *ToolLoaderError {
	return &ToolLoaderError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// =============================================================================
// 校验
// =============================================================================

var allowedMethods = map[string]bool{"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true}

// Validate 校验文档结构；builtin class 是否存在由 Registry 校验
func (d *Document) Validate() error {
	seen := make(map[string]bool, len(d.Tools))
	for i := range d.Tools {
		path := fmt.Sprintf("tools[%d]", i)
		t := &d.Tools[i]
		if strings.TrimSpace(t.Name) == "" {
			return loaderErr(path+".name", "name is required")
		}
		if seen[t.Name] {
			return loaderErr(path+".name", "duplicate tool name %q", t.Name)
		}
		seen[t.Name] = true
		if err := t.validate(path); err != nil {
			return err
		}
	}

	for group, names := range d.ToolGroups {
		for j, name := range names {
			if !seen[name] {
				return loaderErr(fmt.Sprintf("tool_groups.%s[%d]", group, j), "unknown tool %q", name)
			}
		}
	}
	for agent, groups := range d.AgentToolMapping {
		for j, g := range groups {
			if _, ok := d.ToolGroups[g]; !ok {
				return loaderErr(fmt.Sprintf("agent_tool_mapping.%s[%d]", agent, j), "unknown tool group %q", g)
			}
		}
	}
	for j, name := range d.Loading.Preload {
		if !seen[name] {
			return loaderErr(fmt.Sprintf("loading.preload[%d]", j), "unknown tool %q", name)
		}
	}
	return nil
}

func (c *ToolConfig) validate(path string) error {
	switch c.Type {
	case TypeBuiltin:
		if c.Builtin == nil || c.Builtin.Class == "" {
			return loaderErr(path+".class", "builtin class is required")
		}
	case TypeAPI:
		a := c.API
		if a == nil {
			return loaderErr(path+".config", "api config is required")
		}
		if err := validateURL(a.Endpoint); err != nil {
			return loaderErr(path+".config.endpoint", "%v", err)
		}
		a.Method = strings.ToUpper(a.Method)
		if a.Method == "" {
			a.Method = "GET"
		}
		if !allowedMethods[a.Method] {
			return loaderErr(path+".config.method", "unsupported method %q", a.Method)
		}
		if a.Timeout < 0 || a.RetryCount < 0 || a.RetryDelay < 0 {
			return loaderErr(path+".config", "timeout, retry_count and retry_delay must not be negative")
		}
		if err := a.Auth.validate(path + ".config.auth"); err != nil {
			return err
		}
		if err := a.RateLimit.validate(path + ".config.rate_limit"); err != nil {
			return err
		}
	case TypeMCPHTTP:
		m := c.MCPHTTP
		if m == nil {
			return loaderErr(path+".config", "mcp_http config is required")
		}
		if err := validateURL(m.ServerURL); err != nil {
			return loaderErr(path+".config.server_url", "%v", err)
		}
		if m.ServerName == "" {
			return loaderErr(path+".config.server_name", "server_name is required")
		}
		if m.ToolName == "" {
			return loaderErr(path+".config.tool_name", "tool_name is required")
		}
		if err := m.Auth.validate(path + ".config.auth"); err != nil {
			return err
		}
		if err := m.RateLimit.validate(path + ".config.rate_limit"); err != nil {
			return err
		}
	case TypeMCPStdio:
		if c.MCPStdio == nil || strings.TrimSpace(c.MCPStdio.Command) == "" {
			return loaderErr(path+".config.command", "command is required")
		}
	case "":
		return loaderErr(path+".type", "type is required")
	default:
		return loaderErr(path+".type", "unknown tool type %q", c.Type)
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("url host is required")
	}
	return nil
}

func (a *AuthConfig) validate(path string) error {
	if a == nil {
		return nil
	}
	switch a.Type {
	case "", AuthNone:
	case AuthBearer:
		if a.Token == "" {
			return loaderErr(path+".token", "bearer auth requires token")
		}
	case AuthBasic:
		if a.Username == "" {
			return loaderErr(path+".username", "basic auth requires username")
		}
	case AuthAPIKey:
		if a.Key == "" {
			return loaderErr(path+".key", "api_key auth requires key")
		}
	default:
		return loaderErr(path+".type", "unknown auth type %q", a.Type)
	}
	return nil
}

func (r *RateLimitConfig) validate(path string) error {
	if r == nil {
		return nil
	}
	if r.RequestsPerSecond <= 0 {
		return loaderErr(path+".requests_per_second", "must be positive")
	}
	if r.Burst < 0 {
		return loaderErr(path+".burst", "must not be negative")
	}
	return nil
}
