package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/crewplanner/config"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Loader 读取 JSON / YAML 工具定义文档，展开 ${NAME} 后解码为带判别字段的 ToolConfig
type Loader struct {
	lookupEnv func(string) (string, bool)
	logger    *zap.Logger
}

// NewLoader 创建文档加载器
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		lookupEnv: os.LookupEnv,
		logger:    logger.With(zap.String("component", "tool_loader")),
	}
}

// WithLookupEnv 替换环境变量来源（测试用）
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	if fn != nil {
		l.lookupEnv = fn
	}
	return l
}

// LoadFile 按扩展名选择格式：.json 为 JSON，其它按 YAML 解析
func (l *Loader) LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ToolLoaderError{Source: path, Reason: "cannot read document", Err: err}
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	doc, err := l.Parse(data, format)
	if err != nil {
		var le *ToolLoaderError
		if errors.As(err, &le) {
			le.Source = path
		}
		return nil, err
	}
	l.logger.Info("tool document loaded",
		zap.String("path", path),
		zap.String("version", doc.Version),
		zap.Int("tools", len(doc.Tools)),
	)
	return doc, nil
}

// Parse 解析并校验文档
func (l *Loader) Parse(data []byte, format string) (*Document, error) {
	var raw any
	switch format {
	case "json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, &ToolLoaderError{Reason: "invalid JSON", Err: err}
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &ToolLoaderError{Reason: "invalid YAML", Err: err}
		}
	}

	root, ok := config.InterpolateWith(raw, l.lookupEnv).(map[string]any)
	if !ok {
		return nil, loaderErr("", "document must be a mapping")
	}

	doc := &Document{}
	if v, ok := root["version"]; ok && v != nil {
		doc.Version = fmt.Sprint(v)
	}
	doc.Description, _ = root["description"].(string)

	if err := decodeField(root, "tool_groups", &doc.ToolGroups); err != nil {
		return nil, err
	}
	if err := decodeField(root, "agent_tool_mapping", &doc.AgentToolMapping); err != nil {
		return nil, err
	}
	if err := decodeField(root, "loading", &doc.Loading); err != nil {
		return nil, err
	}

	entries, ok := root["tools"].([]any)
	if !ok && root["tools"] != nil {
		return nil, loaderErr("tools", "tools must be a list")
	}
	for i, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			return nil, loaderErr(fmt.Sprintf("tools[%d]", i), "tool entry must be a mapping")
		}
		tc, err := decodeTool(entry, fmt.Sprintf("tools[%d]", i))
		if err != nil {
			return nil, err
		}
		doc.Tools = append(doc.Tools, tc)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

var commonKeys = map[string]bool{"name": true, "type": true, "enabled": true, "description": true, "class": true, "config": true}

// decodeTool 类型相关字段可以放在 config 下，也可以与 name/type 平铺
func decodeTool(entry map[string]any, path string) (ToolConfig, error) {
	var tc ToolConfig
	tc.Name, _ = entry["name"].(string)
	typ, _ := entry["type"].(string)
	tc.Type = ToolType(strings.ToLower(typ))
	tc.Description, _ = entry["description"].(string)
	if v, ok := entry["enabled"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return tc, loaderErr(path+".enabled", "enabled must be a boolean")
		}
		tc.Enabled = &b
	}

	cfg, _ := entry["config"].(map[string]any)
	if cfg == nil {
		cfg = make(map[string]any)
		for k, v := range entry {
			if !commonKeys[k] {
				cfg[k] = v
			}
		}
	}

	var target any
	switch tc.Type {
	case TypeBuiltin:
		class, _ := entry["class"].(string)
		params := make(map[string]any, len(cfg))
		for k, v := range cfg {
			if k == "class" {
				if s, ok := v.(string); ok && class == "" {
					class = s
				}
				continue
			}
			params[k] = v
		}
		if class == "" {
			class = tc.Name
		}
		tc.Builtin = &BuiltinConfig{Class: class, Params: params}
		return tc, nil
	case TypeAPI:
		tc.API = &APIConfig{}
		target = tc.API
	case TypeMCPHTTP:
		tc.MCPHTTP = &MCPHTTPConfig{}
		target = tc.MCPHTTP
	case TypeMCPStdio:
		tc.MCPStdio = &MCPStdioConfig{}
		target = tc.MCPStdio
	default:
		// 未知类型交给 Validate 报告
		return tc, nil
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return tc, &ToolLoaderError{Path: path + ".config", Reason: "cannot encode config", Err: err}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return tc, &ToolLoaderError{Path: path + ".config", Reason: "invalid config", Err: err}
	}
	return tc, nil
}

func decodeField(root map[string]any, key string, out any) error {
	v, ok := root[key]
	if !ok || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return &ToolLoaderError{Path: key, Reason: "cannot encode", Err: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ToolLoaderError{Path: key, Reason: "invalid value", Err: err}
	}
	return nil
}
