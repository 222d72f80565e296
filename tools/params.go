package tools

import (
	"fmt"
	"sort"
	"strings"
)

// ParamSpec 单个参数的声明
type ParamSpec struct {
	Type        string `json:"type,omitempty" yaml:"type"`
	Required    bool   `json:"required,omitempty" yaml:"required"`
	Default     any    `json:"default,omitempty" yaml:"default"`
	Description string `json:"description,omitempty" yaml:"description"`
	Enum        []any  `json:"enum,omitempty" yaml:"enum"`
}

// Params 参数 schema
type Params map[string]ParamSpec

// Apply 返回补全默认值后的参数副本；缺少必填参数、类型或枚举不匹配时返回 validation_error 结果
func (p Params) Apply(args map[string]any) (map[string]any, *Result) {
	out := make(map[string]any, len(args)+len(p))
	for k, v := range args {
		out[k] = v
	}

	for _, name := range p.names() {
		spec := p[name]
		v, ok := out[name]
		if !ok || v == nil {
			if spec.Default != nil {
				out[name] = spec.Default
			} else if spec.Required {
				r := Failure(ErrTypeValidation, "missing required parameter %q", name)
				return nil, &r
			}
			continue
		}
		if !typeMatches(spec.Type, v) {
			r := Failure(ErrTypeValidation, "parameter %q must be of type %s", name, spec.Type)
			return nil, &r
		}
		if len(spec.Enum) > 0 && !inEnum(v, spec.Enum) {
			r := Failure(ErrTypeValidation, "parameter %q must be one of %v", name, spec.Enum)
			return nil, &r
		}
	}
	return out, nil
}

// Describe 生成写入提示词的参数说明
func (p Params) Describe() string {
	if len(p) == 0 {
		return ""
	}
	parts := make([]string, 0, len(p))
	for _, name := range p.names() {
		spec := p[name]
		attrs := spec.Type
		if attrs == "" {
			attrs = "any"
		}
		if spec.Required {
			attrs += ", required"
		}
		line := fmt.Sprintf("%s (%s)", name, attrs)
		if spec.Description != "" {
			line += ": " + spec.Description
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "; ")
}

func (p Params) names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func typeMatches(typ string, v any) bool {
	switch typ {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "number", "integer":
		switch n := v.(type) {
		case int, int32, int64, uint, uint32, uint64, float32:
			return true
		case float64:
			return typ == "number" || n == float64(int64(n))
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	}
	return true
}

func inEnum(v any, enum []any) bool {
	s := fmt.Sprint(v)
	for _, e := range enum {
		if fmt.Sprint(e) == s {
			return true
		}
	}
	return false
}
