package tools

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// gjsonPath 把 $.a.b[0].c 形式的选择器转换为 gjson 路径 a.b.0.c
func gjsonPath(selector string) string {
	s := strings.TrimSpace(selector)
	s = strings.TrimPrefix(s, "$")
	s = indexPattern.ReplaceAllString(s, ".$1")
	s = strings.TrimPrefix(s, ".")
	if s == "" {
		return "@this"
	}
	return s
}

// applyMapping 在原始响应上叠加映射字段；路径不存在时字段为 nil。
// 原始响应不是对象时放在 data 字段下。
func applyMapping(raw []byte, decoded any, mapping map[string]string) any {
	if len(mapping) == 0 {
		return decoded
	}

	out := make(map[string]any)
	if obj, ok := decoded.(map[string]any); ok {
		for k, v := range obj {
			out[k] = v
		}
	} else if decoded != nil {
		out["data"] = decoded
	}

	for field, selector := range mapping {
		res := gjson.GetBytes(raw, gjsonPath(selector))
		if !res.Exists() {
			out[field] = nil
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(res.Raw), &v); err != nil {
			out[field] = res.Value()
			continue
		}
		out[field] = v
	}
	return out
}
