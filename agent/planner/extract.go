package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// 标签名
const (
	TagPlan     = "plan"
	TagGuidance = "guidance"
)

var (
	// ErrTagNotFound 输出中没有该标签
	ErrTagNotFound = errors.New("tag not found")
	// ErrInvalidArtifact 标签内容不是合法的 JSON 对象
	ErrInvalidArtifact = errors.New("tagged artifact is not a JSON object")
)

var (
	tagPatternsMu sync.Mutex
	tagPatterns   = map[string]*regexp.Regexp{}
)

func tagPattern(tag string) *regexp.Regexp {
	tagPatternsMu.Lock()
	defer tagPatternsMu.Unlock()
	re, ok := tagPatterns[tag]
	if !ok {
		q := regexp.QuoteMeta(tag)
		re = regexp.MustCompile(`(?s)<` + q + `>(.*?)</` + q + `>`)
		tagPatterns[tag] = re
	}
	return re
}

// ExtractTag 返回第一个 <tag>…</tag> 的内容（去除首尾空白）
func ExtractTag(text, tag string) (string, bool) {
	m := tagPattern(tag).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// ExtractJSON 提取标签内容并解码为 JSON 对象。内容包在 ``` 围栏中也可以。
func ExtractJSON(text, tag string) (map[string]any, error) {
	body, ok := ExtractTag(text, tag)
	if !ok {
		return nil, fmt.Errorf("%w: <%s>", ErrTagNotFound, tag)
	}
	body = stripFence(body)
	if !gjson.Valid(body) || !gjson.Parse(body).IsObject() {
		return nil, fmt.Errorf("%w: <%s>", ErrInvalidArtifact, tag)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("%w: <%s>: %v", ErrInvalidArtifact, tag, err)
	}
	return out, nil
}

// ExtractPlan 提取业务计划：JSON 对象，且至少含有 name、objective、steps 之一
func ExtractPlan(text string) (map[string]any, error) {
	plan, err := ExtractJSON(text, TagPlan)
	if err != nil {
		return nil, err
	}
	for _, k := range []string{"name", "objective", "steps"} {
		if _, ok := plan[k]; ok {
			return plan, nil
		}
	}
	return nil, fmt.Errorf("%w: plan has none of name, objective, steps", ErrInvalidArtifact)
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
