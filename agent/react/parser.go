package react

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/BaSui01/crewplanner/tools"
)

const finalAnswerPrefix = "Final Answer:"

var (
	finalAnswerPattern = regexp.MustCompile(`(?s)Final Answer\s*:\s*(.*)`)
	actionPattern      = regexp.MustCompile(`(?s)Action\s*\d*\s*:[\s]*(.*?)[\s]*Action\s*\d*\s*Input\s*\d*\s*:[\s]*(.*)`)
	actionOnlyPattern  = regexp.MustCompile(`(?s)Action\s*\d*\s*:[\s]*(.*?)\s*$`)
	thoughtPattern     = regexp.MustCompile(`(?s)^\s*(?:Thought\s*:)?\s*(.*?)\s*(?:Action\s*\d*\s*:|Final Answer\s*:|$)`)
)

// 解析错误时回写给模型的提示
const (
	missingActionMsg      = "Invalid Format: Missing 'Action:' after 'Thought:'"
	missingActionInputMsg = "Invalid Format: Missing 'Action Input:' after 'Action:'"
)

// ErrParse 输出既不是 Final Answer 也不是合法的 Action
var ErrParse = errors.New("could not parse LLM output")

// ParseError 保留原始输出和回写给模型的提示
type ParseError struct {
	Raw         string
	Observation string
}

func (e *ParseError) Error() string { return ErrParse.Error() + ": " + e.Observation }

func (e *ParseError) Unwrap() error { return ErrParse }

// Decision 一次模型输出的解析结果，Action 与 Final 二选一
type Decision struct {
	Thought string
	// Action 非空表示调用工具
	Action      string
	ActionInput string
	// Final 为 true 时 Answer 为最终回答
	Final  bool
	Answer string
}

// Parse 解析 ReAct 格式输出。
// 同时出现 Action 与 Final Answer 时以先出现者为准。
func Parse(text string) (Decision, error) {
	var d Decision
	if m := thoughtPattern.FindStringSubmatch(text); m != nil {
		d.Thought = strings.TrimSpace(m[1])
	}

	finalIdx := finalAnswerPattern.FindStringIndex(text)
	actionIdx := actionPattern.FindStringSubmatchIndex(text)

	if actionIdx != nil && (finalIdx == nil || actionIdx[0] < finalIdx[0]) {
		m := actionPattern.FindStringSubmatch(text)
		d.Action = cleanToolName(m[1])
		d.ActionInput = cleanActionInput(m[2])
		if d.Action == "" {
			return d, &ParseError{Raw: text, Observation: missingActionMsg}
		}
		return d, nil
	}
	if finalIdx != nil {
		m := finalAnswerPattern.FindStringSubmatch(text)
		d.Final = true
		d.Answer = strings.TrimSpace(m[1])
		return d, nil
	}
	if actionOnlyPattern.MatchString(text) {
		return d, &ParseError{Raw: text, Observation: missingActionInputMsg}
	}
	return d, &ParseError{Raw: text, Observation: missingActionMsg}
}

func cleanToolName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`\"'*[] ")
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}

// cleanActionInput 去掉模型自行续写的 Observation 和代码围栏
func cleanActionInput(s string) string {
	if i := strings.Index(s, "\nObservation"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[\"") {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// ToolArgs 把 Action Input 转为工具参数：
// JSON 对象原样使用；其它内容作为单个位置参数映射到工具的主参数。
func ToolArgs(tool tools.Tool, input string) map[string]any {
	input = strings.TrimSpace(input)
	if input == "" || input == "{}" || strings.EqualFold(input, "none") {
		return map[string]any{}
	}
	if strings.HasPrefix(input, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(input), &obj); err == nil {
			return obj
		}
	}
	value := input
	var s string
	if strings.HasPrefix(input, `"`) && json.Unmarshal([]byte(input), &s) == nil {
		value = s
	} else {
		value = strings.Trim(input, "'")
	}

	var params tools.Params
	if pd, ok := tool.(tools.ParamDescriber); ok {
		params = pd.Params()
	}
	return map[string]any{tools.PrimaryParam(params): value}
}
