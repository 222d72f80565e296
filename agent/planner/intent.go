package planner

import "strings"

// Intent 用户意图
type Intent string

const (
	IntentConfirm      Intent = "confirm"
	IntentModify       Intent = "modify"
	IntentGenerateCrew Intent = "generate_crew"
	IntentGuidance     Intent = "guidance"
	IntentComplete     Intent = "complete"
	IntentPlanning     Intent = "planning"
)

// IntentRule 意图及其触发词（子串匹配，任一命中即可）
type IntentRule struct {
	Intent Intent
	Terms  []string
}

// DefaultIntentRules 按优先级排列，多个意图同时命中时靠前者胜出
var DefaultIntentRules = []IntentRule{
	{Intent: IntentConfirm, Terms: []string{"确认", "同意", "好的", "可以", "没问题", "confirm", "yes", "ok"}},
	{Intent: IntentModify, Terms: []string{"修改", "调整", "改变", "改", "modify", "change", "adjust"}},
	{Intent: IntentGenerateCrew, Terms: []string{"crewai", "团队", "配置", "生成", "generate", "team", "config"}},
	{Intent: IntentGuidance, Terms: []string{"如何", "怎么", "引导", "步骤", "操作", "how", "guide", "step"}},
}

// DefaultCompletionTerms guidance 阶段的结束信号
var DefaultCompletionTerms = []string{"结束", "完成了", "已完成", "退出", "再见", "done", "finish", "bye"}

// Classifier 基于关键词的确定性意图分类器
type Classifier struct {
	rules      []IntentRule
	completion []string
}

// NewClassifier 创建分类器；参数为 nil 时使用默认表
func NewClassifier(rules []IntentRule, completion []string) *Classifier {
	if rules == nil {
		rules = DefaultIntentRules
	}
	if completion == nil {
		completion = DefaultCompletionTerms
	}
	return &Classifier{rules: rules, completion: completion}
}

// Classify 返回第一个命中的意图，都未命中时为 planning
func (c *Classifier) Classify(input string) Intent {
	s := strings.ToLower(input)
	for _, r := range c.rules {
		if matchAny(s, r.Terms) {
			return r.Intent
		}
	}
	return IntentPlanning
}

// IsCompletion 是否为结束信号
func (c *Classifier) IsCompletion(input string) bool {
	return matchAny(strings.ToLower(input), c.completion)
}

func matchAny(s string, terms []string) bool {
	for _, t := range terms {
		if t != "" && strings.Contains(s, strings.ToLower(t)) {
			return true
		}
	}
	return false
}
