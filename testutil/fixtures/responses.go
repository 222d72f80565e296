// =============================================================================
// 📦 测试数据工厂 - ReAct 格式的模型回复
// =============================================================================
package fixtures

import (
	"fmt"

	"github.com/BaSui01/crewplanner/testutil"
)

// FinalAnswer 直接给出最终答案的回复
func FinalAnswer(thought, answer string) string {
	return fmt.Sprintf("Thought: %s\nFinal Answer: %s", thought, answer)
}

// ToolStep 调用工具的回复；input 不是字符串时编码为 JSON
func ToolStep(thought, action string, input any) string {
	in, ok := input.(string)
	if !ok {
		in = testutil.MustJSON(input)
	}
	return fmt.Sprintf("Thought: %s\nAction: %s\nAction Input: %s", thought, action, in)
}

// PlanAnswer 最终答案中带 <plan> 标签的回复
func PlanAnswer(intro string, plan map[string]any) string {
	return FinalAnswer("计划已完成", fmt.Sprintf("%s\n<plan>%s</plan>", intro, testutil.MustJSON(plan)))
}

// GuidanceAnswer 最终答案中带 <guidance> 标签的回复
func GuidanceAnswer(text string) string {
	return FinalAnswer("给出指导", "<guidance>"+text+"</guidance>")
}

// MalformedReply 既没有 Action 也没有 Final Answer 的回复
func MalformedReply() string {
	return "Thought: 我在思考，但忘了给出动作"
}
