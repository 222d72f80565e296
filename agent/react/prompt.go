package react

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/crewplanner/tools"
)

// DefaultSystemPrompt 默认角色说明
const DefaultSystemPrompt = "你是一名业务流程规划助手，负责帮助用户梳理业务流程、生成 CrewAI 团队配置并指导执行。"

const formatInstructions = `你可以使用以下工具：

%s

请严格使用以下格式回答：

Question: 需要回答的问题
Thought: 你应该思考接下来做什么
Action: 要调用的工具，必须是 [%s] 之一
Action Input: 工具参数，JSON 对象
Observation: 工具返回的结果
...（Thought/Action/Action Input/Observation 可以重复多次）
Thought: 我现在知道最终答案了
Final Answer: 对用户问题的最终回答

不需要工具时直接给出 Final Answer。`

const noToolInstructions = `请使用以下格式回答：

Thought: 你的思考
Final Answer: 对用户问题的最终回答`

// 停止序列，避免模型自行编造 Observation
var stopSequences = []string{"\nObservation:"}

// renderTools 工具列表，按名称排序
func renderTools(ts []tools.Tool) (descriptions, names string) {
	sorted := append([]tools.Tool(nil), ts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	var b strings.Builder
	nameList := make([]string, 0, len(sorted))
	for _, t := range sorted {
		nameList = append(nameList, t.Name())
		fmt.Fprintf(&b, "%s: %s", t.Name(), t.Description())
		if pd, ok := t.(tools.ParamDescriber); ok {
			if p := pd.Params().Describe(); p != "" {
				fmt.Fprintf(&b, "\n  参数: %s", p)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), strings.Join(nameList, ", ")
}

// systemPrompt 角色说明 + 工具描述 + 输出格式
func systemPrompt(role string, ts []tools.Tool) string {
	if role == "" {
		role = DefaultSystemPrompt
	}
	if len(ts) == 0 {
		return role + "\n\n" + noToolInstructions
	}
	desc, names := renderTools(ts)
	return role + "\n\n" + fmt.Sprintf(formatInstructions, desc, names)
}

// step scratchpad 中的一轮
type step struct {
	Raw         string
	Action      string
	ActionInput string
	Observation string
}

// scratchpad 渲染历史步骤
func scratchpad(steps []step) string {
	var b strings.Builder
	for _, s := range steps {
		b.WriteString(strings.TrimRight(s.Raw, "\n"))
		b.WriteString("\nObservation: ")
		b.WriteString(s.Observation)
		b.WriteString("\nThought: ")
	}
	return b.String()
}

// userTurn 本轮用户输入、附加指令与 scratchpad
func userTurn(input, instructions string, steps []step) string {
	s := "Question: " + input
	if instructions != "" {
		s += "\n\n" + instructions
	}
	if pad := scratchpad(steps); pad != "" {
		s += "\n\n" + pad
	}
	return s
}
