package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/crewplanner/agent/crews"
	"github.com/BaSui01/crewplanner/types"
)

// SystemPrompt 执行器的角色说明
const SystemPrompt = `你是一名资深的业务流程规划顾问。你的工作分为四个阶段：
1. 与用户沟通，理解业务目标并制定结构化的业务流程计划；
2. 请用户确认或修改计划；
3. 根据确认后的计划生成 CrewAI 多智能体团队配置；
4. 指导用户逐步执行计划。
回答使用中文，条理清晰。`

const greeting = `您好！我是业务流程规划助手。

我可以帮您：
1. 梳理业务目标，制定分步骤的业务流程计划；
2. 根据确认后的计划生成 CrewAI 团队配置；
3. 指导您逐步执行计划，并跟踪团队的执行进度。

请描述您想要优化或实现的业务流程，例如"我需要优化采购流程"。`

const planningInstructions = `请根据用户需求制定业务流程计划。可以先使用工具收集信息。
最终答案中必须包含用 <plan></plan> 标签包裹的 JSON，格式如下：
<plan>
{
  "name": "计划名称",
  "objective": "计划目标",
  "steps": [
    {"step": 1, "name": "步骤名称", "description": "步骤说明", "duration": "预计耗时", "resources": ["所需资源"]}
  ]
}
</plan>
标签之外可以附上简短的说明。如果信息不足，可以不给出计划，直接向用户提问。`

const guidanceTemplate = `已确认的业务计划：
%s

已生成的团队配置：%s%s

请针对用户询问的计划步骤给出具体、可操作的分步指导。
最终答案中把指导内容放在 <guidance></guidance> 标签内。`

// 固定回复
const (
	confirmedReply    = "好的，计划已确认。接下来我将根据该计划生成 CrewAI 团队配置，请回复\"生成团队配置\"继续。"
	modifyReply       = "好的，请告诉我需要修改的地方，我会据此调整计划。"
	unclearReply      = "请确认是否采用以上计划：回复\"确认\"继续生成团队配置，或回复\"修改\"并说明需要调整的内容。"
	completedReply    = "好的，本次规划会话已结束。如需开始新的规划，直接发送新的需求即可。"
	cancelledReply    = "请求已取消，当前进度已保留。"
	llmFailureReply   = "抱歉，处理您的请求时遇到了问题，请稍后重试。"
	generationFailure = "抱歉，生成团队配置时遇到问题：%v。请回复任意消息重试。"
)

func guidanceInstructions(plan, crewConfig map[string]any, executionID string) string {
	return fmt.Sprintf(guidanceTemplate, compactJSON(plan), crewSummary(crewConfig), executionNote(executionID))
}

func executionNote(executionID string) string {
	if executionID == "" {
		return ""
	}
	return fmt.Sprintf("\n已登记的执行记录：execution_id=%s。用户要求运行团队时，调用 crewai_runtime 并传入 action=run 与该 execution_id。", executionID)
}

// confirmationReply 把计划渲染给用户确认
func confirmationReply(answer string, plan map[string]any) string {
	var b strings.Builder
	if intro := strings.TrimSpace(tagPattern(TagPlan).ReplaceAllString(answer, "")); intro != "" {
		b.WriteString(intro)
		b.WriteString("\n\n")
	}
	b.WriteString(renderPlan(plan))
	b.WriteString("\n\n请确认该计划（回复\"确认\"），或告诉我需要修改的地方（回复\"修改\"）。")
	return b.String()
}

func renderPlan(plan map[string]any) string {
	p, err := crews.PlanFromMap(plan)
	if err != nil {
		return compactJSON(plan)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "【%s】", p.Name)
	if p.Objective != "" {
		fmt.Fprintf(&b, "\n目标：%s", p.Objective)
	}
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "\n%d. %s", s.Step, s.Name)
		if s.Description != "" {
			fmt.Fprintf(&b, "：%s", s.Description)
		}
		if s.Duration != "" {
			fmt.Fprintf(&b, "（%s）", s.Duration)
		}
	}
	return b.String()
}

// crewGeneratedReply 生成团队配置后的回复
func crewGeneratedReply(doc crews.Document, executionID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "已生成 CrewAI 团队配置「%s」，执行方式：%s。\n", doc.CrewAI.Name, doc.CrewAI.Process)
	fmt.Fprintf(&b, "成员（%d）：%s\n", len(doc.CrewAI.Agents), strings.Join(doc.AgentNames(), "、"))
	fmt.Fprintf(&b, "任务（%d）：%s\n", len(doc.CrewAI.Tasks), strings.Join(doc.TaskNames(), " → "))
	if executionID != "" {
		fmt.Fprintf(&b, "执行记录已登记：%s。", executionID)
	}
	b.WriteString("\n接下来您可以询问任意步骤的执行方法，或者说\"运行它\"启动团队。")
	return b.String()
}

// generatedToolSummary 记入上下文跟踪器的生成结果摘要
func generatedToolSummary(doc crews.Document, executionID string) string {
	s := fmt.Sprintf("crew %q, %d agents, %d tasks", doc.CrewAI.Name, len(doc.CrewAI.Agents), len(doc.CrewAI.Tasks))
	if executionID != "" {
		// 摘要会被截断，ID 放在最前
		s = "execution_id=" + executionID + ", " + s
	}
	return s
}

func crewSummary(cfg map[string]any) string {
	if cfg == nil {
		return "无"
	}
	doc, err := crews.DocumentFromMap(cfg)
	if err != nil {
		return compactJSON(cfg)
	}
	return fmt.Sprintf("%s（成员：%s；任务：%s）", doc.CrewAI.Name,
		strings.Join(doc.AgentNames(), "、"), strings.Join(doc.TaskNames(), " → "))
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// lastN 最近 n 条消息
func lastN(msgs []types.Message, n int) []types.Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
