// =============================================================================
// 📦 测试数据工厂 - 业务计划与团队配置
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/crewplanner/agent/crews"
)

// SamplePlan 两个步骤的采购优化计划
func SamplePlan() map[string]any {
	return map[string]any{
		"name":      "采购流程优化",
		"objective": "缩短采购周期",
		"steps": []any{
			map[string]any{"step": 1, "name": "现状调研", "description": "梳理现有采购环节", "duration": "1周"},
			map[string]any{"step": 2, "name": "供应商评估", "description": "建立评分体系", "duration": "2周"},
		},
	}
}

// SampleDocument 与 SamplePlan 对应的顺序执行团队配置
func SampleDocument() crews.Document {
	return crews.Document{
		CrewAI: crews.CrewSpec{
			Name:        "procurement_crew",
			Description: "采购流程优化团队",
			Process:     crews.ProcessSequential,
			Agents: []crews.AgentSpec{
				{Name: "analyst", Role: "业务分析师", Goal: "梳理采购现状", Backstory: "十年采购咨询经验"},
				{Name: "evaluator", Role: "供应商评估专家", Goal: "建立评分体系", Backstory: "熟悉供应链管理"},
			},
			Tasks: []crews.TaskSpec{
				{Name: "survey", Description: "梳理现有采购环节", Agent: "analyst", ExpectedOutput: "现状报告"},
				{Name: "evaluate", Description: "建立供应商评分体系", Agent: "evaluator", ExpectedOutput: "评分表", Context: []string{"survey"}},
			},
		},
		BusinessProcess: SamplePlan(),
		GeneratedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Version:         crews.DocumentVersion,
	}
}

// SampleCrewConfig SampleDocument 的 map 形式
func SampleCrewConfig() map[string]any {
	m, err := SampleDocument().ToMap()
	if err != nil {
		panic(err)
	}
	return m
}
