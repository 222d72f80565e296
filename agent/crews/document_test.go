package crews

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() Document {
	return Document{
		CrewAI: CrewSpec{
			Name:    "Procurement Crew",
			Process: ProcessSequential,
			Agents: []AgentSpec{
				{Name: "analyst", Role: "Supplier Analyst", Goal: "rank suppliers"},
				{Name: "writer", Role: "Report Writer", Goal: "summarise"},
			},
			Tasks: []TaskSpec{
				{Name: "evaluate", Description: "evaluate suppliers", Agent: "analyst"},
				{Name: "report", Description: "write report", Agent: "writer", Context: []string{"evaluate"}},
			},
		},
		Version: DocumentVersion,
	}
}

func TestDocument_Validate(t *testing.T) {
	require.NoError(t, sampleDocument().Validate())

	tests := []struct {
		name   string
		mutate func(d *Document)
		want   string
	}{
		{"no agents", func(d *Document) { d.CrewAI.Agents = nil }, "agents must not be empty"},
		{"no tasks", func(d *Document) { d.CrewAI.Tasks = nil }, "tasks must not be empty"},
		{"bad process", func(d *Document) { d.CrewAI.Process = "consensus" }, "must be sequential or hierarchical"},
		{"unknown agent", func(d *Document) { d.CrewAI.Tasks[0].Agent = "ghost" }, `agent "ghost" is not declared`},
		{"forward context", func(d *Document) { d.CrewAI.Tasks[0].Context = []string{"report"} }, "must name an earlier task"},
		{"duplicate agent", func(d *Document) { d.CrewAI.Agents[1].Name = "analyst" }, "duplicate agent"},
		{"missing name", func(d *Document) { d.CrewAI.Name = "" }, "crewai_config.name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := sampleDocument()
			tt.mutate(&doc)
			err := doc.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDocument_MapConversion(t *testing.T) {
	doc := sampleDocument()
	m, err := doc.ToMap()
	require.NoError(t, err)

	inner, ok := m["crewai_config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Procurement Crew", inner["name"])
	assert.Len(t, inner["agents"], 2)

	back, err := DocumentFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, []string{"analyst", "writer"}, back.AgentNames())
	assert.Equal(t, []string{"evaluate", "report"}, back.TaskNames())
}

func TestDocumentFromMap_BareCrewAndDefaults(t *testing.T) {
	doc, err := DocumentFromMap(map[string]any{
		"name":   "bare",
		"agents": []any{map[string]any{"name": "a", "role": "r"}},
		"tasks":  []any{map[string]any{"name": "t", "description": "d", "agent": "a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "bare", doc.CrewAI.Name)
	assert.Equal(t, ProcessSequential, doc.CrewAI.Process)
	assert.NoError(t, doc.Validate())

	_, err = DocumentFromMap(nil)
	assert.Error(t, err)
}

func TestPlanFromMap(t *testing.T) {
	plan, err := PlanFromMap(map[string]any{
		"name":      "采购优化",
		"objective": "缩短采购周期",
		"steps": []any{
			map[string]any{"step": "1", "name": "供应商评估", "description": "评估现有供应商", "resources": []any{"采购部"}},
			map[string]any{"name": "流程重构", "duration": "2周"},
		},
		"extra": true,
	})
	require.NoError(t, err)
	assert.Equal(t, "采购优化", plan.Name)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, 1, plan.Steps[0].Step)
	assert.Equal(t, []any{"采购部"}, plan.Steps[0].Resources)
	assert.Equal(t, 2, plan.Steps[1].Step)
	assert.Equal(t, "2周", plan.Steps[1].Duration)
}
