package planner

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/BaSui01/crewplanner/agent/react"
)

// Session 规划会话快照
type Session struct {
	ID           string         `json:"id"`
	State        State          `json:"state"`
	BusinessPlan map[string]any `json:"business_plan,omitempty"`
	CrewConfig   map[string]any `json:"crew_config,omitempty"`
	// ExecutionID 生成团队配置时登记的执行记录
	ExecutionID string    `json:"execution_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// clone 浅拷贝两个产物映射的顶层
func (s Session) clone() Session {
	s.BusinessPlan = maps.Clone(s.BusinessPlan)
	s.CrewConfig = maps.Clone(s.CrewConfig)
	return s
}

// reset 回到 initial 并清除产物
func (s *Session) reset() {
	s.State = StateInitial
	s.BusinessPlan = nil
	s.CrewConfig = nil
	s.ExecutionID = ""
}

// sessionBlob 会话存储中的数据块
type sessionBlob struct {
	Session
	Context *react.ContextSnapshot `json:"context,omitempty"`
}

func encodeBlob(s Session, ctx react.ContextSnapshot) (map[string]any, error) {
	b := sessionBlob{Session: s}
	if len(ctx.ToolCalls) > 0 || len(ctx.Queries) > 0 {
		b.Context = &ctx
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return out, nil
}

func decodeBlob(m map[string]any) (sessionBlob, error) {
	var b sessionBlob
	data, err := json.Marshal(m)
	if err != nil {
		return b, fmt.Errorf("decode session: %w", err)
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("decode session: %w", err)
	}
	if !b.State.Valid() {
		return b, fmt.Errorf("decode session: unknown state %q", b.State)
	}
	return b, nil
}
