package planner

import (
	"fmt"
	"slices"

	"github.com/BaSui01/crewplanner/types"
)

// State 规划会话状态
type State string

const (
	StateInitial        State = "initial"
	StatePlanning       State = "planning"
	StateConfirmation   State = "confirmation"
	StateCrewGeneration State = "crew_generation"
	StateGuidance       State = "guidance"
	StateCompleted      State = "completed"
)

// States 全部状态
var States = []State{
	StateInitial, StatePlanning, StateConfirmation,
	StateCrewGeneration, StateGuidance, StateCompleted,
}

// Valid 是否为已定义的状态
func (s State) Valid() bool { return slices.Contains(States, s) }

// validTransitions 合法转换；任何状态都可以重置到 initial。
// crew_generation 的自环仅在生成失败时出现，下一条消息重试。
var validTransitions = map[State][]State{
	StateInitial:        {StatePlanning, StateInitial},
	StatePlanning:       {StateConfirmation, StatePlanning, StateInitial},
	StateConfirmation:   {StateCrewGeneration, StatePlanning, StateConfirmation, StateInitial},
	StateCrewGeneration: {StateGuidance, StateCrewGeneration, StateInitial},
	StateGuidance:       {StateGuidance, StateCompleted, StateInitial},
	StateCompleted:      {StateInitial},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// AllowedTransitions from 状态允许的下一状态
func AllowedTransitions(from State) []State {
	return slices.Clone(validTransitions[from])
}

// StateTransitionError 非法状态转换，会话保持不变
type StateTransitionError struct {
	From State
	To   State
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// Unwrap 使 types.IsErrorCode(err, types.ErrInvalidTransition) 成立
func (e *StateTransitionError) Unwrap() error {
	return types.NewError(types.ErrInvalidTransition, e.Error())
}

// Transition 一次状态转换
type Transition struct {
	From State `json:"from"`
	To   State `json:"to"`
}
