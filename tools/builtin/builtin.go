package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/crewplanner/agent/crews"
	"github.com/BaSui01/crewplanner/agent/execution"
	"github.com/BaSui01/crewplanner/tools"
	"github.com/BaSui01/crewplanner/types"
	"go.uber.org/zap"
)

// 内置 class 名称
const (
	ClassCurrentTime     = "current_time"
	ClassCrewGenerator   = "crewai_generator"
	ClassCrewRuntime     = "crewai_runtime"
	ClassExecutionStatus = "execution_status"
)

// Deps 内置工具的协作者。Tracker 缺失时 crewai_runtime 与 execution_status 不可构造。
type Deps struct {
	Tracker   *execution.Tracker
	Generator *crews.Generator
	Runner    *crews.Runner
	// Latest 与规划状态机共享的最近生成配置，为 nil 时各自独立
	Latest *LatestCrew
	Now    func() time.Time
	Logger *zap.Logger
}

// Classes 返回封闭的 class → 构造器映射。同一映射构造的生成器与运行器
// 按会话共享"最近生成的配置"，使运行器在未提供配置时执行本会话的配置。
func Classes(deps Deps) map[string]tools.BuiltinConstructor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Generator == nil {
		deps.Generator = crews.NewGenerator(nil, "", deps.Logger)
	}
	if deps.Runner == nil && deps.Tracker != nil {
		deps.Runner = crews.NewRunner(nil, "", deps.Tracker, deps.Logger)
	}
	memo := deps.Latest
	if memo == nil {
		memo = &LatestCrew{}
	}

	return map[string]tools.BuiltinConstructor{
		ClassCurrentTime: func(params map[string]any) (tools.Tool, error) {
			return newCurrentTime(params, deps.Now)
		},
		ClassCrewGenerator: func(map[string]any) (tools.Tool, error) {
			return newCrewGenerator(deps.Generator, memo, deps.Logger), nil
		},
		ClassCrewRuntime: func(map[string]any) (tools.Tool, error) {
			if deps.Runner == nil {
				return nil, fmt.Errorf("%s requires an execution tracker", ClassCrewRuntime)
			}
			return newCrewRuntime(deps.Runner, memo, deps.Logger), nil
		},
		ClassExecutionStatus: func(params map[string]any) (tools.Tool, error) {
			if deps.Tracker == nil {
				return nil, fmt.Errorf("%s requires an execution tracker", ClassExecutionStatus)
			}
			return newExecutionStatus(deps.Tracker, params), nil
		},
	}
}

// maxLatestSessions LatestCrew 最多记住的会话数，超出时淘汰最早写入的会话
const maxLatestSessions = 1024

// LatestCrew 按会话记录最近一次生成的 crew 配置及其登记的执行 ID，零值可用。
// 会话 ID 取自 ctx（types.WithSessionID），缺失时所有调用共用空键。
type LatestCrew struct {
	mu    sync.Mutex
	crews map[string]latestEntry
	order []string
}

type latestEntry struct {
	doc         crews.Document
	executionID string
}

// Set 记录会话最近生成的配置；executionID 为规划状态机登记的 pending 执行，可以为空
func (l *LatestCrew) Set(sessionID string, doc crews.Document, executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.crews == nil {
		l.crews = make(map[string]latestEntry)
	}
	if _, ok := l.crews[sessionID]; !ok {
		l.order = append(l.order, sessionID)
		if len(l.order) > maxLatestSessions {
			delete(l.crews, l.order[0])
			l.order = l.order[1:]
		}
	}
	l.crews[sessionID] = latestEntry{doc: doc, executionID: executionID}
}

// Get 返回会话最近生成的配置与登记的执行 ID
func (l *LatestCrew) Get(sessionID string) (crews.Document, string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.crews[sessionID]
	if !ok {
		return crews.Document{}, "", false
	}
	return e.doc, e.executionID, true
}

// Forget 删除会话的记录
func (l *LatestCrew) Forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.crews[sessionID]; !ok {
		return
	}
	delete(l.crews, sessionID)
	for i, id := range l.order {
		if id == sessionID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func sessionKey(ctx context.Context) string {
	id, _ := types.SessionID(ctx)
	return id
}

// objectArg 接受对象或 JSON 字符串形式的参数
func objectArg(args map[string]any, key string) (map[string]any, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("parameter %q must be an object or a JSON object string: %v", key, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("parameter %q must be an object, got %T", key, v)
	}
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
