package builtin

import (
	"context"

	"github.com/BaSui01/crewplanner/agent/crews"
	"github.com/BaSui01/crewplanner/agent/execution"
	"github.com/BaSui01/crewplanner/tools"
	"go.uber.org/zap"
)

// 运行时动作
const (
	actionRun    = "run"
	actionPause  = "pause"
	actionResume = "resume"
	actionCancel = "cancel"
)

func newCrewRuntime(runner *crews.Runner, memo *LatestCrew, logger *zap.Logger) tools.Tool {
	tracker := runner.Tracker()
	return &tools.FuncTool{
		ToolName: ClassCrewRuntime,
		ToolDescription: "Run a generated CrewAI crew in the background and control it. " +
			"action=run starts the given crew_config (or the crew generated in this session, reusing its registered execution); " +
			"action=run with only execution_id starts a pending registered execution; " +
			"pause/resume/cancel need execution_id.",
		ToolParams: tools.Params{
			"action":       {Type: "string", Default: actionRun, Enum: []any{actionRun, actionPause, actionResume, actionCancel}},
			"crew_config":  {Type: "any", Description: "crew configuration object or JSON string"},
			"inputs":       {Type: "any", Description: "inputs passed to every task"},
			"execution_id": {Type: "string", Description: "execution to control, or a pending execution to run"},
		},
		Fn: func(ctx context.Context, args map[string]any) tools.Result {
			action, _ := args["action"].(string)
			if action != actionRun {
				return control(tracker, action, args)
			}

			if id, _ := args["execution_id"].(string); id != "" && args["crew_config"] == nil {
				return launchRegistered(ctx, runner, id, logger)
			}

			session := sessionKey(ctx)
			doc, ok, err := crewArg(args, memo, session)
			if err != nil {
				return tools.Failure(tools.ErrTypeValidation, "%v", err)
			}
			if !ok {
				return tools.Failure(tools.ErrTypeValidation, "no crew_config given and none generated in this session yet; call %s first", ClassCrewGenerator)
			}
			if args["crew_config"] == nil {
				if id := pendingRegistered(tracker, memo, session); id != "" {
					memo.Set(session, doc, "")
					return launchRegistered(ctx, runner, id, logger)
				}
			}
			inputs, err := objectArg(args, "inputs")
			if err != nil {
				return tools.Failure(tools.ErrTypeValidation, "%v", err)
			}

			id, err := runner.Launch(ctx, doc, inputs)
			if err != nil {
				return tools.Failure(tools.ErrTypeValidation, "%v", err)
			}
			logger.Info("crew launched", zap.String("execution_id", id), zap.String("crew", doc.CrewAI.Name))
			return tools.Success(map[string]any{
				"execution_id": id,
				"crew_name":    doc.CrewAI.Name,
				"status":       "started",
				"tasks":        len(doc.CrewAI.Tasks),
				"hint":         "use " + ClassExecutionStatus + " with this execution_id to follow progress",
			})
		},
	}
}

func launchRegistered(ctx context.Context, runner *crews.Runner, id string, logger *zap.Logger) tools.Result {
	if err := runner.LaunchRegistered(ctx, id); err != nil {
		return tools.Failure(tools.ErrTypeToolError, "%v", err)
	}
	rec, err := runner.Tracker().Status(id)
	if err != nil {
		return tools.Failure(tools.ErrTypeToolError, "%v", err)
	}
	logger.Info("registered crew launched", zap.String("execution_id", id), zap.String("crew", rec.CrewName()))
	return tools.Success(map[string]any{
		"execution_id": id,
		"crew_name":    rec.CrewName(),
		"status":       "started",
		"hint":         "use " + ClassExecutionStatus + " with this execution_id to follow progress",
	})
}

func crewArg(args map[string]any, memo *LatestCrew, session string) (crews.Document, bool, error) {
	cfg, err := objectArg(args, "crew_config")
	if err != nil {
		return crews.Document{}, false, err
	}
	if cfg == nil {
		doc, _, ok := memo.Get(session)
		return doc, ok, nil
	}
	doc, err := crews.DocumentFromMap(cfg)
	if err != nil {
		return crews.Document{}, false, err
	}
	return doc, true, nil
}

// pendingRegistered 返回会话登记且尚未启动的执行 ID
func pendingRegistered(tracker *execution.Tracker, memo *LatestCrew, session string) string {
	_, id, ok := memo.Get(session)
	if !ok || id == "" {
		return ""
	}
	rec, err := tracker.Status(id)
	if err != nil || rec.Status != execution.StatusPending {
		return ""
	}
	return id
}

func control(tracker *execution.Tracker, action string, args map[string]any) tools.Result {
	id, _ := args["execution_id"].(string)
	if id == "" {
		return tools.Failure(tools.ErrTypeValidation, "execution_id is required for %s", action)
	}
	var err error
	switch action {
	case actionPause:
		err = tracker.Pause(id)
	case actionResume:
		err = tracker.Resume(id)
	case actionCancel:
		err = tracker.Cancel(id)
	}
	if err != nil {
		return tools.Failure(tools.ErrTypeToolError, "%v", err)
	}
	rec, err := tracker.Status(id)
	if err != nil {
		return tools.Failure(tools.ErrTypeToolError, "%v", err)
	}
	return tools.Success(map[string]any{
		"execution_id": id,
		"status":       string(rec.Status),
		"progress":     rec.Progress,
	})
}
