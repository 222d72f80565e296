package builtin

import (
	"context"

	"github.com/BaSui01/crewplanner/agent/execution"
	"github.com/BaSui01/crewplanner/tools"
)

func newExecutionStatus(tracker *execution.Tracker, params map[string]any) tools.Tool {
	logLimit := intParam(params, "log_limit", 10)
	return &tools.FuncTool{
		ToolName:        ClassExecutionStatus,
		ToolDescription: "Show the status, progress and recent logs of a crew execution, or list executions when no id is given.",
		ToolParams: tools.Params{
			"execution_id": {Type: "string", Description: "execution to inspect"},
			"status":       {Type: "string", Description: "filter for listing", Enum: []any{"", "pending", "running", "paused", "completed", "failed", "cancelled"}},
		},
		Fn: func(_ context.Context, args map[string]any) tools.Result {
			id, _ := args["execution_id"].(string)
			if id == "" {
				var filter []execution.Status
				if s, _ := args["status"].(string); s != "" {
					filter = append(filter, execution.Status(s))
				}
				recs := tracker.List(filter...)
				items := make([]map[string]any, 0, len(recs))
				for _, r := range recs {
					items = append(items, summary(r))
				}
				return tools.Success(map[string]any{"executions": items, "count": len(items)})
			}

			rec, err := tracker.Status(id)
			if err != nil {
				return tools.Failure(tools.ErrTypeToolError, "%v", err)
			}
			logs, _ := tracker.RecentLogs(id, logLimit)
			out := summary(rec)
			out["logs"] = logs
			if rec.Result != nil {
				out["result"] = rec.Result
			}
			if rec.Error != "" {
				out["error"] = rec.Error
			}
			return tools.Success(out)
		},
	}
}

func summary(r execution.Record) map[string]any {
	out := map[string]any{
		"execution_id":  r.ID,
		"crew_name":     r.CrewName(),
		"status":        string(r.Status),
		"progress":      r.Progress,
		"current_agent": r.CurrentAgent,
		"current_task":  r.CurrentTask,
		"started_at":    r.StartedAt,
		"duration_ms":   r.Duration().Milliseconds(),
	}
	if r.CompletedAt != nil {
		out["completed_at"] = *r.CompletedAt
	}
	return out
}
