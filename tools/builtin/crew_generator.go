package builtin

import (
	"context"
	"errors"

	"github.com/BaSui01/crewplanner/agent/crews"
	"github.com/BaSui01/crewplanner/tools"
	"go.uber.org/zap"
)

func newCrewGenerator(gen *crews.Generator, memo *LatestCrew, logger *zap.Logger) tools.Tool {
	return &tools.FuncTool{
		ToolName:        ClassCrewGenerator,
		ToolDescription: "Generate a CrewAI crew configuration (agents, tasks, process) from a business plan.",
		ToolParams: tools.Params{
			"business_plan": {Type: "any", Description: "plan object with name, objective and steps (object or JSON string)"},
			"requirements":  {Type: "string", Description: "free-text requirements when no plan is available"},
		},
		Fn: func(ctx context.Context, args map[string]any) tools.Result {
			plan, err := objectArg(args, "business_plan")
			if err != nil {
				return tools.Failure(tools.ErrTypeValidation, "%v", err)
			}
			requirements, _ := args["requirements"].(string)
			if plan == nil {
				if requirements == "" {
					return tools.Failure(tools.ErrTypeValidation, "either business_plan or requirements is required")
				}
				plan = map[string]any{"name": requirements, "objective": requirements}
			}

			doc, err := gen.Generate(ctx, plan, requirements)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return tools.Failure(tools.ErrTypeCancelled, "%v", err)
				}
				return tools.Failure(tools.ErrTypeInternal, "generate crew: %v", err)
			}
			memo.Set(sessionKey(ctx), doc, "")

			cfg, err := doc.ToMap()
			if err != nil {
				return tools.Failure(tools.ErrTypeInternal, "%v", err)
			}
			logger.Info("crew configuration generated",
				zap.String("crew", doc.CrewAI.Name),
				zap.Int("agents", len(doc.CrewAI.Agents)),
				zap.Int("tasks", len(doc.CrewAI.Tasks)))
			return tools.Success(map[string]any{
				"crew_name":   doc.CrewAI.Name,
				"agents":      doc.AgentNames(),
				"tasks":       doc.TaskNames(),
				"process":     string(doc.CrewAI.Process),
				"crew_config": cfg,
			})
		},
	}
}
