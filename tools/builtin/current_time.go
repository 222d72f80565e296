package builtin

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/BaSui01/crewplanner/tools"
)

// newCurrentTime 返回当前时间。构造参数 timezone 为默认时区。
func newCurrentTime(params map[string]any, now func() time.Time) (tools.Tool, error) {
	defaultZone, _ := params["timezone"].(string)
	if defaultZone == "" {
		defaultZone = "Local"
	}
	if _, err := time.LoadLocation(defaultZone); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", defaultZone, err)
	}

	return &tools.FuncTool{
		ToolName:        ClassCurrentTime,
		ToolDescription: "Get the current date and time, optionally in a given IANA timezone.",
		ToolParams: tools.Params{
			"timezone": {Type: "string", Default: defaultZone, Description: "IANA timezone, e.g. Asia/Shanghai"},
		},
		Fn: func(_ context.Context, args map[string]any) tools.Result {
			zone, _ := args["timezone"].(string)
			loc, err := time.LoadLocation(zone)
			if err != nil {
				return tools.Failure(tools.ErrTypeValidation, "unknown timezone %q", zone)
			}
			t := now().In(loc)
			return tools.Success(map[string]any{
				"datetime": t.Format(time.RFC3339),
				"date":     t.Format("2006-01-02"),
				"time":     t.Format("15:04:05"),
				"weekday":  t.Weekday().String(),
				"timezone": loc.String(),
				"unix":     t.Unix(),
			})
		},
	}, nil
}
