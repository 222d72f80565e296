package tools

import (
	"context"
	"os"
	"testing"

	"github.com/BaSui01/crewplanner/testutil/mcpstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHelperProcess(t *testing.T) {
	if os.Getenv(mcpstub.EnvHelper) != "1" {
		return
	}
	os.Exit(mcpstub.Serve(os.Stdin, os.Stdout))
}

func stubStdioConfig(name, remote string, timeout float64) ToolConfig {
	return ToolConfig{Name: name, Type: TypeMCPStdio, MCPStdio: &MCPStdioConfig{
		Command:  os.Args[0],
		Args:     mcpstub.HelperArgs(),
		Env:      mcpstub.HelperEnv(),
		ToolName: remote,
		Timeout:  timeout,
	}}
}

func newStubTool(t *testing.T, remote string, timeout float64) *MCPStdioTool {
	t.Helper()
	tool := NewMCPStdioTool(stubStdioConfig("stub_"+remote, remote, timeout), zap.NewNop())
	t.Cleanup(func() { _ = tool.Close() })
	return tool
}

func TestMCPStdioTool_SkipsDiagnosticLines(t *testing.T) {
	tool := newStubTool(t, "echo", 10)
	res := tool.Run(context.Background(), nil)
	require.False(t, res.IsError(), res.String())
	assert.Equal(t, "ok", res.Data.(map[string]any)["text"])
}

func TestMCPStdioTool_FiveDiagnosticLinesBeforeResponse(t *testing.T) {
	tool := newStubTool(t, "noisy", 10)
	res := tool.Run(context.Background(), nil)
	require.False(t, res.IsError(), res.String())
	assert.Equal(t, "ok", res.Data.(map[string]any)["text"])
}

func TestMCPStdioTool_PassesArguments(t *testing.T) {
	tool := newStubTool(t, "echo", 10)
	res := Await(context.Background(), tool.RunAsync(context.Background(), map[string]any{"text": "你好"}))
	require.False(t, res.IsError(), res.String())
	assert.Equal(t, "你好", res.Data.(map[string]any)["text"])
}

func TestMCPStdioTool_RPCError(t *testing.T) {
	res := newStubTool(t, "fail", 10).Run(context.Background(), nil)
	require.True(t, res.IsError())
	assert.Equal(t, ErrTypeRPC, res.Err.Type)
}

func TestMCPStdioTool_TimeoutThenRespawn(t *testing.T) {
	tool := newStubTool(t, "slow", 0.2)
	res := tool.Run(context.Background(), map[string]any{"ms": 5000})
	require.True(t, res.IsError())
	assert.Equal(t, ErrTypeTimeout, res.Err.Type)

	res = tool.Run(context.Background(), map[string]any{"ms": 1})
	require.False(t, res.IsError(), res.String())
	assert.Equal(t, 2, tool.Client().Spawns())
}

func TestMCPStdioTool_Discovery(t *testing.T) {
	tool := newStubTool(t, "echo", 10)
	defs, err := tool.ListTools(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "echo")

	def, err := tool.GetTool(context.Background(), "echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", def.Name)
}
