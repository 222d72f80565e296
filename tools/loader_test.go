package tools

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/BaSui01/crewplanner/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

const sampleYAML = `
version: 1.2
description: business planner tools
tools:
  - name: crewai_generator
    type: builtin
    class: crewai_generator
    max_agents: 5
  - name: weather
    type: api
    description: current weather
    config:
      endpoint: ${WEATHER_URL}/v1/current
      method: get
      headers:
        X-Key: ${WEATHER_KEY}
        X-Missing: ${NOT_SET}
      params:
        city: {type: string, required: true}
      response_mapping:
        temperature: $.current.temp
      timeout: 5
      retry_count: 2
      auth: {type: bearer, token: "${WEATHER_KEY}"}
  - name: fs
    type: mcp_stdio
    enabled: false
    command: npx
    args: ["-y", "server-filesystem"]
tool_groups:
  planning: [crewai_generator]
  research: [weather, fs]
agent_tool_mapping:
  business_planner: [planning, research]
loading:
  lazy: false
  fail_fast: true
`

func TestLoader_ParseYAML(t *testing.T) {
	l := NewLoader(nil).WithLookupEnv(envMap(map[string]string{
		"WEATHER_URL": "https://api.example.com",
		"WEATHER_KEY": "k-123",
	}))
	doc, err := l.Parse([]byte(sampleYAML), "yaml")
	require.NoError(t, err)

	assert.Equal(t, "1.2", doc.Version)
	require.Len(t, doc.Tools, 3)

	gen := doc.Tools[0]
	require.NotNil(t, gen.Builtin)
	assert.Equal(t, "crewai_generator", gen.Builtin.Class)
	assert.Equal(t, 5, gen.Builtin.Params["max_agents"])

	api := doc.Tools[1].API
	require.NotNil(t, api)
	assert.Equal(t, "https://api.example.com/v1/current", api.Endpoint)
	assert.Equal(t, "GET", api.Method)
	assert.Equal(t, "k-123", api.Headers["X-Key"])
	assert.Equal(t, "${NOT_SET}", api.Headers["X-Missing"])
	assert.Equal(t, "k-123", api.Auth.Token)
	assert.True(t, api.Params["city"].Required)
	assert.Equal(t, 2, api.RetryCount)

	fs := doc.Tools[2]
	assert.False(t, fs.IsEnabled())
	require.NotNil(t, fs.MCPStdio)
	assert.Equal(t, []string{"-y", "server-filesystem"}, fs.MCPStdio.Args)

	assert.Equal(t, []string{"planning", "research"}, doc.AgentToolMapping["business_planner"])
	assert.False(t, doc.Loading.IsLazy())
	assert.True(t, doc.Loading.FailFast)
}

func TestLoader_ParseJSON(t *testing.T) {
	doc, err := NewLoader(nil).Parse([]byte(`{
		"version": "1",
		"tools": [{"name": "srv", "type": "mcp_http",
			"config": {"server_url": "http://localhost:8080", "server_name": "s", "tool_name": "t"}}]
	}`), "json")
	require.NoError(t, err)
	require.NotNil(t, doc.Tools[0].MCPHTTP)
	assert.Equal(t, "s", doc.Tools[0].MCPHTTP.ServerName)
	assert.True(t, doc.Loading.IsLazy())
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"missing name", `tools: [{type: builtin}]`, "tools[0].name"},
		{"unknown type", `tools: [{name: a, type: grpc}]`, "tools[0].type"},
		{"duplicate", `tools: [{name: a, type: builtin}, {name: a, type: builtin}]`, "tools[1].name"},
		{"bad endpoint", `tools: [{name: a, type: api, endpoint: "ftp://x"}]`, "tools[0].config.endpoint"},
		{"bad method", `tools: [{name: a, type: api, endpoint: "http://x", method: TRACE}]`, "tools[0].config.method"},
		{"bearer without token", `tools: [{name: a, type: api, endpoint: "http://x", auth: {type: bearer}}]`, "tools[0].config.auth.token"},
		{"stdio without command", `tools: [{name: a, type: mcp_stdio}]`, "tools[0].config.command"},
		{"unknown group member", "tools: [{name: a, type: builtin}]\ntool_groups: {g: [b]}", "tool_groups.g[0]"},
		{"unknown mapped group", "tools: [{name: a, type: builtin}]\nagent_tool_mapping: {x: [nope]}", "agent_tool_mapping.x[0]"},
		{"non-bool enabled", `tools: [{name: a, type: builtin, enabled: "yes"}]`, "tools[0].enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(nil).Parse([]byte(tt.doc), "yaml")
			require.Error(t, err)
			var le *ToolLoaderError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, tt.path, le.Path)
			assert.True(t, types.IsErrorCode(err, types.ErrToolLoader))
		})
	}
}

func TestLoader_LoadFileSetsSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`tools: [{name: a}]`), 0o600))

	_, err := NewLoader(nil).LoadFile(path)
	var le *ToolLoaderError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, path, le.Source)
	assert.Contains(t, err.Error(), path)

	_, err = NewLoader(nil).LoadFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
