/*
Package testutil 提供测试共享的辅助函数。

子包：

  - testutil/mocks: MockProvider（脚本化 LLM 回复）与 MockTool（工具调用记录）
  - testutil/fixtures: ReAct 格式回复、业务计划与团队配置样例
  - testutil/mcpstub: 通过 TestHelperProcess 启动的 stdio MCP 服务端
*/
package testutil
