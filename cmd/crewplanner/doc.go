/*
crewplanner 是业务规划助手的命令行入口。

子命令：

	chat     终端对话，按行读取输入并交给规划状态机
	tools    列出配置文档中的工具，--discover 时查询 mcp_stdio 服务端
	version  打印版本信息

配置来源依次为默认值、--config 指定的 YAML 文件与环境变量（含 .env）。
Redis 不可达且 redis.fallback_to_memory 为真时使用内存会话存储。
*/
package main
