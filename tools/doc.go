// Package tools 实现声明式工具注册表。
//
// 工具定义文档（JSON / YAML）中的每个条目由 type 字段判别：
// builtin（进程内）、api（HTTP 接口）、mcp_http（远程工具服务器）、
// mcp_stdio（子进程 JSON-RPC）。Registry 负责合并文档、按 agent 分组查找、
// 懒加载实例；Factory 按类型分派构造。
//
// 工具调用从不返回 error，失败以 {"error":true,"message":...,"type":...}
// 结构化结果交还给调用方。
package tools
