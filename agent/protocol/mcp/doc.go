// Package mcp 实现外部工具服务器使用的 JSON-RPC 2.0 约定（tools/list、tools/get、tools/call）。
//
// StdioClient 独占一个子进程，按行收发 JSON；子进程打印到 stdout 的诊断信息会被跳过，
// 直到读到 id 匹配的响应或超过 MaxSkippedLines 行。
package mcp
