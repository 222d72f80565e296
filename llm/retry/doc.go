// Package retry 提供指数退避重试，用于 LLM 调用与外部工具 API 调用。
package retry
