// Package tokenizer 提供 token 计数，用于在调用 LLM 前裁剪对话历史。
package tokenizer
