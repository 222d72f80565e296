// Package openaicompat 实现 OpenAI 兼容的 chat completions 协议，
// 供 openai、siliconflow、ollama、huggingface 共用。
package openaicompat
