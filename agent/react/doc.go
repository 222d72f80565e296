// Package react 实现基于文本格式的 ReAct 执行器。
//
// 模型输出 Thought / Action / Action Input，执行器调用对应工具并把结果作为
// Observation 写回 scratchpad，直到模型给出 Final Answer，或者达到最大轮数、
// 最长执行时间、连续三次解析失败。ContextTracker 记录会话内最近的工具调用，
// 用户使用"它""运行"等指代表达时在消息后附加上下文提示。
package react
