/*
Package planner 实现业务规划会话的状态机。

每个会话处于以下状态之一：

	initial -> planning -> confirmation -> crew_generation -> guidance -> completed

状态之间只允许 validTransitions 中列出的转换，任何状态都可以回到 initial。
planning 与 guidance 阶段通过 react.Executor 与模型交互；confirmation 阶段用
关键词意图分类决定去向；crew_generation 阶段由 CrewGenerator 产出团队配置，
失败时停留在原状态等待重试。

会话状态（当前状态、business_plan、crew_config、上下文跟踪器）以数据块形式
写入 conversation.Store，进程重启后可从存储恢复。
*/
package planner
