/*
包 conversation 按会话 id 保存聊天历史与会话数据块。

# 键布局

  - chat_history:<session_id>：消息 JSON 数组，每项为 {type, content, additional_kwargs}
  - session:<session_id>：任意 JSON 对象（规划状态机快照）

两类键都以 SET EX 写入，每次写入刷新过期时间，默认 86400 秒。

# 后端

  - RedisStore：基于 internal/cache 的 go-redis 连接
  - MemoryStore：进程内实现，语义与 Redis 一致，用于测试与 Redis 不可达时的回退

New 根据 config.RedisConfig 选择后端。写操作失败只记录日志，
读操作失败或数据损坏时按空历史处理。
*/
package conversation
