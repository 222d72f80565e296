// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 封装 go-redis 客户端，提供会话存储使用的键值命令。

# 核心类型

  - Manager：持有 Redis 客户端与连接池，提供 Get / Set（SET EX）/ Delete /
    Keys / TTL / Expire / FlushDB，以及 GetJSON / SetJSON 便捷方法。
  - Config：地址、密码、库编号、默认 TTL、连接池与健康检查间隔。
    FromRedisConfig 从应用配置的 redis 段构造。

# 错误语义

NewManager 在探测连接失败时返回错误，由调用方决定是否退回内存存储。
键不存在时 Get / TTL / Expire 返回 ErrCacheMiss。
*/
package cache
