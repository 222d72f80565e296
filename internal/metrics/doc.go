/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖规划会话、工具调用、
ReAct 执行器、LLM 请求、crew 执行跟踪与会话存储。

# 核心类型

  - Collector：持有 Counter、Histogram、Gauge 向量指标，注册在调用方
    提供的 prometheus.Registerer 上（测试使用独立的 Registry）。

nil *Collector 是合法值，所有 Record 方法在 nil 上为空操作。
*/
package metrics
