// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 crews 生成并执行基于角色分工的 crew 配置。

# 文档

  - Document：CREW_GENERATION 阶段产出的 {crewai_config, business_process,
    generated_at, version}，crewai_config 包含 agents、tasks 与 process。
  - BusinessPlan：PLANNING 阶段产出的计划（name、objective、steps）。

# 生成

Generator 把业务计划交给 LLM，要求在 <crew_config> 标签中输出 JSON。
LLM 不可用、输出无法解析或未通过校验时，FallbackSpec 按计划步骤
确定性地生成一组专员和一名协调人。

# 执行

BuildCrew 把文档转成 Crew，每个 agent 由 LLMAgent 承担（一次 LLM 调用完成
一个任务）。顺序模式按任务列表执行；层级模式由允许委派的成员担任
manager，与被分配成员协商，被拒绝时由 manager 自己执行。

Runner 把执行过程写入 execution.Tracker：每个任务前更新当前 agent / task
与进度并在暂停时等待，记录被取消或失败后在当前任务结束时停止。
*/
package crews
