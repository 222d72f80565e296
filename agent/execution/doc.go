/*
包 execution 跟踪生成的 crew 的执行过程。

# 核心类型

  - Tracker：以 execution_id 为键的执行记录表。每条记录的修改在各自的
    互斥锁下串行化，读取返回一致快照。
  - Record：状态、进度、当前 agent / task、有界日志、时间戳、结果或错误。
  - Janitor：按间隔调用 CleanupOld 删除过期记录。
  - GormArchive：清理前保存终态记录的 SQL 归档（crew_executions 表）。

# 状态

	pending → running ⇄ paused
	running | paused → completed | failed
	任意非终态 → cancelled | failed

completed、failed、cancelled 为终态，此后 status、result、error、
completed_at 不再变化。progress 为 100 当且仅当状态为 completed。
*/
package execution
