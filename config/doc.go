// Package config 提供 crewplanner 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 启动时可先读取 .env（不覆盖已存在的进程变量）。
// 工具定义等文档中的 ${NAME} 占位符通过 Interpolate 展开，
// 未知变量保持原样。
package config
