// Package telemetry 封装 OpenTelemetry SDK 初始化，并提供各组件共用的
// span 辅助函数（规划回合、执行器迭代、工具调用）。
// 遥测关闭时全局 provider 保持 noop，不连接任何外部服务。
package telemetry
