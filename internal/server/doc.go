/*
Package server 提供进程内的指标与健康检查 HTTP 端点。

Handler 暴露 /metrics（Prometheus 文本格式）与 /healthz；Manager 负责
监听、后台服务与优雅关闭。
*/
package server
