/*
包 database 为执行记录归档提供基于 GORM 的数据库连接。

Open 按驱动名（postgres、mysql、sqlite）选择方言，sqlite 使用纯 Go 实现，
无需 CGO。PoolManager 负责连接池参数、后台探活与事务（含对死锁、
序列化失败等可重试错误的退避重试）。
*/
package database
