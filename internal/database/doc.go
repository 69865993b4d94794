/*
包 database 提供基于 GORM 的数据库连接与连接池管理。

Open 按配置的驱动（postgres、mysql、纯 Go sqlite）打开数据库，
PoolManager 负责连接池参数、后台健康检查与连接数上报。
WithTransactionRetry 复用 llm/retry 的指数退避，对死锁、
序列化失败、sqlite 锁等瞬时错误自动重试。

模型绑定存储（llm/store）与 migrate 子命令通过本包取得 *gorm.DB。
*/
package database
