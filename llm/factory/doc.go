// Package factory 提供 llm.Handler 的集中式工厂，
// 按协议族映射创建适配器实例，并在凭证缺失时从注册表中省略该绑定。
package factory
