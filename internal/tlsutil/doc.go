// Package tlsutil 集中提供 TLS 配置：provider 出站客户端、Redis 连接
// 与 API 监听器共用 TLS 1.2+ 且仅 AEAD 密码套件的设置。
package tlsutil
