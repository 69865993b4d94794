/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/StartTLS/Shutdown/WaitForShutdown。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与关闭超时。
    承载 SSE / websocket 流式响应的服务器应将 WriteTimeout 置 0。

# 主要能力

  - 非阻塞启动：Start/StartTLS 在后台 goroutine 中运行服务。
  - 优雅关闭：Shutdown 在配置的超时内排空请求。
  - WaitForShutdown 监听 SIGINT/SIGTERM 与 ctx，收到任一后关闭。
  - ListenAddr 返回实际绑定地址，便于 ":0" 随机端口测试。
*/
package server
