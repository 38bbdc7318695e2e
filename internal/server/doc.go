/*
Package server 管理 HTTP/HTTPS 服务的生命周期。

Manager 非阻塞启动，异步错误经 Errors() 通知调用方。关闭时先取消所有请求
共享的基础 context，让流式咨询尽快结束，再在 ShutdownTimeout 内排空连接，
超时后强制关闭。HTTPS 使用 tlsutil 的加固配置（TLS 1.2+，AEAD 套件）。
*/
package server
