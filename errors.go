package qiuws

import "github.com/tokmz/qiuws/pkg/errors"

// 监听与连接错误（4xxx）
// 使用 errors.Is 判断类别，具体原因通过 Unwrap 获取
var (
	// ErrAddressInUse 端口已被其他监听占用
	ErrAddressInUse = errors.New(4001, 500, "地址已被占用", nil)
	// ErrAddressNotFound 主机名非法或无法解析
	ErrAddressNotFound = errors.New(4002, 500, "地址无法解析", nil)
	// ErrInvalidPort 端口不在 [0, 65535]
	ErrInvalidPort = errors.New(4003, 500, "端口非法", nil)
	// ErrServerDestroyed 服务已关闭
	ErrServerDestroyed = errors.New(4004, 500, "服务已关闭", nil)
	// ErrHeadersAlreadySent 响应头已发送
	ErrHeadersAlreadySent = errors.New(4005, 500, "响应头已发送", nil)
	// ErrUpgradeFailed WebSocket 握手失败或请求不可升级
	ErrUpgradeFailed = errors.New(4006, 400, "WebSocket 升级失败", nil)
	// ErrPortConflict 端口已登记监听
	ErrPortConflict = errors.New(4007, 500, "端口已登记", nil)
	// ErrStreamDestroyed 响应已结束后继续写入
	ErrStreamDestroyed = errors.New(4008, 500, "响应已结束", nil)
	// ErrServerListening 服务已在监听
	ErrServerListening = errors.New(4009, 500, "服务已在监听", nil)
)
