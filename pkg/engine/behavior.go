package engine

import (
	"net/http"
	"time"
)

// Compression 压缩模式
type Compression int

const (
	// CompressionDisabled 不协商 permessage-deflate
	CompressionDisabled Compression = iota
	// SharedCompressor 默认压缩级别
	SharedCompressor
	// DedicatedCompressor 最高压缩级别
	DedicatedCompressor
)

// String 返回压缩模式名称
func (c Compression) String() string {
	switch c {
	case SharedCompressor:
		return "shared"
	case DedicatedCompressor:
		return "dedicated"
	default:
		return "disabled"
	}
}

// SendStatus 发送结果
type SendStatus int

const (
	// SendSuccess 已进入发送队列，缓冲未超过阈值
	SendSuccess SendStatus = iota
	// SendBackpressure 已进入发送队列，但缓冲超过阈值，应等待 drain
	SendBackpressure
	// SendDropped 缓冲已超过阈值或连接已关闭，消息被丢弃
	SendDropped
)

// String 返回发送结果名称
func (s SendStatus) String() string {
	switch s {
	case SendSuccess:
		return "success"
	case SendBackpressure:
		return "backpressure"
	default:
		return "dropped"
	}
}

// Behavior WebSocket 行为配置与回调
// 所有回调都在 Loop 上执行
type Behavior struct {
	Compression            Compression
	IdleTimeout            time.Duration // 0 表示不限制
	MaxPayloadLength       int64         // 单条消息最大字节数，0 表示不限制
	MaxBackpressure        int           // 发送缓冲阈值（字节），0 表示不限制
	SendPingsAutomatically bool          // 每 IdleTimeout/2 自动发送 ping

	// CheckOrigin 为 nil 时接受任意 Origin
	CheckOrigin func(r *http.Request) bool
	// Topics 为 nil 时使用 App 自带的 TopicTree
	Topics *TopicTree

	Upgrade func(res *HTTPResponse, req *HTTPRequest)
	Open    func(ws *WebSocket)
	Message func(ws *WebSocket, msg []byte, isBinary bool)
	Drain   func(ws *WebSocket)
	Ping    func(ws *WebSocket, msg []byte)
	Pong    func(ws *WebSocket, msg []byte)
	Close   func(ws *WebSocket, code int, msg []byte)
}
