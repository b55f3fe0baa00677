package qiuws

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tokmz/qiuws/pkg/engine"
	"github.com/tokmz/qiuws/pkg/logger"
)

// WebSocket 一个已建立的 WebSocket 连接
//
// topic 按路由路径隔离：不同路由上的同名 topic 互不相通。
// 连接结束后所有操作静默失效。
type WebSocket struct {
	id        string
	namespace []byte
	route     *WebSocketRoute
	server    *WebSocketServer
	raw       *engine.WebSocket
	req       *Request
	ctx       context.Context
	tasks     *taskSet

	ended atomic.Bool

	mu         sync.Mutex
	topicCache map[string]string
	onMessage  []func([]byte, bool)
	onPing     []func([]byte)
	onPong     []func([]byte)
	onDrain    []func()
	onClose    []func(int, []byte)
}

func newWebSocket(w *WebSocketServer, route *WebSocketRoute, req *Request, raw *engine.WebSocket) *WebSocket {
	id := uuid.NewString()
	return &WebSocket{
		id:         id,
		namespace:  route.namespace,
		route:      route,
		server:     w,
		raw:        raw,
		req:        req,
		ctx:        logger.ContextWithConnID(req.Context(), id),
		tasks:      newTaskSet(req.socket.server.loop),
		topicCache: maps.Clone(route.topics),
	}
}

// ID 连接 ID
func (ws *WebSocket) ID() string { return ws.id }

// Namespace 所属路由的命名空间（副本）
func (ws *WebSocket) Namespace() []byte { return append([]byte(nil), ws.namespace...) }

// Request 升级请求
func (ws *WebSocket) Request() *Request { return ws.req }

// Context 连接上下文，携带升级请求的 Span 与连接 ID
func (ws *WebSocket) Context() context.Context { return ws.ctx }

// RemoteAddr 对端地址
func (ws *WebSocket) RemoteAddr() string { return ws.raw.RemoteAddr() }

// Subprotocol 协商得到的子协议
func (ws *WebSocket) Subprotocol() string { return ws.raw.Subprotocol() }

// Ended 连接是否已结束
func (ws *WebSocket) Ended() bool { return ws.ended.Load() }

// topic 命名空间内的 topic 键
func (ws *WebSocket) topic(name string) string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	key, ok := ws.topicCache[name]
	if !ok {
		key = AllocTopic(ws.namespace, name)
		ws.topicCache[name] = key
	}
	return key
}

// Send 发送消息
func (ws *WebSocket) Send(msg []byte, isBinary, compress bool) SendStatus {
	if ws.ended.Load() {
		return SendDropped
	}
	status := ws.raw.Send(msg, isBinary, compress)
	if status == SendDropped {
		ws.server.metrics.IncrementDroppedMessages()
	}
	return status
}

// SendText 发送文本消息
func (ws *WebSocket) SendText(text string) SendStatus {
	return ws.Send([]byte(text), false, false)
}

// Publish 向同一命名空间内 topic 的其他订阅者广播
func (ws *WebSocket) Publish(topic string, msg []byte, isBinary, compress bool) bool {
	if ws.ended.Load() {
		return false
	}
	return ws.raw.Publish(ws.topic(topic), msg, isBinary, compress)
}

// Subscribe 订阅 topic
func (ws *WebSocket) Subscribe(topic string) bool {
	if ws.ended.Load() {
		return false
	}
	return ws.raw.Subscribe(ws.topic(topic))
}

// Unsubscribe 取消订阅
func (ws *WebSocket) Unsubscribe(topic string) bool {
	if ws.ended.Load() {
		return false
	}
	return ws.raw.Unsubscribe(ws.topic(topic))
}

// IsSubscribed 是否已订阅
func (ws *WebSocket) IsSubscribed(topic string) bool {
	if ws.ended.Load() {
		return false
	}
	return ws.raw.IsSubscribed(ws.topic(topic))
}

// GetTopics 已订阅的 topic 名（不含命名空间）
func (ws *WebSocket) GetTopics() []string {
	if ws.ended.Load() {
		return []string{}
	}
	keys := ws.raw.GetTopics()
	topics := make([]string, 0, len(keys))
	for _, key := range keys {
		topics = append(topics, StripTopic(key))
	}
	return topics
}

// Cork 合并 fn 内的发送，连接结束后直接执行 fn
func (ws *WebSocket) Cork(fn func()) {
	if ws.ended.Load() {
		fn()
		return
	}
	ws.raw.Cork(fn)
}

// GetBufferedAmount 尚未写出的字节数
func (ws *WebSocket) GetBufferedAmount() int {
	if ws.ended.Load() {
		return 0
	}
	return ws.raw.GetBufferedAmount()
}

// Ping 发送 ping
func (ws *WebSocket) Ping(msg []byte) SendStatus {
	if ws.ended.Load() {
		return SendDropped
	}
	return ws.raw.Ping(msg)
}

// Close 立即关闭连接，close 事件的 code 为 1006
func (ws *WebSocket) Close() {
	if ws.ended.Swap(true) {
		return
	}
	ws.raw.Close()
}

// End 发送 close 帧后关闭，code 为 0 时使用 1000
func (ws *WebSocket) End(code int, reason []byte) {
	if ws.ended.Swap(true) {
		return
	}
	ws.raw.End(code, reason)
}

// Every 周期任务，连接关闭时自动取消
func (ws *WebSocket) Every(interval time.Duration, fn func()) (cancel func()) {
	return ws.tasks.every(interval, fn)
}

// OnMessage 收到消息
func (ws *WebSocket) OnMessage(fn func(msg []byte, isBinary bool)) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.onMessage = append(ws.onMessage, fn)
}

// OnPing 收到 ping
func (ws *WebSocket) OnPing(fn func(msg []byte)) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.onPing = append(ws.onPing, fn)
}

// OnPong 收到 pong
func (ws *WebSocket) OnPong(fn func(msg []byte)) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.onPong = append(ws.onPong, fn)
}

// OnDrain 发送缓冲回落
func (ws *WebSocket) OnDrain(fn func()) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.onDrain = append(ws.onDrain, fn)
}

// OnClose 连接关闭，只触发一次
func (ws *WebSocket) OnClose(fn func(code int, reason []byte)) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.onClose = append(ws.onClose, fn)
}

// markEnded 收到 close 事件
func (ws *WebSocket) markEnded() {
	ws.ended.Store(true)
	ws.tasks.stop()
}

func (ws *WebSocket) emitMessage(msg []byte, isBinary bool) {
	ws.mu.Lock()
	handlers := append([]func([]byte, bool){}, ws.onMessage...)
	ws.mu.Unlock()
	for _, fn := range handlers {
		fn(msg, isBinary)
	}
}

func (ws *WebSocket) emitPing(msg []byte) {
	ws.mu.Lock()
	handlers := append([]func([]byte){}, ws.onPing...)
	ws.mu.Unlock()
	for _, fn := range handlers {
		fn(msg)
	}
}

func (ws *WebSocket) emitPong(msg []byte) {
	ws.mu.Lock()
	handlers := append([]func([]byte){}, ws.onPong...)
	ws.mu.Unlock()
	for _, fn := range handlers {
		fn(msg)
	}
}

func (ws *WebSocket) emitDrain() {
	ws.mu.Lock()
	handlers := append([]func(){}, ws.onDrain...)
	ws.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (ws *WebSocket) emitClose(code int, reason []byte) {
	ws.mu.Lock()
	handlers := ws.onClose
	ws.onClose = nil
	ws.mu.Unlock()
	for _, fn := range handlers {
		fn(code, reason)
	}
}
