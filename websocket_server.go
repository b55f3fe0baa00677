package qiuws

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/qiuws/pkg/engine"
	"github.com/tokmz/qiuws/pkg/logger"
)

// Compression 压缩模式
type Compression = engine.Compression

const (
	CompressionDisabled = engine.CompressionDisabled
	SharedCompressor    = engine.SharedCompressor
	DedicatedCompressor = engine.DedicatedCompressor
)

// SendStatus 发送结果
type SendStatus = engine.SendStatus

const (
	SendSuccess      = engine.SendSuccess
	SendBackpressure = engine.SendBackpressure
	SendDropped      = engine.SendDropped
)

// ParseCompression 解析配置文件中的压缩模式
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shared":
		return SharedCompressor, nil
	case "dedicated":
		return DedicatedCompressor, nil
	case "disabled", "none", "off":
		return CompressionDisabled, nil
	}
	return CompressionDisabled, fmt.Errorf("unknown compression %q", s)
}

// WebSocketOptions WebSocket 配置
type WebSocketOptions struct {
	Compression            Compression
	IdleTimeout            time.Duration
	MaxPayloadLength       int64
	MaxBackpressure        int
	SendPingsAutomatically bool

	// CheckOrigin 为 nil 时接受任意 Origin
	CheckOrigin func(r *http.Request) bool

	Logger  logger.Logger
	Metrics Metrics
}

// WebSocketOption WebSocket 配置选项
type WebSocketOption func(*WebSocketOptions)

func defaultWebSocketOptions() *WebSocketOptions {
	return &WebSocketOptions{
		Compression:            SharedCompressor,
		IdleTimeout:            16 * time.Second,
		MaxPayloadLength:       16 * 1024 * 1024,
		MaxBackpressure:        64 * 1024,
		SendPingsAutomatically: true,
		Logger:                 logger.NewNop(),
		Metrics:                NoopMetrics{},
	}
}

// WithCompression 设置压缩模式
func WithCompression(c Compression) WebSocketOption {
	return func(o *WebSocketOptions) {
		o.Compression = c
	}
}

// WithIdleTimeout 空闲超时，0 表示不限制
func WithIdleTimeout(d time.Duration) WebSocketOption {
	return func(o *WebSocketOptions) {
		o.IdleTimeout = d
	}
}

// WithMaxPayloadLength 单条消息最大字节数
func WithMaxPayloadLength(n int64) WebSocketOption {
	return func(o *WebSocketOptions) {
		o.MaxPayloadLength = n
	}
}

// WithMaxBackpressure 发送缓冲阈值
func WithMaxBackpressure(n int) WebSocketOption {
	return func(o *WebSocketOptions) {
		o.MaxBackpressure = n
	}
}

// WithSendPingsAutomatically 是否自动发送 ping
func WithSendPingsAutomatically(enable bool) WebSocketOption {
	return func(o *WebSocketOptions) {
		o.SendPingsAutomatically = enable
	}
}

// WithCheckOrigin 校验 Origin
func WithCheckOrigin(fn func(r *http.Request) bool) WebSocketOption {
	return func(o *WebSocketOptions) {
		o.CheckOrigin = fn
	}
}

// WithWebSocketLogger 设置日志
func WithWebSocketLogger(l logger.Logger) WebSocketOption {
	return func(o *WebSocketOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithMetrics 设置监控
func WithMetrics(m Metrics) WebSocketOption {
	return func(o *WebSocketOptions) {
		if m != nil {
			o.Metrics = m
		}
	}
}

// upgradeData 握手时交给引擎，open 时取回
type upgradeData struct {
	route *WebSocketRoute
	req   *Request
}

// WebSocketServer 在一个或多个 Server 上复用 WebSocket 连接
//
// 同一端口的多个 Server（例如 0.0.0.0 与 ::）共享同一个 WebSocketServer，
// 连接集合与 topic 索引都属于它。
type WebSocketServer struct {
	opts    *WebSocketOptions
	logger  logger.Logger
	metrics Metrics
	topics  *engine.TopicTree

	conns sync.Map     // *engine.WebSocket -> *WebSocket
	count atomic.Int64 // 连接数

	// delegate 被同端口的 WebSocketServer 取代后，topic 操作转交给它
	delegate atomic.Pointer[WebSocketServer]

	mu      sync.Mutex
	loop    *engine.Loop
	servers map[*Server]struct{}
	routes  []string

	onOpen    []func(*WebSocket)
	onMessage []func(*WebSocket, []byte, bool)
	onClose   []func(*WebSocket, int, []byte)
	onDrain   []func(*WebSocket)
	onPing    []func(*WebSocket, []byte)
	onPong    []func(*WebSocket, []byte)
	onError   []func(error)
}

// NewWebSocketServer 创建 WebSocketServer，选项覆盖默认值
func NewWebSocketServer(opts ...WebSocketOption) *WebSocketServer {
	o := defaultWebSocketOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &WebSocketServer{
		opts:    o,
		logger:  o.Logger.With(zap.String("component", "websocket")),
		metrics: o.Metrics,
		topics:  engine.NewTopicTree(),
		servers: make(map[*Server]struct{}),
	}
}

// Options 生效的配置
func (w *WebSocketServer) Options() WebSocketOptions {
	return *w.opts
}

// AddServer 在 s 上注册 WebSocket 行为
func (w *WebSocketServer) AddServer(s *Server) {
	w.mu.Lock()
	w.servers[s] = struct{}{}
	if w.loop == nil {
		w.loop = s.loop
	}
	w.mu.Unlock()
	s.attach(w, w.behaviorFor(s))
}

// RemoveServer 解除与 s 的关联
func (w *WebSocketServer) RemoveServer(s *Server) {
	w.mu.Lock()
	_, ok := w.servers[s]
	delete(w.servers, s)
	w.mu.Unlock()
	if ok {
		s.detach(w)
	}
}

// Servers 关联的 Server 数量
func (w *WebSocketServer) Servers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.servers)
}

func (w *WebSocketServer) attached() []*Server {
	w.mu.Lock()
	defer w.mu.Unlock()
	servers := make([]*Server, 0, len(w.servers))
	for s := range w.servers {
		servers = append(servers, s)
	}
	return servers
}

func (w *WebSocketServer) behaviorFor(s *Server) *engine.Behavior {
	o := w.opts
	return &engine.Behavior{
		Compression:            o.Compression,
		IdleTimeout:            o.IdleTimeout,
		MaxPayloadLength:       o.MaxPayloadLength,
		MaxBackpressure:        o.MaxBackpressure,
		SendPingsAutomatically: o.SendPingsAutomatically,
		CheckOrigin:            o.CheckOrigin,
		Topics:                 w.topics,

		Upgrade: func(res *engine.HTTPResponse, req *engine.HTTPRequest) {
			s.serve(res, req, true)
		},
		Open:    w.open,
		Message: w.message,
		Drain:   w.drain,
		Ping:    w.ping,
		Pong:    w.pong,
		Close:   w.close,
	}
}

func (w *WebSocketServer) delegateTo(other *WebSocketServer) {
	w.delegate.Store(other)
}

func (w *WebSocketServer) topicTree() *engine.TopicTree {
	if d := w.delegate.Load(); d != nil {
		return d.topicTree()
	}
	return w.topics
}

func (w *WebSocketServer) addRoute(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.routes = append(w.routes, path)
}

// Routes 已注册的 WebSocket 路由
func (w *WebSocketServer) Routes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.routes...)
}

// OnOpen 连接建立后回调（在路由处理函数之后）
func (w *WebSocketServer) OnOpen(fn func(ws *WebSocket)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onOpen = append(w.onOpen, fn)
}

// OnMessage 收到消息，先触发连接自身的回调
func (w *WebSocketServer) OnMessage(fn func(ws *WebSocket, msg []byte, isBinary bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onMessage = append(w.onMessage, fn)
}

// OnClose 连接关闭，每个连接只触发一次
func (w *WebSocketServer) OnClose(fn func(ws *WebSocket, code int, reason []byte)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onClose = append(w.onClose, fn)
}

// OnDrain 发送缓冲回落
func (w *WebSocketServer) OnDrain(fn func(ws *WebSocket)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDrain = append(w.onDrain, fn)
}

// OnPing 收到 ping
func (w *WebSocketServer) OnPing(fn func(ws *WebSocket, msg []byte)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onPing = append(w.onPing, fn)
}

// OnPong 收到 pong
func (w *WebSocketServer) OnPong(fn func(ws *WebSocket, msg []byte)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onPong = append(w.onPong, fn)
}

// OnError 升级失败与路由处理错误
func (w *WebSocketServer) OnError(fn func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = append(w.onError, fn)
}

func (w *WebSocketServer) lookup(raw *engine.WebSocket) *WebSocket {
	v, ok := w.conns.Load(raw)
	if !ok {
		return nil
	}
	ws, _ := v.(*WebSocket)
	return ws
}

func (w *WebSocketServer) open(raw *engine.WebSocket) {
	data, ok := raw.UserData().(*upgradeData)
	if !ok {
		w.logger.Warn("websocket opened without route", zap.String("remote", raw.RemoteAddr()))
		raw.Close()
		return
	}

	ws := newWebSocket(w, data.route, data.req, raw)
	w.conns.Store(raw, ws)
	w.count.Add(1)
	w.metrics.IncrementConnections()

	w.logger.InfoContext(ws.Context(), "websocket connection opened",
		zap.String("path", data.route.Path()),
		zap.String("remote", raw.RemoteAddr()),
	)

	data.route.handle(ws, data.req)

	w.mu.Lock()
	handlers := append([]func(*WebSocket){}, w.onOpen...)
	w.mu.Unlock()
	for _, fn := range handlers {
		fn(ws)
	}
}

func (w *WebSocketServer) message(raw *engine.WebSocket, msg []byte, isBinary bool) {
	ws := w.lookup(raw)
	if ws == nil {
		return
	}
	w.metrics.IncrementMessages(isBinary)
	ws.emitMessage(msg, isBinary)

	w.mu.Lock()
	handlers := append([]func(*WebSocket, []byte, bool){}, w.onMessage...)
	w.mu.Unlock()
	for _, fn := range handlers {
		fn(ws, msg, isBinary)
	}
}

func (w *WebSocketServer) drain(raw *engine.WebSocket) {
	ws := w.lookup(raw)
	if ws == nil {
		return
	}
	ws.emitDrain()

	w.mu.Lock()
	handlers := append([]func(*WebSocket){}, w.onDrain...)
	w.mu.Unlock()
	for _, fn := range handlers {
		fn(ws)
	}
}

func (w *WebSocketServer) ping(raw *engine.WebSocket, msg []byte) {
	ws := w.lookup(raw)
	if ws == nil {
		return
	}
	ws.emitPing(msg)

	w.mu.Lock()
	handlers := append([]func(*WebSocket, []byte){}, w.onPing...)
	w.mu.Unlock()
	for _, fn := range handlers {
		fn(ws, msg)
	}
}

func (w *WebSocketServer) pong(raw *engine.WebSocket, msg []byte) {
	ws := w.lookup(raw)
	if ws == nil {
		return
	}
	ws.emitPong(msg)

	w.mu.Lock()
	handlers := append([]func(*WebSocket, []byte){}, w.onPong...)
	w.mu.Unlock()
	for _, fn := range handlers {
		fn(ws, msg)
	}
}

func (w *WebSocketServer) close(raw *engine.WebSocket, code int, reason []byte) {
	v, loaded := w.conns.LoadAndDelete(raw)
	if !loaded {
		return
	}
	ws := v.(*WebSocket)
	w.count.Add(-1)
	w.metrics.DecrementConnections()

	ws.markEnded()
	ws.emitClose(code, reason)

	w.mu.Lock()
	handlers := append([]func(*WebSocket, int, []byte){}, w.onClose...)
	w.mu.Unlock()
	for _, fn := range handlers {
		fn(ws, code, reason)
	}

	w.logger.InfoContext(ws.Context(), "websocket connection closed",
		zap.String("path", ws.route.Path()),
		zap.Int("code", code),
	)
}

// Connections 存活连接快照
func (w *WebSocketServer) Connections() []*WebSocket {
	conns := make([]*WebSocket, 0, w.Len())
	w.conns.Range(func(_, value any) bool {
		if ws, ok := value.(*WebSocket); ok {
			conns = append(conns, ws)
		}
		return true
	})
	return conns
}

// Len 存活连接数
func (w *WebSocketServer) Len() int {
	return int(w.count.Load())
}

// CloseAll 强制关闭所有存活连接，close 事件照常触发
func (w *WebSocketServer) CloseAll() {
	for _, ws := range w.Connections() {
		ws.Close()
	}
}

// Publish 在 namespace 内向 topic 广播
// 没有订阅者时返回 false
func (w *WebSocketServer) Publish(namespace []byte, topic string, msg []byte, isBinary, compress bool) bool {
	return w.topicTree().Publish(nil, AllocTopic(namespace, topic), msg, isBinary, compress) > 0
}

// reportError 记录错误并触发 OnError
func (w *WebSocketServer) reportError(ctx context.Context, err error) {
	if errors.Is(err, ErrUpgradeFailed) {
		w.metrics.IncrementUpgradeFailures()
		w.logger.WarnContext(ctx, "websocket upgrade failed", zap.Error(err))
	} else {
		w.metrics.IncrementHandlerErrors()
		w.logger.ErrorContext(ctx, "websocket handler failed", zap.Error(err))
	}

	w.mu.Lock()
	handlers := append([]func(error){}, w.onError...)
	loop := w.loop
	w.mu.Unlock()
	if len(handlers) == 0 {
		return
	}
	if loop == nil {
		loop = engine.DefaultLoop()
	}
	loop.Post(func() {
		for _, fn := range handlers {
			fn(err)
		}
	})
}

// AllocTopic 生成 namespace 内的 topic 键
//
// 键为 uvarint(len(namespace)) + namespace + "!" + name，
// 不同的 (namespace, name) 总是得到不同的键。
func AllocTopic(namespace []byte, name string) string {
	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(namespace)))

	var b strings.Builder
	b.Grow(n + len(namespace) + 1 + len(name))
	b.Write(prefix[:n])
	b.Write(namespace)
	b.WriteByte('!')
	b.WriteString(name)
	return b.String()
}

// StripTopic 从 AllocTopic 的键取回 topic 名，格式不符时原样返回
func StripTopic(key string) string {
	size, n := binary.Uvarint([]byte(key))
	if n <= 0 || size > uint64(len(key)) {
		return key
	}
	start := n + int(size) + 1
	if start > len(key) || key[start-1] != '!' {
		return key
	}
	return key[start:]
}
