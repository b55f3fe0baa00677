package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// ErrAddressInUse 端口已被占用
var ErrAddressInUse = errors.New("engine: address already in use")

// Handler HTTP 请求回调，在 Loop 上执行
type Handler func(res *HTTPResponse, req *HTTPRequest)

// App 一组路由与监听 socket 的集合
// 基于 net/http 接收连接、gorilla/websocket 完成 RFC6455 握手与分帧
type App struct {
	loop   *Loop
	log    *zap.Logger
	topics *TopicTree

	connectionTimeout time.Duration
	maxConnections    int
	maxHeaderBytes    int

	mu       sync.RWMutex
	handler  Handler
	behavior *Behavior
	upgrader *websocket.Upgrader
}

// AppOption App 选项
type AppOption func(*App)

// WithLoop 指定事件循环，默认 DefaultLoop()
func WithLoop(loop *Loop) AppOption {
	return func(a *App) {
		a.loop = loop
	}
}

// WithLogger 设置日志
func WithLogger(log *zap.Logger) AppOption {
	return func(a *App) {
		a.log = log
	}
}

// WithConnectionTimeout 读取请求头与空闲 keep-alive 的超时
func WithConnectionTimeout(d time.Duration) AppOption {
	return func(a *App) {
		a.connectionTimeout = d
	}
}

// WithMaxConnections 限制同时接受的连接数，0 不限制
func WithMaxConnections(n int) AppOption {
	return func(a *App) {
		a.maxConnections = n
	}
}

// WithMaxHeaderBytes 最大请求头字节数
func WithMaxHeaderBytes(n int) AppOption {
	return func(a *App) {
		a.maxHeaderBytes = n
	}
}

// NewApp 创建 App
func NewApp(opts ...AppOption) *App {
	a := &App{
		log:            zap.NewNop(),
		topics:         NewTopicTree(),
		maxHeaderBytes: http.DefaultMaxHeaderBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.loop == nil {
		a.loop = DefaultLoop()
	}
	return a
}

// Loop 返回 App 使用的事件循环
func (a *App) Loop() *Loop {
	return a.loop
}

// Topics 返回 App 自带的 TopicTree
func (a *App) Topics() *TopicTree {
	return a.topics
}

// SetConnectionTimeout 对之后的 Listen 与握手生效
func (a *App) SetConnectionTimeout(d time.Duration) {
	a.mu.Lock()
	a.connectionTimeout = d
	if a.upgrader != nil {
		up := *a.upgrader
		up.HandshakeTimeout = d
		a.upgrader = &up
	}
	a.mu.Unlock()
}

// Any 为所有 HTTP 方法注册处理函数
func (a *App) Any(h Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// WS 注册 WebSocket 行为，nil 表示移除
func (a *App) WS(b *Behavior) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.behavior = b
	if b == nil {
		a.upgrader = nil
		return
	}
	if b.Topics == nil {
		b.Topics = a.topics
	}
	checkOrigin := b.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	a.upgrader = &websocket.Upgrader{
		HandshakeTimeout:  a.connectionTimeout,
		CheckOrigin:       checkOrigin,
		EnableCompression: b.Compression != CompressionDisabled,
	}
}

// Publish 从服务端向 topic 广播
func (a *App) Publish(topic string, msg []byte, isBinary, compress bool) bool {
	a.mu.RLock()
	topics := a.topics
	if a.behavior != nil {
		topics = a.behavior.Topics
	}
	a.mu.RUnlock()
	return topics.Publish(nil, topic, msg, isBinary, compress) > 0
}

func (a *App) current() (Handler, *Behavior, *websocket.Upgrader) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.handler, a.behavior, a.upgrader
}

var knownMethods = map[string]struct{}{
	http.MethodConnect: {}, http.MethodDelete: {}, http.MethodGet: {},
	http.MethodHead: {}, http.MethodOptions: {}, http.MethodPatch: {},
	http.MethodPost: {}, http.MethodPut: {}, http.MethodTrace: {},
}

// ServeHTTP 把 net/http 的请求转成 Loop 上的回调
//
// 当前 goroutine 阻塞到响应结束、被升级或客户端断开，
// 期间 http.ResponseWriter 只经由 HTTPResponse（加锁）访问。
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := knownMethods[r.Method]; !ok {
		a.log.Debug("invalid http method", zap.String("method", r.Method))
		http.Error(w, "Invalid HTTP method", http.StatusBadRequest)
		return
	}

	handler, behavior, upgrader := a.current()
	res := newHTTPResponse(a, w, r, upgrader, behavior)
	req := newHTTPRequest(r)

	switch {
	case behavior != nil && behavior.Upgrade != nil && IsUpgradeRequest(r):
		a.loop.Post(func() { behavior.Upgrade(res, req) })
	case handler != nil:
		a.loop.Post(func() { handler(res, req) })
	default:
		http.NotFound(w, r)
		return
	}

	select {
	case <-res.done:
	case <-r.Context().Done():
		res.abort()
	}

	if res.shouldAbortConn() {
		panic(http.ErrAbortHandler)
	}
}

// IsUpgradeRequest 请求是否携带 WebSocket 升级头
func IsUpgradeRequest(r *http.Request) bool {
	return headerContainsToken(r.Header, "Connection", "upgrade") &&
		headerContainsToken(r.Header, "Upgrade", "websocket")
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// ListenSocket 已绑定的监听 socket
type ListenSocket struct {
	srv  *http.Server
	ln   net.Listener
	port int
	once sync.Once
	err  error
}

// LocalPort 实际绑定的端口
func (s *ListenSocket) LocalPort() int {
	return s.port
}

// Close 关闭监听与所有未升级的连接，已升级的 WebSocket 不受影响
func (s *ListenSocket) Close() error {
	s.once.Do(func() {
		s.err = s.srv.Close()
	})
	return s.err
}

// Listen 绑定 host:port 并开始接受连接
// 端口冲突返回包装了 ErrAddressInUse 的错误
func (a *App) Listen(host string, port int) (*ListenSocket, error) {
	lc := net.ListenConfig{Control: controlSocket}
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		if isAddrInUse(err) {
			return nil, fmt.Errorf("%w: %w", ErrAddressInUse, err)
		}
		return nil, err
	}
	if a.maxConnections > 0 {
		ln = netutil.LimitListener(ln, a.maxConnections)
	}

	a.mu.RLock()
	timeout := a.connectionTimeout
	a.mu.RUnlock()
	srv := &http.Server{
		Handler:           a,
		ReadHeaderTimeout: timeout,
		IdleTimeout:       timeout,
		MaxHeaderBytes:    a.maxHeaderBytes,
		ErrorLog:          zap.NewStdLog(a.log),
	}
	ls := &ListenSocket{
		srv:  srv,
		ln:   ln,
		port: ln.Addr().(*net.TCPAddr).Port,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("listen socket serve failed", zap.Error(err))
		}
	}()
	return ls, nil
}
