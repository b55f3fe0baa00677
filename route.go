package qiuws

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tokmz/qiuws/pkg/tracing"
)

// WebSocketHandler 连接建立后调用一次，返回的错误交给 ErrorHandler
type WebSocketHandler func(ws *WebSocket, req *Request) error

// ErrorHandler 处理 WebSocketHandler 的错误与 panic
type ErrorHandler func(err error, ws *WebSocket, req *Request)

// RouteOption 路由选项
type RouteOption func(*WebSocketRoute)

// WithTopics 预先生成 topic 键
func WithTopics(names ...string) RouteOption {
	return func(r *WebSocketRoute) {
		for _, name := range names {
			r.topics[name] = AllocTopic(r.namespace, name)
		}
	}
}

// WithErrorHandler 自定义错误处理，默认记录日志后关闭连接
func WithErrorHandler(h ErrorHandler) RouteOption {
	return func(r *WebSocketRoute) {
		r.errorHandler = h
	}
}

// WithFallback 非升级请求交给 h 处理，默认返回 426
func WithFallback(h http.Handler) RouteOption {
	return func(r *WebSocketRoute) {
		r.fallback = h
	}
}

// WebSocketRoute 可升级为 WebSocket 的路由
// 路由路径即 topic 命名空间
type WebSocketRoute struct {
	wss          *WebSocketServer
	path         string
	namespace    []byte
	handler      WebSocketHandler
	errorHandler ErrorHandler
	fallback     http.Handler
	topics       map[string]string
}

// NewWebSocketRoute 创建路由
func NewWebSocketRoute(wss *WebSocketServer, path string, handler WebSocketHandler, opts ...RouteOption) *WebSocketRoute {
	r := &WebSocketRoute{
		wss:       wss,
		path:      path,
		namespace: []byte(path),
		handler:   handler,
		topics:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.errorHandler == nil {
		r.errorHandler = defaultErrorHandler
	}
	wss.addRoute(path)
	return r
}

func defaultErrorHandler(_ error, ws *WebSocket, _ *Request) {
	ws.Close()
}

// Path 路由路径
func (r *WebSocketRoute) Path() string { return r.path }

// Namespace topic 命名空间（副本）
func (r *WebSocketRoute) Namespace() []byte { return append([]byte(nil), r.namespace...) }

// Publish 在路由命名空间内广播
func (r *WebSocketRoute) Publish(topic string, msg []byte, isBinary, compress bool) bool {
	return r.wss.Publish(r.namespace, topic, msg, isBinary, compress)
}

// Serve 接管可升级的请求并完成握手
//
// 返回 false 表示请求不是经由升级回调到达（或为 HEAD/OPTIONS），调用方应按普通请求处理。
// 握手失败时已回复错误状态，同样返回 true。
func (r *WebSocketRoute) Serve(req *Request, res *Response) bool {
	if !req.upgradable || req.method == http.MethodHead || req.method == http.MethodOptions {
		return false
	}
	sock := req.socket
	if err := res.Hijack(); err != nil {
		r.wss.reportError(req.Context(), err)
		return true
	}

	_, err := sock.raw.Upgrade(&upgradeData{route: r, req: req},
		req.Header("Sec-WebSocket-Key"),
		firstToken(req.Header("Sec-WebSocket-Protocol")),
		req.Header("Sec-WebSocket-Extensions"),
	)
	if err != nil {
		err = ErrUpgradeFailed.WithError(err)
		tracing.RecordError(sock.span, err)
		r.wss.reportError(req.Context(), err)
	}
	sock.finish()
	return true
}

// Handle 作为 Handler 使用：升级请求进入 WebSocket，其他请求交给 fallback
func (r *WebSocketRoute) Handle(req *Request, res *Response) {
	if r.Serve(req, res) {
		return
	}
	if r.fallback != nil {
		HTTPHandler(r.fallback)(req, res)
		return
	}
	_ = res.SetHeader("Upgrade", "websocket")
	_ = res.SetStatus(http.StatusUpgradeRequired)
	_ = res.End([]byte(http.StatusText(http.StatusUpgradeRequired)))
}

// handle 调用路由处理函数，panic 与错误交给 errorHandler
func (r *WebSocketRoute) handle(ws *WebSocket, req *Request) {
	defer func() {
		if p := recover(); p != nil {
			r.wss.logger.ErrorContext(ws.Context(), "websocket handler panic",
				zap.String("path", r.path),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			r.fail(fmt.Errorf("websocket handler panic: %v", p), ws, req)
		}
	}()
	if err := r.handler(ws, req); err != nil {
		r.fail(err, ws, req)
	}
}

func (r *WebSocketRoute) fail(err error, ws *WebSocket, req *Request) {
	r.wss.reportError(ws.Context(), err)
	r.errorHandler(err, ws, req)
}

func firstToken(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}
