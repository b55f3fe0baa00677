package qiuws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/qiuws/pkg/engine"
	"github.com/tokmz/qiuws/pkg/logger"
	"github.com/tokmz/qiuws/pkg/tracing"
)

// State 监听状态
type State int32

const (
	StateCreated State = iota
	StateListening
	StateClosed
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateListening:
		return "listening"
	default:
		return "closed"
	}
}

// Handler 请求处理函数
// 每个请求在事件循环上调用一次，可以异步完成响应
type Handler func(req *Request, res *Response)

// ListenOptions 监听参数
type ListenOptions struct {
	Host string
	Port int
	// Signal 取消时关闭服务
	Signal context.Context
}

// Server 拥有一个监听地址的服务
//
// 状态：Created -> Listening -> Closed。绑定失败停留在 Created，可以重试；
// Close 之后不能再次 Listen。
type Server struct {
	cfg      *Config
	handler  Handler
	app      *engine.App
	loop     *engine.Loop
	registry *Registry
	resolver *Resolver
	logger   logger.Logger
	tracer   trace.Tracer

	mu           sync.Mutex
	state        State
	address      *Address
	listenSocket *engine.ListenSocket
	registered   bool
	wss          *WebSocketServer
	stopSignal   func() bool

	onListening []func(Address)
	onClose     []func()
	onError     []func(error)
	onUpgrade   []func(*Request, *HTTPSocket)
}

// NewServer 创建服务，handler 为 nil 时所有请求返回 404
func NewServer(handler Handler, opts ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Loop == nil {
		cfg.Loop = engine.DefaultLoop()
	}
	if handler == nil {
		handler = notFound
	}

	s := &Server{
		cfg:      cfg,
		handler:  handler,
		loop:     cfg.Loop,
		registry: cfg.Registry,
		resolver: NewResolver(cfg.PreferIPv6),
		logger:   cfg.Logger.With(zap.String("component", "server")),
		tracer:   tracing.Tracer(cfg.TracerProvider),
	}
	s.app = engine.NewApp(
		engine.WithLoop(cfg.Loop),
		engine.WithLogger(logger.Zap(cfg.Logger).Named("engine")),
		engine.WithConnectionTimeout(cfg.ConnectionTimeout),
		engine.WithMaxConnections(cfg.MaxConnections),
		engine.WithMaxHeaderBytes(cfg.MaxHeaderBytes),
	)
	s.app.Any(s.dispatch)
	return s
}

func notFound(_ *Request, res *Response) {
	_ = res.SetStatus(http.StatusNotFound)
	_ = res.End([]byte(http.StatusText(http.StatusNotFound)))
}

// OnListening 监听成功后回调（事件循环上执行）
func (s *Server) OnListening(fn func(addr Address)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onListening = append(s.onListening, fn)
}

// OnClose 关闭完成后回调，只触发一次
func (s *Server) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, fn)
}

// OnError 监听失败时回调
func (s *Server) OnError(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = append(s.onError, fn)
}

// OnUpgrade 收到携带升级头的请求时回调，先于处理函数执行
func (s *Server) OnUpgrade(fn func(req *Request, socket *HTTPSocket)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpgrade = append(s.onUpgrade, fn)
}

// State 当前状态
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Listening 是否处于监听状态
func (s *Server) Listening() bool {
	return s.State() == StateListening
}

// Address 实际监听地址，未监听时返回 nil
func (s *Server) Address() *Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.address == nil {
		return nil
	}
	addr := *s.address
	return &addr
}

// WebSocketServer 当前使用的 WebSocketServer（可能与同端口的其他 Server 共享）
func (s *Server) WebSocketServer() *WebSocketServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wss
}

func (s *Server) attach(w *WebSocketServer, b *engine.Behavior) {
	s.mu.Lock()
	s.wss = w
	s.mu.Unlock()
	s.app.WS(b)
}

func (s *Server) detach(w *WebSocketServer) {
	s.mu.Lock()
	if s.wss != w {
		s.mu.Unlock()
		return
	}
	s.wss = nil
	s.mu.Unlock()
	s.app.WS(nil)
}

// Listen 解析地址并绑定
//
// 端口非法同步返回 ErrInvalidPort；已关闭返回 ErrServerDestroyed；
// 端口被占用返回 ErrAddressInUse，服务保持 Created。
// 同一非 0 端口已有登记者时，共享登记者的 WebSocketServer。
func (s *Server) Listen(ctx context.Context, opts ListenOptions) error {
	if err := ValidatePort(opts.Port); err != nil {
		return err
	}
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrServerDestroyed
	case StateListening:
		s.mu.Unlock()
		return ErrServerListening
	}
	s.mu.Unlock()

	addr, err := s.resolver.Resolve(ctx, opts.Host, opts.Port)
	if err != nil {
		s.fail("resolve address failed", err)
		return err
	}

	restore := s.adopt(addr.Port)

	ls, err := s.app.Listen(addr.Address, addr.Port)
	if err != nil {
		restore()
		if errors.Is(err, engine.ErrAddressInUse) {
			err = ErrAddressInUse.WithError(err)
		}
		s.fail("listen failed", err, zap.Stringer("address", addr))
		return err
	}
	addr.Port = ls.LocalPort()

	s.mu.Lock()
	if s.state == StateClosed {
		// Listen 期间被关闭
		s.mu.Unlock()
		restore()
		_ = ls.Close()
		return ErrServerDestroyed
	}
	s.state = StateListening
	s.address = addr
	s.listenSocket = ls
	s.registered = s.registry.Register(addr.Port, s) == nil
	if opts.Signal != nil {
		s.stopSignal = context.AfterFunc(opts.Signal, func() { s.Close() })
	}
	listeners := append([]func(Address){}, s.onListening...)
	s.mu.Unlock()

	s.logger.Info("server listening",
		zap.String("address", addr.Address),
		zap.Int("port", addr.Port),
		zap.String("family", string(addr.Family)),
	)
	if s.cfg.Banner {
		s.printBanner(os.Stdout, *addr)
	}
	a := *addr
	s.loop.Post(func() {
		for _, fn := range listeners {
			fn(a)
		}
	})
	return nil
}

// adopt 共享同端口登记者的 WebSocketServer，返回回滚函数
func (s *Server) adopt(port int) (restore func()) {
	restore = func() {}
	if port == 0 {
		return
	}
	owner := s.registry.Lookup(port)
	if owner == nil || owner == s {
		return
	}
	shared := owner.WebSocketServer()
	previous := s.WebSocketServer()
	if shared == nil || shared == previous {
		return
	}

	if previous != nil {
		previous.RemoveServer(s)
		previous.delegateTo(shared)
	}
	shared.AddServer(s)
	s.logger.Debug("sharing websocket server", zap.Int("port", port))

	return func() {
		shared.RemoveServer(s)
		if previous != nil {
			previous.delegateTo(nil)
			previous.AddServer(s)
		}
	}
}

// fail 记录错误并触发 OnError
func (s *Server) fail(msg string, err error, fields ...zap.Field) {
	s.logger.Error(msg, append(fields, zap.Error(err))...)
	s.mu.Lock()
	handlers := append([]func(error){}, s.onError...)
	s.mu.Unlock()
	s.loop.Post(func() {
		for _, fn := range handlers {
			fn(err)
		}
	})
}

// Close 关闭服务，幂等
//
// 首次调用：注销登记、关闭监听 socket；登记者会强制关闭共享 WebSocketServer 的所有连接，
// 非登记者只解除自身引用。登记随后移交给同端口仍在监听的共享者，
// 最后一个共享者关闭时同样关闭所有连接。关闭通知在下一轮事件循环触发，cb 随通知执行。
// 再次调用时 cb 立即执行，不会重复通知。
func (s *Server) Close(cb ...func()) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		for _, fn := range cb {
			fn()
		}
		return
	}
	s.state = StateClosed
	addr := s.address
	ls := s.listenSocket
	registered := s.registered
	wss := s.wss
	stop := s.stopSignal
	s.listenSocket = nil
	s.registered = false
	s.stopSignal = nil
	handlers := append(append([]func(){}, s.onClose...), cb...)
	s.mu.Unlock()

	if stop != nil {
		stop()
	}

	owner := false
	if addr != nil && registered {
		owner = s.registry.Unregister(addr.Port, s)
	}
	if ls != nil {
		_ = ls.Close()
	}
	if wss != nil {
		if owner {
			wss.CloseAll()
		}
		wss.RemoveServer(s)
		switch {
		case owner:
			s.handOver(wss, addr.Port)
		case wss.Servers() == 0:
			// 最后一个共享者，之后接入的连接没有登记者负责关闭
			wss.CloseAll()
		}
	}

	fields := []zap.Field{zap.Bool("owner", owner)}
	if addr != nil {
		fields = append(fields, zap.Stringer("address", addr))
	}
	s.logger.Info("server closed", fields...)

	s.loop.Post(func() {
		for _, fn := range handlers {
			fn()
		}
	})
}

// handOver 把端口登记移交给仍共享 wss 的同端口 Server
func (s *Server) handOver(wss *WebSocketServer, port int) {
	for _, next := range wss.attached() {
		if next.claim(port) {
			s.logger.Debug("port ownership handed over", zap.Int("port", port))
			return
		}
	}
}

// claim 监听同一端口且尚未登记时接管登记
func (s *Server) claim(port int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening || s.registered || s.address == nil || s.address.Port != port {
		return false
	}
	s.registered = s.registry.Register(port, s) == nil
	return s.registered
}

// dispatch 引擎的 HTTP 回调
func (s *Server) dispatch(raw *engine.HTTPResponse, rawReq *engine.HTTPRequest) {
	s.serve(raw, rawReq, false)
}

// serve 构造 HTTPSocket/Request/Response 并调用处理函数一次
func (s *Server) serve(raw *engine.HTTPResponse, rawReq *engine.HTTPRequest, upgradable bool) {
	sock := newHTTPSocket(s, raw, rawReq)

	base := rawReq.Context()
	spanName := "http.request"
	if upgradable {
		// 握手完成后底层请求上下文会被取消，WebSocket 生命周期内仍需使用
		base = context.WithoutCancel(base)
		spanName = "websocket.upgrade"
	}
	base = logger.ContextWithRequestID(base, uuid.NewString())
	ctx, span := s.tracer.Start(base, spanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", rawReq.Method()),
			attribute.String("url.path", rawReq.ParsedURL().Path),
			attribute.String("client.address", rawReq.RemoteAddr()),
		),
	)
	sock.span = span

	req := newRequest(ctx, sock, rawReq, upgradable)
	res := newResponse(sock, req)
	req.ctx = context.WithValue(ctx, requestContextKey{}, requestPair{req: req, res: res})

	if sock.upgradeRequested {
		s.mu.Lock()
		handlers := append([]func(*Request, *HTTPSocket){}, s.onUpgrade...)
		s.mu.Unlock()
		for _, fn := range handlers {
			fn(req, sock)
		}
	}

	s.invoke(req, res)
}

func (s *Server) invoke(req *Request, res *Response) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			tracing.RecordError(req.socket.span, err)
			s.logger.ErrorContext(req.Context(), "request handler panic",
				zap.String("method", req.Method()),
				zap.String("url", req.URL()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			if !res.HeadersSent() {
				_ = res.SetStatus(http.StatusInternalServerError)
				_ = res.End([]byte(http.StatusText(http.StatusInternalServerError)))
				return
			}
			if !res.Hijacked() {
				req.socket.Close()
			}
		}
	}()
	s.handler(req, res)
}

// upgradeFailed 升级请求没有被 WebSocket 路由接管
func (s *Server) upgradeFailed(req *Request, status int) {
	err := ErrUpgradeFailed.WithError(fmt.Errorf("%s %s was not upgraded (status %d)", req.Method(), req.Path(), status))
	if wss := s.WebSocketServer(); wss != nil {
		wss.reportError(req.Context(), err)
		return
	}
	s.logger.WarnContext(req.Context(), "websocket upgrade failed", zap.Error(err))
}

// SetTimeout 修改连接超时，对之后的 Listen 生效
func (s *Server) SetTimeout(d time.Duration) {
	s.mu.Lock()
	s.cfg.ConnectionTimeout = d
	s.mu.Unlock()
	s.app.SetConnectionTimeout(d)
}

// CloseIdleConnections 等同于 Close
func (s *Server) CloseIdleConnections() {
	s.Close()
}
