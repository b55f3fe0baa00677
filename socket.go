package qiuws

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/qiuws/pkg/engine"
)

// HTTPSocket 单个请求所在连接的封装
//
// aborted 单调：传输层报告中断后保持为 true，之后的写入全部丢弃。
type HTTPSocket struct {
	raw      *engine.HTTPResponse
	rawReq   *engine.HTTPRequest
	server   *Server
	bodyless bool

	// upgradeRequested 请求携带 WebSocket 升级头
	upgradeRequested bool

	aborted  atomic.Bool
	finished atomic.Bool
	tasks    *taskSet
	span     trace.Span

	mu        sync.Mutex
	onAborted []func()
}

func newHTTPSocket(s *Server, res *engine.HTTPResponse, req *engine.HTTPRequest) *HTTPSocket {
	method := req.Method()
	sock := &HTTPSocket{
		raw:              res,
		rawReq:           req,
		server:           s,
		bodyless:         method == http.MethodGet || method == http.MethodHead,
		upgradeRequested: engine.IsUpgradeRequest(req.Raw()),
		tasks:            newTaskSet(s.loop),
	}
	res.OnAborted(sock.abort)
	return sock
}

// Bodyless GET/HEAD 请求没有请求体
func (s *HTTPSocket) Bodyless() bool {
	return s.bodyless
}

// Aborted 连接是否已中断
func (s *HTTPSocket) Aborted() bool {
	return s.aborted.Load()
}

// RemoteAddr 对端地址
func (s *HTTPSocket) RemoteAddr() string {
	return s.rawReq.RemoteAddr()
}

// Encrypted 是否为 TLS 连接，TLS 由前置代理终结，始终为 false
func (s *HTTPSocket) Encrypted() bool {
	return false
}

// OnAborted 注册中断回调（在事件循环上执行）
func (s *HTTPSocket) OnAborted(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAborted = append(s.onAborted, fn)
}

// Every 周期任务，连接中断或响应结束时自动取消
func (s *HTTPSocket) Every(interval time.Duration, fn func()) (cancel func()) {
	return s.tasks.every(interval, fn)
}

// Cork 期间的写入合并为一次 flush
func (s *HTTPSocket) Cork(fn func()) {
	s.raw.Cork(fn)
}

// write 中断后静默丢弃
func (s *HTTPSocket) write(p []byte) {
	if s.aborted.Load() {
		return
	}
	s.raw.Write(p)
}

func (s *HTTPSocket) end(p []byte) {
	if !s.aborted.Load() {
		s.raw.End(p)
	}
	s.finish()
}

// Close 立即终止连接
func (s *HTTPSocket) Close() {
	if !s.aborted.Load() {
		s.raw.Close()
	}
	s.finish()
}

func (s *HTTPSocket) abort() {
	if !s.aborted.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	fns := s.onAborted
	s.onAborted = nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	if s.span != nil {
		s.span.AddEvent("aborted")
	}
	s.finish()
}

// finish 终止周期任务并结束 Span，只执行一次
func (s *HTTPSocket) finish() {
	if !s.finished.CompareAndSwap(false, true) {
		return
	}
	s.tasks.stop()
	if s.span != nil {
		s.span.End()
	}
}
