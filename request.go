package qiuws

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/tokmz/qiuws/pkg/engine"
)

type requestContextKey struct{}

type requestPair struct {
	req *Request
	res *Response
}

// RequestFromContext 在框架处理函数中取回 Request/Response
func RequestFromContext(ctx context.Context) (*Request, *Response, bool) {
	p, ok := ctx.Value(requestContextKey{}).(requestPair)
	if !ok {
		return nil, nil, false
	}
	return p.req, p.res, true
}

// Request 单个请求
// 构造后只读，请求体按需读取
type Request struct {
	method string
	url    string
	header http.Header
	socket *HTTPSocket
	raw    *engine.HTTPRequest
	ctx    context.Context

	// upgradable 请求经由引擎升级回调到达，可以被 WebSocket 路由接管
	upgradable bool

	bodyOnce sync.Once
	body     io.ReadCloser
}

func newRequest(ctx context.Context, sock *HTTPSocket, raw *engine.HTTPRequest, upgradable bool) *Request {
	return &Request{
		method:     raw.Method(),
		url:        raw.URL(),
		header:     raw.Headers(),
		socket:     sock,
		raw:        raw,
		ctx:        ctx,
		upgradable: upgradable,
	}
}

// Method 请求方法
func (r *Request) Method() string { return r.method }

// URL 请求路径与查询串
func (r *Request) URL() string { return r.url }

// Path 不含查询串的路径
func (r *Request) Path() string {
	path, _, _ := strings.Cut(r.url, "?")
	return path
}

// Header 读取请求头，键不区分大小写
func (r *Request) Header(key string) string { return r.header.Get(key) }

// Headers 请求头副本
func (r *Request) Headers() http.Header { return r.header.Clone() }

// Socket 所在连接
func (r *Request) Socket() *HTTPSocket { return r.socket }

// RemoteAddr 对端地址
func (r *Request) RemoteAddr() string { return r.socket.RemoteAddr() }

// Context 请求上下文，携带 Span 以及 Request/Response
func (r *Request) Context() context.Context { return r.ctx }

// IsUpgrade 请求携带 WebSocket 升级头
func (r *Request) IsUpgrade() bool { return r.socket.upgradeRequested }

// Body 请求体
// GET/HEAD 返回 http.NoBody；不读取请求体不会阻塞响应
func (r *Request) Body() io.ReadCloser {
	r.bodyOnce.Do(func() {
		if r.socket.bodyless {
			r.body = http.NoBody
			return
		}
		r.body = r.raw.Body()
	})
	return r.body
}

// HTTPRequest 转为 *http.Request，供 net/http 生态的框架使用
func (r *Request) HTTPRequest() *http.Request {
	hr := r.raw.Raw().WithContext(r.ctx)
	hr.Body = r.Body()
	return hr
}
