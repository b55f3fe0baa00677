package engine

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// HTTPRequest 原始请求句柄
type HTTPRequest struct {
	r *http.Request
}

func newHTTPRequest(r *http.Request) *HTTPRequest {
	return &HTTPRequest{r: r}
}

// Method 请求方法（大写）
func (q *HTTPRequest) Method() string { return q.r.Method }

// URL 请求路径与查询串
func (q *HTTPRequest) URL() string { return q.r.URL.RequestURI() }

// ParsedURL 解析后的 URL
func (q *HTTPRequest) ParsedURL() *url.URL { return q.r.URL }

// Query 查询参数
func (q *HTTPRequest) Query(key string) string { return q.r.URL.Query().Get(key) }

// Header 读取请求头，键不区分大小写
func (q *HTTPRequest) Header(key string) string { return q.r.Header.Get(key) }

// Headers 请求头（只读）
func (q *HTTPRequest) Headers() http.Header { return q.r.Header }

// Host 请求的 Host
func (q *HTTPRequest) Host() string { return q.r.Host }

// RemoteAddr 对端地址
func (q *HTTPRequest) RemoteAddr() string { return q.r.RemoteAddr }

// Body 请求体，仅在响应结束前可读
func (q *HTTPRequest) Body() io.ReadCloser { return q.r.Body }

// Context 请求上下文，客户端断开时取消
func (q *HTTPRequest) Context() context.Context { return q.r.Context() }

// Raw 底层 *http.Request
func (q *HTTPRequest) Raw() *http.Request { return q.r }
