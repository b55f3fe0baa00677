package qiuws

import (
	"net/http"
	"sync"
)

// Response 单个响应
//
// 先确定状态码与响应头，再写响应体；响应头一旦发出不能再修改。
// End 幂等，连接中断后的写入静默丢弃。
type Response struct {
	socket *HTTPSocket
	req    *Request

	mu          sync.Mutex
	status      int
	header      http.Header
	headersSent bool // 状态码与响应头已确定
	staged      bool // 响应头已交给引擎
	finished    bool
	hijacked    bool
}

func newResponse(sock *HTTPSocket, req *Request) *Response {
	return &Response{
		socket: sock,
		req:    req,
		status: http.StatusOK,
		header: make(http.Header),
	}
}

// Socket 所在连接
func (r *Response) Socket() *HTTPSocket { return r.socket }

// StatusCode 当前状态码
func (r *Response) StatusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetStatus 设置状态码
func (r *Response) SetStatus(code int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headersSent {
		return ErrHeadersAlreadySent
	}
	r.status = code
	return nil
}

// SetHeader 设置响应头
func (r *Response) SetHeader(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headersSent {
		return ErrHeadersAlreadySent
	}
	r.header.Set(key, value)
	return nil
}

// AddHeader 追加响应头
func (r *Response) AddHeader(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headersSent {
		return ErrHeadersAlreadySent
	}
	r.header.Add(key, value)
	return nil
}

// DelHeader 删除响应头
func (r *Response) DelHeader(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headersSent {
		return ErrHeadersAlreadySent
	}
	r.header.Del(key)
	return nil
}

// GetHeader 读取已设置的响应头
func (r *Response) GetHeader(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.Get(key)
}

// WriteHead 一次性确定状态码与响应头
// 之后不能再修改响应头，重复调用返回 ErrHeadersAlreadySent
func (r *Response) WriteHead(status int, header http.Header) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headersSent {
		return ErrHeadersAlreadySent
	}
	r.status = status
	for k, vs := range header {
		r.header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	r.headersSent = true
	return nil
}

// HeadersSent 响应头是否已确定
func (r *Response) HeadersSent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headersSent
}

// Finished 响应是否已结束
func (r *Response) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// stageHeadLocked 把状态码与响应头交给引擎
func (r *Response) stageHeadLocked() {
	r.headersSent = true
	r.staged = true
	if r.socket.upgradeRequested && !r.hijacked {
		// 升级请求没有被 WebSocket 路由接管，响应后关闭连接
		r.header.Set("Connection", "close")
	}
	r.socket.raw.WriteStatus(r.status)
	for k, vs := range r.header {
		for _, v := range vs {
			r.socket.raw.WriteHeader(k, v)
		}
	}
}

// Write 写入响应体，首次写入时发出响应头
// 连接已中断时返回 len(p), nil
func (r *Response) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished || r.hijacked {
		return 0, ErrStreamDestroyed
	}
	if r.socket.Aborted() {
		return len(p), nil
	}
	r.socket.Cork(func() {
		if !r.staged {
			r.stageHeadLocked()
		}
		r.socket.write(p)
	})
	return len(p), nil
}

// WriteString 写入字符串
func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// Flush 立即发送已写入的数据
func (r *Response) Flush() {
	r.socket.raw.Flush()
}

// End 写入最后的数据并结束响应，重复调用无效
func (r *Response) End(p ...[]byte) error {
	r.mu.Lock()
	if r.finished || r.hijacked {
		r.mu.Unlock()
		return nil
	}
	r.finished = true

	var body []byte
	for _, b := range p {
		body = append(body, b...)
	}

	if !r.socket.Aborted() {
		if !r.staged {
			r.stageHeadLocked()
		}
		r.socket.end(body)
	} else {
		r.socket.finish()
	}
	upgradeFailed := r.socket.upgradeRequested
	status := r.status
	r.mu.Unlock()

	if upgradeFailed {
		r.socket.server.upgradeFailed(r.req, status)
	}
	return nil
}

// JSON 以 application/json 结束响应
func (r *Response) JSON(status int, body []byte) error {
	if err := r.SetStatus(status); err != nil {
		return err
	}
	if err := r.SetHeader("Content-Type", "application/json; charset=utf-8"); err != nil {
		return err
	}
	return r.End(body)
}

// Hijack 接管连接用于 WebSocket 升级，之后不能再通过 Response 写入
func (r *Response) Hijack() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished || r.headersSent {
		return ErrUpgradeFailed.WithMessage("响应已开始，无法接管连接")
	}
	r.hijacked = true
	return nil
}

// Hijacked 连接是否已被接管
func (r *Response) Hijacked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hijacked
}
