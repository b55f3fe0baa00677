package engine

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrResponseDone 响应已结束、已升级或已中断
	ErrResponseDone = errors.New("engine: response already completed")
	// ErrInvalidKey Sec-WebSocket-Key 不合法或与请求不一致
	ErrInvalidKey = errors.New("engine: invalid Sec-WebSocket-Key")
	// ErrNotUpgradable 未注册 WebSocket 行为
	ErrNotUpgradable = errors.New("engine: no websocket behavior registered")
)

// HTTPResponse 原始响应句柄
//
// 所有方法都可以在任意 goroutine 调用；中断或结束后的写入直接丢弃。
type HTTPResponse struct {
	app      *App
	w        http.ResponseWriter
	r        *http.Request
	upgrader *websocket.Upgrader
	behavior *Behavior

	mu          sync.Mutex
	status      int
	headWritten bool
	ended       bool
	aborted     bool
	abortConn   bool
	corked      int
	onAborted   func()

	done     chan struct{}
	doneOnce sync.Once
}

func newHTTPResponse(a *App, w http.ResponseWriter, r *http.Request, up *websocket.Upgrader, b *Behavior) *HTTPResponse {
	return &HTTPResponse{
		app:      a,
		w:        w,
		r:        r,
		upgrader: up,
		behavior: b,
		status:   http.StatusOK,
		done:     make(chan struct{}),
	}
}

// finish 唤醒 ServeHTTP，调用方持有 mu
func (res *HTTPResponse) finish() {
	res.doneOnce.Do(func() { close(res.done) })
}

// WriteStatus 设置状态码，响应头发出后无效
func (res *HTTPResponse) WriteStatus(code int) {
	res.mu.Lock()
	defer res.mu.Unlock()
	if !res.headWritten && !res.ended {
		res.status = code
	}
}

// WriteHeader 追加响应头，响应头发出后无效
func (res *HTTPResponse) WriteHeader(key, value string) {
	res.mu.Lock()
	defer res.mu.Unlock()
	if !res.headWritten && !res.ended {
		res.w.Header().Add(key, value)
	}
}

func (res *HTTPResponse) writeHeadLocked() {
	if !res.headWritten {
		res.headWritten = true
		res.w.WriteHeader(res.status)
	}
}

// Write 写入响应体，首次写入时发出响应头
// 返回 false 表示连接已中断或响应已结束
func (res *HTTPResponse) Write(p []byte) bool {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.aborted || res.ended {
		return false
	}
	res.writeHeadLocked()
	if len(p) > 0 {
		if _, err := res.w.Write(p); err != nil {
			return false
		}
	}
	if res.corked == 0 {
		res.flushLocked()
	}
	return true
}

// End 写入最后的数据并结束响应
// 响应头尚未发出时设置 Content-Length
func (res *HTTPResponse) End(p []byte) {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.aborted || res.ended {
		return
	}
	allowed := bodyAllowed(res.r.Method, res.status)
	if !res.headWritten {
		if allowed {
			res.w.Header().Set("Content-Length", strconv.Itoa(len(p)))
		}
		res.writeHeadLocked()
	}
	if len(p) > 0 && allowed {
		_, _ = res.w.Write(p)
	}
	res.ended = true
	res.finish()
}

func bodyAllowed(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	return status != http.StatusNoContent && status != http.StatusNotModified && (status < 100 || status > 199)
}

// Close 立即终止连接
// 响应头未发出时以 Connection: close 结束，否则丢弃连接
func (res *HTTPResponse) Close() {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.aborted || res.ended {
		return
	}
	if !res.headWritten {
		res.w.Header().Set("Connection", "close")
		res.w.Header().Set("Content-Length", "0")
		res.writeHeadLocked()
	} else {
		res.abortConn = true
	}
	res.ended = true
	res.finish()
}

// Cork 期间的写入合并为一次 flush
func (res *HTTPResponse) Cork(fn func()) {
	res.mu.Lock()
	res.corked++
	res.mu.Unlock()

	defer func() {
		res.mu.Lock()
		res.corked--
		if res.corked == 0 && !res.aborted && !res.ended && res.headWritten {
			res.flushLocked()
		}
		res.mu.Unlock()
	}()
	fn()
}

// Flush 立即发送缓冲数据
func (res *HTTPResponse) Flush() {
	res.mu.Lock()
	defer res.mu.Unlock()
	if !res.aborted && !res.ended && res.headWritten {
		res.flushLocked()
	}
}

func (res *HTTPResponse) flushLocked() {
	if f, ok := res.w.(http.Flusher); ok {
		f.Flush()
	}
}

// OnAborted 注册中断回调，在 Loop 上执行；已中断时立即投递
func (res *HTTPResponse) OnAborted(fn func()) {
	res.mu.Lock()
	aborted := res.aborted
	if !aborted {
		res.onAborted = fn
	}
	res.mu.Unlock()
	if aborted && fn != nil {
		res.app.loop.Post(fn)
	}
}

// Aborted 连接是否已中断
func (res *HTTPResponse) Aborted() bool {
	res.mu.Lock()
	defer res.mu.Unlock()
	return res.aborted
}

// Ended 响应是否已结束（包括升级）
func (res *HTTPResponse) Ended() bool {
	res.mu.Lock()
	defer res.mu.Unlock()
	return res.ended
}

func (res *HTTPResponse) abort() {
	res.mu.Lock()
	if res.ended || res.aborted {
		res.mu.Unlock()
		return
	}
	res.aborted = true
	fn := res.onAborted
	res.onAborted = nil
	res.finish()
	res.mu.Unlock()

	if fn != nil {
		res.app.loop.Post(fn)
	}
}

func (res *HTTPResponse) shouldAbortConn() bool {
	res.mu.Lock()
	defer res.mu.Unlock()
	return res.abortConn
}

// Upgrade 完成 WebSocket 握手
//
// key 必须与请求的 Sec-WebSocket-Key 一致；protocol 非空时回写到响应；
// extensions 仅用于协商 permessage-deflate。成功后在 Loop 上触发 Behavior.Open。
func (res *HTTPResponse) Upgrade(userData any, key, protocol, extensions string) (*WebSocket, error) {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.aborted || res.ended {
		return nil, ErrResponseDone
	}
	if res.upgrader == nil || res.behavior == nil {
		return nil, ErrNotUpgradable
	}
	if !validKey(key) || key != res.r.Header.Get("Sec-WebSocket-Key") {
		res.failLocked(http.StatusBadRequest)
		return nil, ErrInvalidKey
	}

	hdr := http.Header{}
	if protocol != "" {
		hdr.Set("Sec-WebSocket-Protocol", protocol)
	}
	up := *res.upgrader
	up.EnableCompression = up.EnableCompression && strings.Contains(extensions, "permessage-deflate")
	up.Error = func(w http.ResponseWriter, _ *http.Request, status int, reason error) {
		w.Header().Set("Connection", "close")
		http.Error(w, http.StatusText(status), status)
	}

	conn, err := up.Upgrade(res.w, res.r, hdr)
	res.headWritten = true
	res.ended = true
	res.finish()
	if err != nil {
		return nil, fmt.Errorf("engine: upgrade: %w", err)
	}

	ws := newWebSocket(res.app, res.behavior, conn, userData, res.r.RemoteAddr)
	res.app.log.Debug("websocket upgraded", zap.String("remote", res.r.RemoteAddr))
	ws.start()
	return ws, nil
}

// failLocked 以指定状态码结束并关闭连接
func (res *HTTPResponse) failLocked(status int) {
	res.w.Header().Set("Connection", "close")
	http.Error(res.w, http.StatusText(status), status)
	res.headWritten = true
	res.ended = true
	res.finish()
}

// validKey base64 编码的 16 字节随机数
func validKey(key string) bool {
	if key == "" {
		return false
	}
	b, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(b) == 16
}
