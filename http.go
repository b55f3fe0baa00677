package qiuws

import (
	"net/http"

	"go.uber.org/zap"
)

// HTTPHandler 把 net/http 处理器接入 Server
//
// h 在独立 goroutine 中执行，阻塞读取请求体或长时间处理不会占用事件循环。
// h 返回后自动结束响应。
func HTTPHandler(h http.Handler) Handler {
	return func(req *Request, res *Response) {
		go serveHTTP(h, req, res)
	}
}

func serveHTTP(h http.Handler, req *Request, res *Response) {
	rw := &responseWriter{res: res, header: make(http.Header)}
	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				req.socket.Close()
				return
			}
			req.socket.server.logger.ErrorContext(req.Context(), "http handler panic",
				zap.String("method", req.Method()),
				zap.String("url", req.URL()),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			if res.HeadersSent() {
				req.socket.Close()
				return
			}
			_ = res.SetStatus(http.StatusInternalServerError)
			_ = res.End([]byte(http.StatusText(http.StatusInternalServerError)))
			return
		}
		rw.finish()
	}()
	h.ServeHTTP(rw, req.HTTPRequest())
}

// responseWriter http.ResponseWriter 适配 Response
type responseWriter struct {
	res         *Response
	header      http.Header
	wroteHeader bool
}

func (rw *responseWriter) Header() http.Header {
	return rw.header
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader || rw.res.Hijacked() {
		return
	}
	// 1xx 不确定最终状态
	if code >= 100 && code < 200 {
		return
	}
	rw.wroteHeader = true
	_ = rw.res.WriteHead(code, rw.header)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	if rw.res.Hijacked() {
		return 0, http.ErrHijacked
	}
	if !rw.wroteHeader {
		if rw.header.Get("Content-Type") == "" && len(p) > 0 {
			rw.header.Set("Content-Type", http.DetectContentType(p))
		}
		rw.WriteHeader(http.StatusOK)
	}
	return rw.res.Write(p)
}

func (rw *responseWriter) Flush() {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	rw.res.Flush()
}

// finish 处理器返回后结束响应
func (rw *responseWriter) finish() {
	if rw.res.Hijacked() {
		return
	}
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	_ = rw.res.End()
}
