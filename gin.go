package qiuws

import (
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

// Router gin 路由组（*gin.Engine 与 *gin.RouterGroup 均满足）
type Router interface {
	gin.IRoutes
	BasePath() string
}

// Plugin 为 Server 挂载 WebSocketServer，并在 gin 上注册可升级路由
type Plugin struct {
	server *Server
	wss    *WebSocketServer
}

// NewPlugin 创建插件，日志默认沿用 Server 的日志
func NewPlugin(srv *Server, opts ...WebSocketOption) *Plugin {
	opts = append([]WebSocketOption{WithWebSocketLogger(srv.cfg.Logger)}, opts...)
	wss := NewWebSocketServer(opts...)
	wss.AddServer(srv)
	return &Plugin{server: srv, wss: wss}
}

// WebSocketServer 插件持有的 WebSocketServer
func (p *Plugin) WebSocketServer() *WebSocketServer {
	return p.wss
}

// Attach 让 srv 共享插件的 WebSocketServer（例如同一端口的 IPv4/IPv6 监听）
func (p *Plugin) Attach(srv *Server) {
	p.wss.AddServer(srv)
}

// GET 注册可升级路由
// 升级请求交给 handler；普通请求交给 WithFallback 指定的处理器，否则返回 426
func (p *Plugin) GET(group Router, relativePath string, handler WebSocketHandler, opts ...RouteOption) *WebSocketRoute {
	route := NewWebSocketRoute(p.wss, joinPaths(group.BasePath(), relativePath), handler, opts...)

	group.GET(relativePath, func(c *gin.Context) {
		req, res, ok := RequestFromContext(c.Request.Context())
		if ok && route.Serve(req, res) {
			c.Abort()
			return
		}
		if route.fallback != nil {
			route.fallback.ServeHTTP(c.Writer, c.Request)
			return
		}
		c.Header("Upgrade", "websocket")
		c.String(http.StatusUpgradeRequired, http.StatusText(http.StatusUpgradeRequired))
		c.Abort()
	})
	return route
}

func joinPaths(base, relative string) string {
	if relative == "" {
		return base
	}
	final := path.Join(base, relative)
	if strings.HasSuffix(relative, "/") && !strings.HasSuffix(final, "/") {
		return final + "/"
	}
	return final
}
