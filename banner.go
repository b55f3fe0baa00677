package qiuws

import (
	"fmt"
	"io"
	"runtime"
	"slices"
)

// Version 版本号
const Version = "0.1.0"

const banner = `
 ██████╗ ██╗██╗   ██╗██╗    ██╗███████╗
██╔═══██╗██║██║   ██║██║    ██║██╔════╝   事件循环 HTTP/WebSocket 服务
██║   ██║██║██║   ██║██║ █╗ ██║███████╗   open: %s
╚██████╔╝██║╚██████╔╝╚███╔███╔╝╚════██║   version: %s
 ╚══▀▀═╝ ╚═╝ ╚═════╝  ╚══╝╚══╝ ███████║
`

// printBanner 打印启动信息与 WebSocket 路由表
func (s *Server) printBanner(out io.Writer, addr Address) {
	open := "http://" + addr.String()

	fPrint(out, banner, open, Version)
	fPrint(out, "\n")

	if wss := s.WebSocketServer(); wss != nil {
		if routes := wss.Routes(); len(routes) > 0 {
			printRoutes(out, routes)
			fPrint(out, "\n")
		}
	}

	fPrint(out, "[qiuws] Go version: %s | OS: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fPrint(out, "[qiuws] connection timeout: %s | max connections: %d\n", s.cfg.ConnectionTimeout, s.cfg.MaxConnections)
	fPrint(out, "[qiuws] Listening on %s (%s)\n", addr, addr.Family)
}

const (
	wsColor    = "\033[36m" // 青色
	resetColor = "\033[0m"
)

// printRoutes 对齐打印可升级路由
func printRoutes(out io.Writer, routes []string) {
	routes = slices.Clone(routes)
	slices.Sort(routes)
	for _, r := range routes {
		fPrint(out, "[qiuws] %s%-4s%s %s\n", wsColor, "WS", resetColor, r)
	}
}

// fPrint 打印到 writer，忽略错误（banner 输出场景）
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
