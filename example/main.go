package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/qiuws"
	"github.com/tokmz/qiuws/pkg/tracing"
)

type echoReq struct {
	Text string `json:"text" binding:"required"`
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（可选）")
	flag.Parse()

	fc := &qiuws.FileConfig{}
	if *configPath != "" {
		loaded, cfg, err := qiuws.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("加载配置失败: %v", err)
		}
		defer cfg.Close()
		fc = loaded
	} else {
		fc.Server.Port = 3000
		fc.Server.ConnectionTimeout = 10 * time.Second
		fc.Server.Banner = true
		fc.WebSocket.Compression = "shared"
		fc.WebSocket.IdleTimeout = 16 * time.Second
		fc.WebSocket.SendPingsAutomatically = true
		fc.Log.Level = "info"
		fc.Log.Format = "console"
	}

	l, err := fc.NewLogger()
	if err != nil {
		log.Fatalf("创建日志失败: %v", err)
	}
	defer l.Sync()

	tp, err := tracing.NewTracerProvider(fc.TracingConfig())
	if err != nil {
		log.Fatalf("初始化链路追踪失败: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()

	wsOpts, err := fc.WebSocketOptions()
	if err != nil {
		log.Fatalf("WebSocket 配置错误: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	opts := append(fc.Options(), qiuws.WithLogger(l), qiuws.WithTracerProvider(tp))
	handler := qiuws.HTTPHandler(router)

	// 0.0.0.0 与 :: 使用同一端口，两个 Server 共享 WebSocket 连接
	v4 := qiuws.NewServer(handler, opts...)
	v6 := qiuws.NewServer(handler, append(opts, qiuws.WithBanner(false))...)
	plugin := qiuws.NewPlugin(v4, wsOpts...)

	router.GET("/hello", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Hello, World!"})
	})
	router.POST("/echo", func(c *gin.Context) {
		var req echoReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"text": req.Text})
	})

	plugin.GET(router, "/ws", func(ws *qiuws.WebSocket, req *qiuws.Request) error {
		ws.OnMessage(func(msg []byte, isBinary bool) {
			ws.SendText("Hello from Fastify!")
		})
		return nil
	})

	room := plugin.GET(router, "/chat", func(ws *qiuws.WebSocket, req *qiuws.Request) error {
		ws.Subscribe("lobby")
		ws.OnMessage(func(msg []byte, isBinary bool) {
			ws.Publish("lobby", msg, isBinary, false)
		})
		return nil
	}, qiuws.WithTopics("lobby"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host := fc.Server.Host
	port := fc.Server.Port
	g, gctx := errgroup.WithContext(ctx)
	if host != "" {
		g.Go(func() error {
			return v4.Listen(gctx, qiuws.ListenOptions{Host: host, Port: port, Signal: ctx})
		})
	} else {
		plugin.Attach(v6)
		g.Go(func() error {
			return v4.Listen(gctx, qiuws.ListenOptions{Host: "0.0.0.0", Port: port, Signal: ctx})
		})
		g.Go(func() error {
			// IPv6 不可用时只保留 IPv4
			if err := v6.Listen(gctx, qiuws.ListenOptions{Host: "::", Port: port, Signal: ctx}); err != nil {
				l.Warn("ipv6 listen failed", zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("监听失败: %v", err)
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			done := make(chan struct{})
			v6.Close()
			v4.Close(func() { close(done) })
			<-done
			l.Info("shutdown complete")
			return
		case <-ticker.C:
			room.Publish("lobby", []byte(`{"type":"heartbeat"}`), false, false)
		}
	}
}

