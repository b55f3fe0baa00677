package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/qiuws"
	"github.com/tokmz/qiuws/pkg/logger"
	"github.com/tokmz/qiuws/pkg/tracing"
)

func main() {
	// 1. 初始化链路追踪
	cfg := tracing.DefaultConfig()
	cfg.ServiceName = "qiuws-tracing-example"
	cfg.ExporterType = tracing.ExporterStdout // 使用 stdout 导出器便于演示
	cfg.SamplingType = "always"
	tp, err := tracing.NewTracerProvider(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to create tracer provider: %v", err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			fmt.Printf("failed to shutdown tracer provider: %v\n", err)
		}
	}()

	// 2. 初始化日志
	l, err := logger.NewDevelopment()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer l.Sync()

	// 3. 每个请求一个 http.request Span，日志带 trace_id/span_id
	srv := qiuws.NewServer(func(req *qiuws.Request, res *qiuws.Response) {
		l.InfoContext(req.Context(), "handling request", zap.String("path", req.Path()))

		_, span := tracing.StartSpan(req.Context(), "render")
		body := []byte(`{"message":"Hello, World!"}`)
		span.End()

		_ = res.JSON(200, body)
	}, qiuws.WithLogger(l), qiuws.WithTracerProvider(tp))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv.OnListening(func(addr qiuws.Address) {
		fmt.Printf("curl http://%s/\n", addr)
	})
	if err := srv.Listen(ctx, qiuws.ListenOptions{Host: "localhost", Port: 3000, Signal: ctx}); err != nil {
		log.Fatalf("listen failed: %v", err)
	}
	<-ctx.Done()
}
