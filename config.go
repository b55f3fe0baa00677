package qiuws

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/qiuws/pkg/engine"
	"github.com/tokmz/qiuws/pkg/logger"
)

// Config 服务配置
type Config struct {
	// ConnectionTimeout 读取请求头与 keep-alive 空闲超时，0 表示不限制
	ConnectionTimeout time.Duration

	// MaxConnections 同时接受的连接数上限，0 表示不限制
	MaxConnections int

	// MaxHeaderBytes 最大请求头字节数
	MaxHeaderBytes int

	// PreferIPv6 localhost 与空主机解析为 IPv6
	PreferIPv6 bool

	// Banner 监听成功后打印启动信息
	Banner bool

	Logger         logger.Logger
	TracerProvider trace.TracerProvider
	Registry       *Registry
	Loop           *engine.Loop
}

// Option 配置选项函数
type Option func(*Config)

// defaultConfig 返回默认配置
func defaultConfig() *Config {
	return &Config{
		ConnectionTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
		Logger:            logger.NewNop(),
	}
}

// WithConnectionTimeout 设置连接超时
func WithConnectionTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectionTimeout = d
	}
}

// WithMaxConnections 设置最大连接数
func WithMaxConnections(n int) Option {
	return func(c *Config) {
		c.MaxConnections = n
	}
}

// WithMaxHeaderBytes 设置最大请求头字节数
func WithMaxHeaderBytes(n int) Option {
	return func(c *Config) {
		c.MaxHeaderBytes = n
	}
}

// WithPreferIPv6 localhost 与空主机优先解析为 IPv6
func WithPreferIPv6(prefer bool) Option {
	return func(c *Config) {
		c.PreferIPv6 = prefer
	}
}

// WithBanner 监听成功后打印启动信息
func WithBanner(show bool) Option {
	return func(c *Config) {
		c.Banner = show
	}
}

// WithLogger 设置日志，默认不输出
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithTracerProvider 设置 TracerProvider，默认使用 otel 全局 provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}

// WithRegistry 替换进程级端口登记表（测试中用于隔离）
func WithRegistry(r *Registry) Option {
	return func(c *Config) {
		c.Registry = r
	}
}

// WithLoop 指定事件循环，默认使用进程级循环
func WithLoop(loop *engine.Loop) Option {
	return func(c *Config) {
		c.Loop = loop
	}
}
