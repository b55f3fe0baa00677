package qiuws

import (
	"fmt"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/tokmz/qiuws/pkg/config"
	"github.com/tokmz/qiuws/pkg/logger"
	"github.com/tokmz/qiuws/pkg/tracing"
)

// EnvPrefix 环境变量前缀，server.port -> QIUWS_SERVER_PORT
const EnvPrefix = "QIUWS"

// FileConfig 配置文件结构
type FileConfig struct {
	Server    ServerFileConfig    `mapstructure:"server" yaml:"server"`
	WebSocket WebSocketFileConfig `mapstructure:"websocket" yaml:"websocket"`
	Log       LogFileConfig       `mapstructure:"log" yaml:"log"`
	Tracing   TracingFileConfig   `mapstructure:"tracing" yaml:"tracing"`
}

// ServerFileConfig server 段
type ServerFileConfig struct {
	Host              string        `mapstructure:"host" yaml:"host"`
	Port              int           `mapstructure:"port" yaml:"port"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" yaml:"connection_timeout"`
	MaxConnections    int           `mapstructure:"max_connections" yaml:"max_connections"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`
	PreferIPv6        bool          `mapstructure:"prefer_ipv6" yaml:"prefer_ipv6"`
	Banner            bool          `mapstructure:"banner" yaml:"banner"`
}

// WebSocketFileConfig websocket 段
type WebSocketFileConfig struct {
	Compression            string        `mapstructure:"compression" yaml:"compression"`
	IdleTimeout            time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxPayloadLength       int64         `mapstructure:"max_payload_length" yaml:"max_payload_length"`
	MaxBackpressure        int           `mapstructure:"max_backpressure" yaml:"max_backpressure"`
	SendPingsAutomatically bool          `mapstructure:"send_pings_automatically" yaml:"send_pings_automatically"`
}

// LogFileConfig log 段
// MaxSize 大于 0 时按 lumberjack 轮转写入 File
type LogFileConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// TracingFileConfig tracing 段
type TracingFileConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName  string  `mapstructure:"service_name" yaml:"service_name"`
	Exporter     string  `mapstructure:"exporter" yaml:"exporter"`
	Endpoint     string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure     bool    `mapstructure:"insecure" yaml:"insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate"`
}

func fileDefaults() map[string]any {
	return map[string]any{
		"server.host":                        "",
		"server.port":                        3000,
		"server.connection_timeout":          "10s",
		"server.max_connections":             0,
		"server.max_header_bytes":            1 << 20,
		"server.prefer_ipv6":                 false,
		"server.banner":                      false,
		"websocket.compression":              "shared",
		"websocket.idle_timeout":             "16s",
		"websocket.max_payload_length":       16 * 1024 * 1024,
		"websocket.max_backpressure":         64 * 1024,
		"websocket.send_pings_automatically": true,
		"log.level":                          "info",
		"log.format":                         "json",
		"log.console":                        true,
		"tracing.enabled":                    false,
		"tracing.service_name":               "qiuws",
		"tracing.exporter":                   tracing.ExporterStdout,
		"tracing.sampling_rate":              1.0,
	}
}

// LoadConfig 读取配置文件，未出现的键使用默认值，可被 QIUWS_* 环境变量覆盖
// 返回的 *config.Config 可继续用于监听文件变化
func LoadConfig(path string, opts ...config.Option) (*FileConfig, *config.Config, error) {
	base := []config.Option{
		config.WithConfigFile(path),
		config.WithDefaults(fileDefaults()),
		config.WithEnvPrefix(EnvPrefix),
	}
	c := config.New(append(base, opts...)...)
	if err := c.Load(); err != nil {
		return nil, nil, err
	}
	fc := &FileConfig{}
	if err := c.Unmarshal(fc); err != nil {
		c.Close()
		return nil, nil, err
	}
	return fc, c, nil
}

// Options 转为 Server 选项（不含日志与追踪）
func (fc *FileConfig) Options() []Option {
	s := fc.Server
	return []Option{
		WithConnectionTimeout(s.ConnectionTimeout),
		WithMaxConnections(s.MaxConnections),
		WithMaxHeaderBytes(s.MaxHeaderBytes),
		WithPreferIPv6(s.PreferIPv6),
		WithBanner(s.Banner),
	}
}

// ListenOptions server.host 与 server.port
func (fc *FileConfig) ListenOptions() ListenOptions {
	return ListenOptions{Host: fc.Server.Host, Port: fc.Server.Port}
}

// WebSocketOptions 转为 WebSocket 选项
func (fc *FileConfig) WebSocketOptions() ([]WebSocketOption, error) {
	ws := fc.WebSocket
	compression, err := ParseCompression(ws.Compression)
	if err != nil {
		return nil, fmt.Errorf("websocket.compression: %w", err)
	}
	return []WebSocketOption{
		WithCompression(compression),
		WithIdleTimeout(ws.IdleTimeout),
		WithMaxPayloadLength(ws.MaxPayloadLength),
		WithMaxBackpressure(ws.MaxBackpressure),
		WithSendPingsAutomatically(ws.SendPingsAutomatically),
	}, nil
}

// NewLogger 按 log 段创建日志
func (fc *FileConfig) NewLogger() (logger.Logger, error) {
	l := fc.Log
	level, err := logger.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := []logger.Option{
		logger.WithName("qiuws"),
		logger.WithLevel(level),
		logger.WithFormat(logger.Format(l.Format)),
	}
	if l.Console {
		opts = append(opts, logger.WithConsoleOutput())
	}
	switch {
	case l.File != "" && l.MaxSize > 0:
		opts = append(opts, logger.WithRotateOutput(&logger.RotateConfig{
			Filename:   l.File,
			MaxSize:    l.MaxSize,
			MaxAge:     l.MaxAge,
			MaxBackups: l.MaxBackups,
			Compress:   l.Compress,
		}))
	case l.File != "":
		opts = append(opts, logger.WithFileOutput(l.File))
	}
	return logger.NewWithOptions(opts...)
}

// TracingConfig 按 tracing 段生成追踪配置
func (fc *FileConfig) TracingConfig() *tracing.Config {
	t := fc.Tracing
	cfg := tracing.DefaultConfig()
	cfg.Enabled = t.Enabled
	if t.ServiceName != "" {
		cfg.ServiceName = t.ServiceName
	}
	if t.Exporter != "" {
		cfg.ExporterType = t.Exporter
	}
	cfg.ExporterEndpoint = t.Endpoint
	cfg.Insecure = t.Insecure
	cfg.SamplingRate = t.SamplingRate
	return cfg
}

// YAML 输出生效配置
func (fc *FileConfig) YAML() ([]byte, error) {
	return yaml.Marshal(fc)
}
