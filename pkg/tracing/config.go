package tracing

import (
	"time"
)

// 导出器类型
const (
	ExporterOTLP     = "otlp"      // OTLP over HTTP
	ExporterOTLPGRPC = "otlp-grpc" // OTLP over gRPC
	ExporterStdout   = "stdout"
	ExporterNoop     = "noop"
)

// Config 链路追踪配置
type Config struct {
	ServiceName    string // 服务名称（必填）
	ServiceVersion string
	Environment    string // dev/staging/prod

	ExporterType     string            // otlp/otlp-grpc/stdout/noop
	ExporterEndpoint string            // 如 OTLP Collector 地址
	ExporterHeaders  map[string]string // 导出请求头（用于认证）
	Insecure         bool              // 不使用 TLS

	SamplingRate float64 // 0.0-1.0
	SamplingType string  // always/never/ratio/parent_based

	Enabled bool

	ResourceAttributes map[string]string

	BatchTimeout       time.Duration // 批量导出超时（默认 5s）
	MaxExportBatchSize int           // 默认 512
	MaxQueueSize       int           // 默认 2048
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "qiuws",
		ServiceVersion:     "1.0.0",
		Environment:        "development",
		ExporterType:       ExporterStdout,
		SamplingRate:       1.0,
		SamplingType:       "parent_based",
		Enabled:            true,
		ResourceAttributes: make(map[string]string),
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrInvalidConfig("service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return ErrInvalidConfig("sampling rate must be between 0.0 and 1.0")
	}
	switch c.ExporterType {
	case ExporterOTLP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop:
	default:
		return ErrInvalidConfig("invalid exporter type: " + c.ExporterType)
	}
	return nil
}

// ConfigError 配置错误
type ConfigError struct {
	message string
}

func (e *ConfigError) Error() string {
	return "tracing config error: " + e.message
}

// ErrInvalidConfig 创建配置错误
func ErrInvalidConfig(message string) error {
	return &ConfigError{message: message}
}
