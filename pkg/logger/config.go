package logger

import (
	"io"
	"time"

	"go.uber.org/zap/zapcore"
)

// Format 日志格式
type Format string

const (
	// JSONFormat JSON 格式（生产环境推荐）
	JSONFormat Format = "json"
	// ConsoleFormat 控制台格式（开发环境推荐）
	ConsoleFormat Format = "console"
)

// IsValid 检查格式是否有效
func (f Format) IsValid() bool {
	return f == JSONFormat || f == ConsoleFormat
}

// Config 日志配置
type Config struct {
	Name   string // Logger 名称
	Level  Level  // 日志级别（默认 InfoLevel）
	Format Format // 日志格式（json/console，默认 json）

	// 输出配置
	Console bool          // 是否输出到控制台
	File    string        // 文件路径（空则不输出到文件）
	Rotate  *RotateConfig // 轮转配置（nil 则不轮转）
	Writer  io.Writer     // 额外输出（测试中常用 bytes.Buffer）

	Sampling *SamplingConfig // 采样配置（nil 则不采样）

	EnableCaller     bool // 是否记录调用位置
	EnableStacktrace bool // 是否记录堆栈（Error 及以上）

	EncoderConfig *zapcore.EncoderConfig // 自定义 Encoder 配置
	Hooks         []Hook                 // Hook 列表
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	// 未配置任何输出时默认输出到控制台
	if !c.Console && c.File == "" && c.Rotate == nil && c.Writer == nil {
		c.Console = true
	}
}

// RotateConfig 文件轮转配置（lumberjack）
type RotateConfig struct {
	Filename   string // 日志文件路径
	MaxSize    int    // 单文件最大大小（MB，默认 100MB）
	MaxAge     int    // 文件保留天数（默认 30 天）
	MaxBackups int    // 最多保留文件数（默认 10 个）
	LocalTime  bool   // 使用本地时间
	Compress   bool   // 是否压缩
}

func (r *RotateConfig) setDefaults() {
	if r.MaxSize == 0 {
		r.MaxSize = 100
	}
	if r.MaxAge == 0 {
		r.MaxAge = 30
	}
	if r.MaxBackups == 0 {
		r.MaxBackups = 10
	}
}

// SamplingConfig 采样配置
// 连接密集时 "websocket connection opened" 这类日志量很大，可按秒采样
type SamplingConfig struct {
	Tick       time.Duration // 采样周期（默认 1s）
	Initial    int           // 每周期前 N 条日志必定记录
	Thereafter int           // 之后每 M 条记录 1 条
}

func (s *SamplingConfig) setDefaults() {
	if s.Tick == 0 {
		s.Tick = time.Second
	}
	if s.Initial == 0 {
		s.Initial = 100
	}
	if s.Thereafter == 0 {
		s.Thereafter = 100
	}
}
