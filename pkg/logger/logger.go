package logger

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 日志接口
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)

	// 带 Context 的日志方法，自动附加 request_id、conn_id、trace_id、span_id
	DebugContext(ctx context.Context, msg string, fields ...zap.Field)
	InfoContext(ctx context.Context, msg string, fields ...zap.Field)
	WarnContext(ctx context.Context, msg string, fields ...zap.Field)
	ErrorContext(ctx context.Context, msg string, fields ...zap.Field)

	With(fields ...zap.Field) Logger        // 创建子 Logger
	Named(name string) Logger               // 创建带名称的子 Logger
	WithContext(ctx context.Context) Logger // 创建带 Context 字段的子 Logger
	Sync() error                            // 刷新缓冲区
	SetLevel(level Level)                   // 动态调整级别
	Level() Level                           // 获取当前级别
}

// logger 日志实现
type logger struct {
	zap   *zap.Logger
	level zap.AtomicLevel
}

// New 创建 Logger（使用 Config）
func New(config *Config) (Logger, error) {
	if config == nil {
		config = &Config{}
	}
	config.setDefaults()

	writers, err := buildWriters(config)
	if err != nil {
		return nil, err
	}
	if len(writers) == 0 {
		return nil, fmt.Errorf("no output configured")
	}

	level := zap.NewAtomicLevelAt(config.Level.toZapLevel())
	core := zapcore.NewCore(buildEncoder(config), zapcore.NewMultiWriteSyncer(writers...), level)

	if config.Sampling != nil {
		config.Sampling.setDefaults()
		core = zapcore.NewSamplerWithOptions(core, config.Sampling.Tick, config.Sampling.Initial, config.Sampling.Thereafter)
	}

	if len(config.Hooks) > 0 {
		core = &hookCore{Core: core, hooks: config.Hooks}
	}

	opts := []zap.Option{}
	if config.EnableCaller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if config.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	z := zap.New(core, opts...)
	if config.Name != "" {
		z = z.Named(config.Name)
	}
	return &logger{zap: z, level: level}, nil
}

// NewWithOptions 创建 Logger（使用 Options 模式）
func NewWithOptions(opts ...Option) (Logger, error) {
	config := &Config{}
	for _, opt := range opts {
		opt(config)
	}
	return New(config)
}

// NewNop 创建丢弃所有输出的 Logger，服务默认使用
func NewNop() Logger {
	return &logger{zap: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
}

// NewProduction 创建生产环境 Logger
func NewProduction() (Logger, error) {
	return NewWithOptions(
		WithLevel(InfoLevel),
		WithFormat(JSONFormat),
		WithConsoleOutput(),
		WithCaller(false),
		WithStacktrace(true),
	)
}

// NewDevelopment 创建开发环境 Logger
func NewDevelopment() (Logger, error) {
	return NewWithOptions(
		WithLevel(DebugLevel),
		WithFormat(ConsoleFormat),
		WithConsoleOutput(),
		WithCaller(true),
		WithStacktrace(true),
	)
}

// Zap 返回底层 zap.Logger，非本包实现返回 Nop
func Zap(l Logger) *zap.Logger {
	if impl, ok := l.(*logger); ok {
		return impl.zap
	}
	return zap.NewNop()
}

// StdLog 将 Logger 桥接为标准库 *log.Logger（用于 http.Server.ErrorLog）
func StdLog(l Logger) *log.Logger {
	return zap.NewStdLog(Zap(l))
}

// buildEncoder 构建 Encoder
func buildEncoder(config *Config) zapcore.Encoder {
	encoderConfig := config.EncoderConfig
	if encoderConfig == nil {
		encoderConfig = &zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
	}

	if config.Format == ConsoleFormat {
		return zapcore.NewConsoleEncoder(*encoderConfig)
	}
	return zapcore.NewJSONEncoder(*encoderConfig)
}

// buildWriters 构建 WriteSyncer
func buildWriters(config *Config) ([]zapcore.WriteSyncer, error) {
	var writers []zapcore.WriteSyncer

	if config.Console {
		writers = append(writers, zapcore.Lock(os.Stdout))
	}

	if config.File != "" {
		writer, _, err := zap.Open(config.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.File, err)
		}
		writers = append(writers, writer)
	}

	if config.Rotate != nil {
		config.Rotate.setDefaults()
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.Rotate.Filename,
			MaxSize:    config.Rotate.MaxSize,
			MaxAge:     config.Rotate.MaxAge,
			MaxBackups: config.Rotate.MaxBackups,
			LocalTime:  config.Rotate.LocalTime,
			Compress:   config.Rotate.Compress,
		}))
	}

	if config.Writer != nil {
		writers = append(writers, zapcore.AddSync(config.Writer))
	}

	return writers, nil
}

func (l *logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }

func (l *logger) DebugContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Debug(msg, appendContextFields(ctx, fields)...)
}

func (l *logger) InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Info(msg, appendContextFields(ctx, fields)...)
}

func (l *logger) WarnContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Warn(msg, appendContextFields(ctx, fields)...)
}

func (l *logger) ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Error(msg, appendContextFields(ctx, fields)...)
}

// With 创建子 Logger，与父 Logger 共享级别
func (l *logger) With(fields ...zap.Field) Logger {
	return &logger{zap: l.zap.With(fields...), level: l.level}
}

// Named 创建带名称的子 Logger
func (l *logger) Named(name string) Logger {
	return &logger{zap: l.zap.Named(name), level: l.level}
}

// WithContext 创建带 Context 字段的子 Logger
func (l *logger) WithContext(ctx context.Context) Logger {
	return l.With(appendContextFields(ctx, nil)...)
}

func (l *logger) Sync() error {
	return l.zap.Sync()
}

func (l *logger) SetLevel(level Level) {
	l.level.SetLevel(level.toZapLevel())
}

func (l *logger) Level() Level {
	return fromZapLevel(l.level.Level())
}

// appendContextFields 从 context.Context 提取上下文字段并追加用户字段
func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	out := make([]zap.Field, 0, len(fields)+4)

	if id := RequestID(ctx); id != "" {
		out = append(out, zap.String("request_id", id))
	}
	if id := ConnID(ctx); id != "" {
		out = append(out, zap.String("conn_id", id))
	}

	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		out = append(out,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	return append(out, fields...)
}
