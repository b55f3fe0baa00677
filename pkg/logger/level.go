package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level 日志级别
type Level int8

const (
	// DebugLevel 调试信息（开发环境）
	DebugLevel Level = iota - 1
	// InfoLevel 常规信息（默认级别）
	InfoLevel
	// WarnLevel 警告信息
	WarnLevel
	// ErrorLevel 错误信息
	ErrorLevel
)

// String 返回级别名称
func (l Level) String() string {
	return l.toZapLevel().String()
}

// ParseLevel 解析级别名称（不区分大小写），空字符串返回 InfoLevel
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) toZapLevel() zapcore.Level {
	return zapcore.Level(l)
}

func fromZapLevel(level zapcore.Level) Level {
	return Level(level)
}
