package config

import (
	"errors"
	"io/fs"

	qerrors "github.com/tokmz/qiuws/pkg/errors"
)

var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = qerrors.New(3001, 500, "配置文件未找到", nil)
	// ErrConfigDecodeFailed 配置反序列化失败
	ErrConfigDecodeFailed = qerrors.New(3002, 500, "配置解析失败", nil)
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = qerrors.New(3003, 500, "配置读取失败", nil)
)

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
