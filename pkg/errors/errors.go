package errors

import "errors"

// Error 带错误码的错误
//
// 错误码按模块分段：
//
//	3xxx 配置
//	4xxx 监听与连接
type Error struct {
	Code     int    `json:"code"`    // 错误码
	Message  string `json:"message"` // 错误信息
	HttpCode int    `json:"-"`       // http状态码
	Err      error  `json:"-"`       // 原始错误
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 实现 errors.Unwrap 接口
func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建新的错误
// code 错误码
// httpCode http状态码，0 时取 500
// message 错误信息
// err 原始错误，可为 nil
func New(code, httpCode int, message string, err error) *Error {
	if httpCode == 0 {
		httpCode = 500
	}
	return &Error{
		Code:     code,
		HttpCode: httpCode,
		Message:  message,
		Err:      err,
	}
}

// WithError 添加原始错误（返回新实例，不修改原错误）
func (e *Error) WithError(err error) *Error {
	return &Error{
		Code:     e.Code,
		HttpCode: e.HttpCode,
		Message:  e.Message,
		Err:      err,
	}
}

// WithMessage 替换错误信息（返回新实例，不修改原错误）
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		Code:     e.Code,
		HttpCode: e.HttpCode,
		Message:  message,
		Err:      e.Err,
	}
}

// Is 检查错误是否为指定类型
// 当 target 也是 *Error 时，比较 Code 是否相同
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if ok {
		return e.Code == t.Code
	}
	return false
}

// Is 检查错误链中是否包含 target
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As 在错误链中查找第一个匹配 target 类型的错误
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Code 返回错误链中第一个 *Error 的错误码，不存在时返回 0
func Code(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// HTTPStatus 返回错误链中第一个 *Error 的 http 状态码，不存在时返回 500
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HttpCode
	}
	return 500
}
